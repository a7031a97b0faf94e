// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package ica

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/OpenPSG/ica/timeseries"
)

// SourceOptions bounds a source extraction to a sample window. Stop of
// 0 means the end of the data.
type SourceOptions struct {
	Start, Stop int
}

// GetSourcesRaw projects a continuous recording onto the independent
// components, returning one time course per resolved component
// (components x samples).
func (m *ICA) GetSourcesRaw(raw *timeseries.Raw, opts SourceOptions) (*mat.Dense, error) {
	if err := m.checkModality(modalityRaw); err != nil {
		return nil, err
	}
	rows, err := m.fitRows(raw.Channels)
	if err != nil {
		return nil, err
	}
	data, err := sliceWindow(raw.Data, rows, opts.Start, opts.Stop, 1)
	if err != nil {
		return nil, err
	}
	return m.transform(data), nil
}

// GetSourcesEpochs projects epoched data onto the independent
// components, one components x samples matrix per trial.
func (m *ICA) GetSourcesEpochs(epochs *timeseries.Epochs) ([]*mat.Dense, error) {
	if err := m.checkModality(modalityEpochs); err != nil {
		return nil, err
	}
	rows, err := m.fitRows(epochs.Channels)
	if err != nil {
		return nil, err
	}
	out := make([]*mat.Dense, epochs.NTrials())
	for t, trial := range epochs.Data {
		data, err := sliceWindow(trial, rows, 0, 0, 1)
		if err != nil {
			return nil, err
		}
		out[t] = m.transform(data)
	}
	return out, nil
}

// PickOptions controls sensor-space reconstruction.
type PickOptions struct {
	// Include keeps only the listed components. Mutually exclusive
	// with Exclude.
	Include []int
	// Exclude removes the listed components. Merged into the model's
	// stored exclusion list, never replacing it.
	Exclude []int
	// NPCAComponents overrides the number of PCA dimensions kept for
	// this reconstruction. Default uses the value resolved at fit time.
	NPCAComponents ComponentCount
}

// PickSourcesRaw reconstructs sensor-space data from a continuous
// recording with the excluded components zeroed out. Channels not used
// during fitting pass through unchanged. With nothing excluded and the
// fit-time PCA dimension, the picked channels are recovered to
// numerical precision.
func (m *ICA) PickSourcesRaw(raw *timeseries.Raw, opts PickOptions) (*timeseries.Raw, error) {
	if err := m.checkModality(modalityRaw); err != nil {
		return nil, err
	}
	if !raw.Preloaded {
		return nil, ErrNotPreloaded
	}
	rows, err := m.fitRows(raw.Channels)
	if err != nil {
		return nil, err
	}
	silenced, nPCA, err := m.resolvePick(opts)
	if err != nil {
		return nil, err
	}

	data, err := sliceWindow(raw.Data, rows, 0, 0, 1)
	if err != nil {
		return nil, err
	}
	rebuilt := m.reconstruct(data, silenced, nPCA)

	out := raw.Copy()
	for i, r := range rows {
		for j := 0; j < raw.NSamples(); j++ {
			out.Data.Set(r, j, rebuilt.At(i, j))
		}
	}
	return out, nil
}

// PickSourcesEpochs reconstructs sensor-space data from epoched data
// with the excluded components zeroed out.
func (m *ICA) PickSourcesEpochs(epochs *timeseries.Epochs, opts PickOptions) (*timeseries.Epochs, error) {
	if err := m.checkModality(modalityEpochs); err != nil {
		return nil, err
	}
	if !epochs.Preloaded {
		return nil, ErrNotPreloaded
	}
	rows, err := m.fitRows(epochs.Channels)
	if err != nil {
		return nil, err
	}
	silenced, nPCA, err := m.resolvePick(opts)
	if err != nil {
		return nil, err
	}

	out := epochs.Copy()
	for t, trial := range epochs.Data {
		data, err := sliceWindow(trial, rows, 0, 0, 1)
		if err != nil {
			return nil, err
		}
		rebuilt := m.reconstruct(data, silenced, nPCA)
		for i, r := range rows {
			for j := 0; j < epochs.NSamples(); j++ {
				out.Data[t].Set(r, j, rebuilt.At(i, j))
			}
		}
	}
	return out, nil
}

// SourcesAsRaw exports the component time courses as a new continuous
// recording with synthetic per-component channel names. Components
// already excluded are listed as bad channels, and channels not used
// during fitting are appended unchanged.
func (m *ICA) SourcesAsRaw(raw *timeseries.Raw, opts SourceOptions) (*timeseries.Raw, error) {
	sources, err := m.GetSourcesRaw(raw, opts)
	if err != nil {
		return nil, err
	}
	_, ns := sources.Dims()

	fitNames := m.ChannelNames()
	var restRows []int
	for i, ch := range raw.Channels {
		if !slices.Contains(fitNames, ch.Name) {
			restRows = append(restRows, i)
		}
	}

	channels := make([]timeseries.Channel, 0, m.nComp+len(restRows))
	var bads []string
	for c := 0; c < m.nComp; c++ {
		name := componentName(c)
		channels = append(channels, timeseries.Channel{Name: name, Type: timeseries.Misc})
		if slices.Contains(m.exclude, c) {
			bads = append(bads, name)
		}
	}

	data := mat.NewDense(len(channels)+len(restRows), ns, nil)
	for c := 0; c < m.nComp; c++ {
		for j := 0; j < ns; j++ {
			data.Set(c, j, sources.At(c, j))
		}
	}
	for i, r := range restRows {
		channels = append(channels, raw.Channels[r])
		for j := 0; j < ns; j++ {
			data.Set(m.nComp+i, j, raw.Data.At(r, opts.Start+j))
		}
	}

	out, err := timeseries.NewRaw(channels, raw.SFreq, data)
	if err != nil {
		return nil, err
	}
	out.Bads = bads
	out.FirstSamp = raw.FirstSamp + opts.Start
	return out, nil
}

// SourcesAsEpochs exports the component time courses as new epoched
// data containing only the component channels, preserving events.
func (m *ICA) SourcesAsEpochs(epochs *timeseries.Epochs) (*timeseries.Epochs, error) {
	sources, err := m.GetSourcesEpochs(epochs)
	if err != nil {
		return nil, err
	}

	channels := make([]timeseries.Channel, m.nComp)
	var bads []string
	for c := 0; c < m.nComp; c++ {
		name := componentName(c)
		channels[c] = timeseries.Channel{Name: name, Type: timeseries.Misc}
		if slices.Contains(m.exclude, c) {
			bads = append(bads, name)
		}
	}

	out, err := timeseries.NewEpochs(channels, epochs.SFreq, epochs.Events, sources)
	if err != nil {
		return nil, err
	}
	out.Bads = bads
	return out, nil
}

func componentName(c int) string {
	return fmt.Sprintf("ICA %03d", c+1)
}

// fitRows maps the channels used at fit time onto rows of a query data
// source by name.
func (m *ICA) fitRows(channels []timeseries.Channel) ([]int, error) {
	rows := make([]int, len(m.channels))
	for i, fitCh := range m.channels {
		rows[i] = -1
		for r, ch := range channels {
			if ch.Name == fitCh.Name {
				rows[i] = r
				break
			}
		}
		if rows[i] == -1 {
			return nil, fmt.Errorf("%w: channel %q used for fitting is not present", ErrBadConfig, fitCh.Name)
		}
	}
	return rows, nil
}

// transform maps picked sensor data (channels x samples) to component
// time courses via the pre-whitener, PCA basis and unmixing matrix.
func (m *ICA) transform(data *mat.Dense) *mat.Dense {
	scores := m.pca.project(m.prewhiten(data), m.nComp)
	var src mat.Dense
	src.Mul(m.unmixing, scores)
	return &src
}

// prewhiten returns a unit-variance scaled copy of the data.
func (m *ICA) prewhiten(data *mat.Dense) *mat.Dense {
	nch, ns := data.Dims()
	out := mat.NewDense(nch, ns, nil)
	for i := 0; i < nch; i++ {
		src := data.RawRowView(i)
		dst := out.RawRowView(i)
		for j, v := range src {
			dst[j] = v / m.preWhitener[i]
		}
	}
	return out
}

// resolvePick turns PickOptions into the set of components to silence
// and the PCA dimension to keep. The exclude path mutates the stored
// exclusion list (merge, not replace); the include path leaves it
// untouched.
func (m *ICA) resolvePick(opts PickOptions) ([]int, int, error) {
	if len(opts.Include) > 0 && len(opts.Exclude) > 0 {
		return nil, 0, fmt.Errorf("%w: include and exclude are mutually exclusive", ErrBadConfig)
	}

	nPCA := m.nPCA
	if !opts.NPCAComponents.IsDefault() {
		resolved, err := opts.NPCAComponents.resolve(m.pca.explainedVar)
		if err != nil {
			return nil, 0, err
		}
		nPCA = resolved
	}
	if nPCA < m.nComp {
		nPCA = m.nComp
	}
	if nPCA > m.pca.nComponents() {
		nPCA = m.pca.nComponents()
	}

	var silenced []int
	if len(opts.Include) > 0 {
		include, err := m.cleanComponents(opts.Include)
		if err != nil {
			return nil, 0, err
		}
		for c := 0; c < m.nComp; c++ {
			if !slices.Contains(include, c) {
				silenced = append(silenced, c)
			}
		}
	} else {
		if err := m.mergeExclude(opts.Exclude); err != nil {
			return nil, 0, err
		}
		silenced = slices.Clone(m.exclude)
	}
	return silenced, nPCA, nil
}

// reconstruct inverts the unmixing/whitening chain over the picked
// channels, zeroing the silenced component time courses and any PCA
// dimension beyond nPCA.
func (m *ICA) reconstruct(data *mat.Dense, silenced []int, nPCA int) *mat.Dense {
	nch, ns := data.Dims()

	scores := m.pca.project(m.prewhiten(data), nPCA)
	top := scores.Slice(0, m.nComp, 0, ns).(*mat.Dense)

	var src mat.Dense
	src.Mul(m.unmixing, top)
	for _, c := range silenced {
		row := src.RawRowView(c)
		for j := range row {
			row[j] = 0
		}
	}

	var back mat.Dense
	back.Mul(m.mixing, &src)
	top.Copy(&back)

	out := m.pca.inverse(scores)
	for i := 0; i < nch; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] *= m.preWhitener[i]
		}
	}
	return out
}
