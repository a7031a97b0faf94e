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
	"io"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/OpenPSG/ica/timeseries"
)

// Save serializes the fitted model: component-count parameters,
// channel metadata, exclusion list, pre-whitener, PCA mean, basis and
// explained variance, and the mixing/unmixing matrices. Fails with
// ErrNotFitted on an unfitted model.
func (m *ICA) Save(w io.Writer) error {
	if err := m.checkFitted(); err != nil {
		return err
	}

	chNames := make([]string, len(m.channels))
	chTypes := make([]string, len(m.channels))
	for i, ch := range m.channels {
		chNames[i] = ch.Name
		chTypes[i] = string(ch.Type)
	}

	exclude := make([]int64, len(m.exclude))
	for i, c := range m.exclude {
		exclude[i] = int64(c)
	}

	pcaRows, pcaCols := m.pca.components.Dims()
	unmixRows, unmixCols := m.unmixing.Dims()
	mixRows, mixCols := m.mixing.Dims()

	blocks := []block{
		intsBlock("params", []int64{
			int64(m.nComponents.kind), int64(m.nComponents.n),
			int64(m.nPCARequested.kind), int64(m.nPCARequested.n),
			int64(m.maxPCA), int64(m.nComp), int64(m.nPCA),
			int64(m.nSamples), int64(m.fitModality),
			m.randomState, int64(m.maxIter),
		}),
		floatsBlock("params_float", []float64{
			m.nComponents.fraction, m.nPCARequested.fraction, m.sfreq, m.tol,
		}),
		stringsBlock("ch_names", chNames),
		stringsBlock("ch_types", chTypes),
		intsBlock("exclude", exclude),
		floatsBlock("pre_whitener", m.preWhitener),
		floatsBlock("pca_mean", m.pca.mean),
		matrixBlock("pca_components", pcaRows, pcaCols, denseData(m.pca.components)),
		floatsBlock("pca_explained_var", m.pca.explainedVar),
		matrixBlock("unmixing_matrix", unmixRows, unmixCols, denseData(m.unmixing)),
		matrixBlock("mixing_matrix", mixRows, mixCols, denseData(m.mixing)),
	}

	return writeContainer(w, blocks)
}

// ReadICA deserializes a fitted model. The returned model behaves like
// the one that was saved: it is fitted (re-fitting fails) and carries
// a no-op logger until SetLogger is called.
func ReadICA(r io.Reader) (*ICA, error) {
	blocks, err := readContainer(r)
	if err != nil {
		return nil, err
	}

	params, err := requireBlock(blocks, "params", blockInts, 11)
	if err != nil {
		return nil, err
	}
	paramsFloat, err := requireBlock(blocks, "params_float", blockFloats, 4)
	if err != nil {
		return nil, err
	}

	chNames, err := requireBlock(blocks, "ch_names", blockStrings, -1)
	if err != nil {
		return nil, err
	}
	chTypes, err := requireBlock(blocks, "ch_types", blockStrings, len(chNames.Strings))
	if err != nil {
		return nil, err
	}

	channels := make([]timeseries.Channel, len(chNames.Strings))
	for i := range channels {
		channels[i] = timeseries.Channel{
			Name: chNames.Strings[i],
			Type: timeseries.ChannelType(chTypes.Strings[i]),
		}
	}

	excludeBlk, err := requireBlock(blocks, "exclude", blockInts, -1)
	if err != nil {
		return nil, err
	}
	exclude := make([]int, len(excludeBlk.Ints))
	for i, c := range excludeBlk.Ints {
		exclude[i] = int(c)
	}

	preWhitener, err := requireBlock(blocks, "pre_whitener", blockFloats, len(channels))
	if err != nil {
		return nil, err
	}
	pcaMean, err := requireBlock(blocks, "pca_mean", blockFloats, len(channels))
	if err != nil {
		return nil, err
	}
	pcaComponents, err := requireBlock(blocks, "pca_components", blockFloats, -1)
	if err != nil {
		return nil, err
	}
	explainedVar, err := requireBlock(blocks, "pca_explained_var", blockFloats, pcaComponents.Rows)
	if err != nil {
		return nil, err
	}
	unmixing, err := requireBlock(blocks, "unmixing_matrix", blockFloats, -1)
	if err != nil {
		return nil, err
	}
	mixing, err := requireBlock(blocks, "mixing_matrix", blockFloats, -1)
	if err != nil {
		return nil, err
	}

	m := &ICA{
		nComponents: ComponentCount{
			kind:     countKind(params.Ints[0]),
			n:        int(params.Ints[1]),
			fraction: paramsFloat.Floats[0],
		},
		nPCARequested: ComponentCount{
			kind:     countKind(params.Ints[2]),
			n:        int(params.Ints[3]),
			fraction: paramsFloat.Floats[1],
		},
		maxPCA:      int(params.Ints[4]),
		randomState: params.Ints[9],
		maxIter:     int(params.Ints[10]),
		tol:         paramsFloat.Floats[3],
		logger:      zap.NewNop(),
		fitted:      true,
		fitModality: modality(params.Ints[8]),
		channels:    channels,
		sfreq:       paramsFloat.Floats[2],
		nSamples:    int(params.Ints[7]),
		preWhitener: preWhitener.Floats,
		nComp:       int(params.Ints[5]),
		nPCA:        int(params.Ints[6]),
		exclude:     exclude,
		pca: &pca{
			mean:         pcaMean.Floats,
			components:   mat.NewDense(pcaComponents.Rows, pcaComponents.Cols, pcaComponents.Floats),
			explainedVar: explainedVar.Floats,
		},
		unmixing: mat.NewDense(unmixing.Rows, unmixing.Cols, unmixing.Floats),
		mixing:   mat.NewDense(mixing.Rows, mixing.Cols, mixing.Floats),
	}

	if m.nComp < 1 || m.nComp > pcaComponents.Rows {
		return nil, fmt.Errorf("corrupt container: resolved component count %d out of range", m.nComp)
	}
	if unmixing.Rows != m.nComp || unmixing.Cols != m.nComp {
		return nil, fmt.Errorf("corrupt container: unmixing matrix is %dx%d, want %dx%d",
			unmixing.Rows, unmixing.Cols, m.nComp, m.nComp)
	}
	if pcaComponents.Cols != len(channels) {
		return nil, fmt.Errorf("corrupt container: PCA basis has %d channels, want %d",
			pcaComponents.Cols, len(channels))
	}
	for _, v := range preWhitener.Floats {
		if v == 0 || math.IsNaN(v) {
			return nil, fmt.Errorf("corrupt container: invalid pre-whitener")
		}
	}

	return m, nil
}

// SetLogger replaces the model's logger (e.g., after ReadICA).
func (m *ICA) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m.logger = logger
}

// requireBlock fetches a block, checking kind and element count.
// A want of -1 skips the count check.
func requireBlock(blocks map[string]block, name, kind string, want int) (block, error) {
	blk, ok := blocks[name]
	if !ok {
		return block{}, fmt.Errorf("missing block %q", name)
	}
	if blk.Kind != kind {
		return block{}, fmt.Errorf("block %q has kind %q, want %q", name, blk.Kind, kind)
	}
	if want >= 0 && blk.Rows*blk.Cols != want {
		return block{}, fmt.Errorf("block %q has %d elements, want %d", name, blk.Rows*blk.Cols, want)
	}
	return blk, nil
}

// denseData returns the matrix elements in row-major order.
func denseData(d *mat.Dense) []float64 {
	r, c := d.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, d.RawRowView(i)...)
	}
	return out
}
