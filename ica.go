// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package ica implements independent component analysis for MEG/EEG
// artifact detection and removal: PCA whitening, a fixed-point
// unmixing solver, component scoring against physiological reference
// signals, and sensor-space reconstruction with selected components
// excluded.
package ica

import (
	"fmt"
	"math"
	"math/rand"
	"slices"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/OpenPSG/ica/timeseries"
)

type modality uint8

const (
	modalityNone modality = iota
	modalityRaw
	modalityEpochs
)

func (m modality) String() string {
	switch m {
	case modalityRaw:
		return "raw"
	case modalityEpochs:
		return "epochs"
	default:
		return "none"
	}
}

// Config holds the fit parameters of an ICA model.
type Config struct {
	// NComponents is the number of independent components to extract.
	// Default resolves to the full PCA rank.
	NComponents ComponentCount
	// NPCAComponents is the number of PCA dimensions retained during
	// reconstruction. Default resolves to MaxPCAComponents.
	NPCAComponents ComponentCount
	// MaxPCAComponents caps the PCA rank considered. Zero means the
	// number of picked channels.
	MaxPCAComponents int
	// RandomState seeds the unmixing solver for deterministic fits.
	RandomState int64
	// MaxIter bounds the fixed-point iteration (default 200).
	MaxIter int
	// Tol is the unmixing convergence tolerance (default 1e-4).
	Tol float64
	// Logger receives one record per rejected buffer during fitting.
	// Defaults to a no-op logger.
	Logger *zap.Logger
}

// ICA is an artifact-separation transform fitted to sensor data. A
// model is fitted exactly once; afterwards its matrices are immutable
// except when replaced wholesale by ReadICA. An ICA value is not safe
// for concurrent use.
type ICA struct {
	nComponents   ComponentCount
	nPCARequested ComponentCount
	maxPCA        int
	randomState   int64
	maxIter       int
	tol           float64
	logger        *zap.Logger

	fitted      bool
	fitModality modality
	channels    []timeseries.Channel
	sfreq       float64
	nSamples    int
	preWhitener []float64
	pca         *pca
	nComp       int
	nPCA        int
	unmixing    *mat.Dense
	mixing      *mat.Dense
	exclude     []int
}

// New validates the configuration and returns an unfitted model.
func New(cfg Config) (*ICA, error) {
	if cfg.MaxPCAComponents < 0 {
		return nil, fmt.Errorf("%w: max PCA components must not be negative, got %d", ErrBadConfig, cfg.MaxPCAComponents)
	}
	if err := cfg.NComponents.validate(cfg.MaxPCAComponents); err != nil {
		return nil, err
	}
	if err := cfg.NPCAComponents.validate(cfg.MaxPCAComponents); err != nil {
		return nil, err
	}

	m := &ICA{
		nComponents:   cfg.NComponents,
		nPCARequested: cfg.NPCAComponents,
		maxPCA:        cfg.MaxPCAComponents,
		randomState:   cfg.RandomState,
		maxIter:       cfg.MaxIter,
		tol:           cfg.Tol,
		logger:        cfg.Logger,
	}
	if m.maxIter <= 0 {
		m.maxIter = 200
	}
	if m.tol <= 0 {
		m.tol = 1e-4
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m, nil
}

func (m *ICA) String() string {
	if !m.fitted {
		return fmt.Sprintf("ICA(n_components=%s, unfitted)", m.nComponents)
	}
	return fmt.Sprintf("ICA(n_components=%d, n_pca_components=%d, fitted on %s, %d samples)",
		m.nComp, m.nPCA, m.fitModality, m.nSamples)
}

// Fitted reports whether the model has been fitted.
func (m *ICA) Fitted() bool { return m.fitted }

// NComponents returns the resolved component count, or 0 when the
// model is unfitted.
func (m *ICA) NComponents() int { return m.nComp }

// NSamples returns the number of samples the fit actually used, after
// windowing, decimation and buffer rejection.
func (m *ICA) NSamples() int { return m.nSamples }

// ChannelNames returns the names of the channels used for fitting.
func (m *ICA) ChannelNames() []string {
	names := make([]string, len(m.channels))
	for i, ch := range m.channels {
		names[i] = ch.Name
	}
	return names
}

// Exclude returns the components currently marked for removal.
func (m *ICA) Exclude() []int { return slices.Clone(m.exclude) }

// SetExclude replaces the exclusion list. Indices are deduplicated,
// sorted and validated against the resolved component count.
func (m *ICA) SetExclude(components []int) error {
	if err := m.checkFitted(); err != nil {
		return err
	}
	cleaned, err := m.cleanComponents(components)
	if err != nil {
		return err
	}
	m.exclude = cleaned
	return nil
}

// mergeExclude unions the given components into the stored exclusion
// list; the list is never replaced by a pick operation.
func (m *ICA) mergeExclude(components []int) error {
	cleaned, err := m.cleanComponents(components)
	if err != nil {
		return err
	}
	for _, c := range cleaned {
		if !slices.Contains(m.exclude, c) {
			m.exclude = append(m.exclude, c)
		}
	}
	slices.Sort(m.exclude)
	return nil
}

func (m *ICA) cleanComponents(components []int) ([]int, error) {
	cleaned := slices.Clone(components)
	slices.Sort(cleaned)
	cleaned = slices.Compact(cleaned)
	for _, c := range cleaned {
		if c < 0 || c >= m.nComp {
			return nil, fmt.Errorf("%w: component index %d out of range [0, %d)", ErrBadConfig, c, m.nComp)
		}
	}
	return cleaned, nil
}

func (m *ICA) checkFitted() error {
	if !m.fitted {
		return ErrNotFitted
	}
	return nil
}

func (m *ICA) checkModality(want modality) error {
	if err := m.checkFitted(); err != nil {
		return err
	}
	if m.fitModality != want {
		return fmt.Errorf("%w: fitted on %s, queried with %s", ErrModalityMismatch, m.fitModality, want)
	}
	return nil
}

// DecomposeOptions controls channel selection and sample retention
// during fitting.
type DecomposeOptions struct {
	// Picks selects the channels to fit on. Nil means all channels not
	// marked bad.
	Picks []int
	// Start and Stop bound the fit window in samples. Stop of 0 means
	// the end of the data. Continuous data only.
	Start, Stop int
	// Decim keeps every Decim-th sample (0 or 1 disables decimation).
	Decim int
	// Reject drops buffers whose per-channel peak-to-peak amplitude
	// exceeds the threshold for that channel type. Rejected samples are
	// excluded from the fit only; the input is never modified.
	Reject map[timeseries.ChannelType]float64
	// TStep is the rejection buffer length in seconds (default 2.0).
	TStep float64
}

// DecomposeRaw fits the model to a continuous recording. A model is
// fitted exactly once; a second call fails with ErrAlreadyFitted.
func (m *ICA) DecomposeRaw(raw *timeseries.Raw, opts DecomposeOptions) error {
	if m.fitted {
		return ErrAlreadyFitted
	}

	picks, err := resolvePicks(opts.Picks, raw.Channels, raw.Bads)
	if err != nil {
		return err
	}

	decim := opts.Decim
	if decim < 1 {
		decim = 1
	}
	data, err := sliceWindow(raw.Data, picks, opts.Start, opts.Stop, decim)
	if err != nil {
		return err
	}

	if len(opts.Reject) > 0 {
		tstep := opts.TStep
		if tstep <= 0 {
			tstep = 2.0
		}
		step := int(math.Round(tstep * raw.SFreq / float64(decim)))
		if step < 1 {
			step = 1
		}
		data = m.rejectBuffers(data, picks, raw.Channels, opts.Reject, step)
	}

	channels := make([]timeseries.Channel, len(picks))
	for i, p := range picks {
		channels[i] = raw.Channels[p]
	}

	if err := m.fit(data, channels, raw.SFreq); err != nil {
		return err
	}
	m.fitModality = modalityRaw
	return nil
}

// DecomposeEpochs fits the model to trial-segmented data. Trials are
// concatenated along time for the decomposition. With rejection
// thresholds set, each trial is treated as one rejection buffer.
func (m *ICA) DecomposeEpochs(epochs *timeseries.Epochs, opts DecomposeOptions) error {
	if m.fitted {
		return ErrAlreadyFitted
	}
	if epochs.NTrials() == 0 {
		return fmt.Errorf("%w: no trials to fit on", ErrBadConfig)
	}

	picks, err := resolvePicks(opts.Picks, epochs.Channels, epochs.Bads)
	if err != nil {
		return err
	}

	decim := opts.Decim
	if decim < 1 {
		decim = 1
	}

	var kept []*mat.Dense
	for t, trial := range epochs.Data {
		data, err := sliceWindow(trial, picks, 0, 0, decim)
		if err != nil {
			return err
		}
		if len(opts.Reject) > 0 {
			if typ, bad := exceedsReject(data, picks, epochs.Channels, opts.Reject); bad {
				m.logger.Info("artifact detected, rejecting buffer",
					zap.Int("trial", t),
					zap.String("channelType", string(typ)))
				continue
			}
		}
		kept = append(kept, data)
	}
	if len(kept) == 0 {
		return fmt.Errorf("%w: all trials rejected", ErrBadConfig)
	}
	data := hconcat(kept)

	channels := make([]timeseries.Channel, len(picks))
	for i, p := range picks {
		channels[i] = epochs.Channels[p]
	}

	if err := m.fit(data, channels, epochs.SFreq); err != nil {
		return err
	}
	m.fitModality = modalityEpochs
	return nil
}

// fit runs the whitening stage and the unmixing solver on the retained
// samples (channels x samples).
func (m *ICA) fit(data *mat.Dense, channels []timeseries.Channel, sfreq float64) error {
	nch, ns := data.Dims()

	maxPCA := m.maxPCA
	if maxPCA == 0 || maxPCA > nch {
		maxPCA = nch
	}
	if err := m.nComponents.validate(maxPCA); err != nil {
		return err
	}

	// Pre-whitener: unit-variance scaling per channel. Applied to a
	// copy so the caller's data is untouched.
	preWhitener := make([]float64, nch)
	whitened := mat.NewDense(nch, ns, nil)
	for i := 0; i < nch; i++ {
		row := data.RawRowView(i)
		sd := stat.StdDev(row, nil)
		if sd == 0 {
			sd = 1
		}
		preWhitener[i] = sd
		dst := whitened.RawRowView(i)
		for j, v := range row {
			dst[j] = v / sd
		}
	}

	p, err := fitPCA(whitened, maxPCA)
	if err != nil {
		return err
	}

	nComp, err := m.nComponents.resolve(p.explainedVar)
	if err != nil {
		return err
	}
	if nComp > p.nComponents() {
		nComp = p.nComponents()
	}

	nPCA, err := m.nPCARequested.resolve(p.explainedVar)
	if err != nil {
		return err
	}
	if nPCA < nComp {
		nPCA = nComp
	}
	if nPCA > p.nComponents() {
		nPCA = p.nComponents()
	}

	scores := p.project(whitened, nComp)
	rng := rand.New(rand.NewSource(m.randomState))
	unmixing, converged := fastICA(scores, m.maxIter, m.tol, rng)
	if !converged {
		m.logger.Warn("unmixing solver did not converge",
			zap.Int("maxIter", m.maxIter), zap.Float64("tol", m.tol))
	}

	m.channels = channels
	m.sfreq = sfreq
	m.nSamples = ns
	m.preWhitener = preWhitener
	m.pca = p
	m.nComp = nComp
	m.nPCA = nPCA
	m.unmixing = unmixing
	m.mixing = pinv(unmixing)
	m.fitted = true
	return nil
}

// rejectBuffers drops fixed-size buffers whose peak-to-peak amplitude
// exceeds a channel-type threshold, logging one record per rejection.
// The tail buffer may be shorter than step and is tested like any
// other.
func (m *ICA) rejectBuffers(data *mat.Dense, picks []int, channels []timeseries.Channel, reject map[timeseries.ChannelType]float64, step int) *mat.Dense {
	_, ns := data.Dims()

	var kept []*mat.Dense
	for first := 0; first < ns; first += step {
		last := first + step
		if last > ns {
			last = ns
		}
		buf := data.Slice(0, len(picks), first, last).(*mat.Dense)
		if typ, bad := exceedsReject(buf, picks, channels, reject); bad {
			m.logger.Info("artifact detected, rejecting buffer",
				zap.Int("offset", first),
				zap.String("channelType", string(typ)))
			continue
		}
		kept = append(kept, buf)
	}
	if len(kept) == 0 {
		return data.Slice(0, len(picks), 0, 0).(*mat.Dense)
	}
	return hconcat(kept)
}

// exceedsReject reports whether any picked channel's peak-to-peak
// amplitude within the buffer exceeds the threshold for its type.
func exceedsReject(buf *mat.Dense, picks []int, channels []timeseries.Channel, reject map[timeseries.ChannelType]float64) (timeseries.ChannelType, bool) {
	for i, p := range picks {
		thresh, ok := reject[channels[p].Type]
		if !ok {
			continue
		}
		row := buf.RawRowView(i)
		lo, hi := row[0], row[0]
		for _, v := range row {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi-lo > thresh {
			return channels[p].Type, true
		}
	}
	return "", false
}

// resolvePicks validates explicit picks or selects all non-bad
// channels.
func resolvePicks(picks []int, channels []timeseries.Channel, bads []string) ([]int, error) {
	if picks == nil {
		picks = timeseries.PickTypes(channels, bads)
	}
	if len(picks) == 0 {
		return nil, fmt.Errorf("%w: no channels picked", ErrBadConfig)
	}
	for _, p := range picks {
		if p < 0 || p >= len(channels) {
			return nil, fmt.Errorf("%w: pick %d out of range [0, %d)", ErrBadConfig, p, len(channels))
		}
	}
	return slices.Clone(picks), nil
}

// sliceWindow extracts the picked rows of data over [start, stop) with
// the given decimation stride. A stop of 0 means the end of the data.
func sliceWindow(data *mat.Dense, picks []int, start, stop, decim int) (*mat.Dense, error) {
	_, ns := data.Dims()
	if stop <= 0 || stop > ns {
		stop = ns
	}
	if start < 0 || start >= stop {
		return nil, fmt.Errorf("%w: sample window [%d, %d) is empty", ErrBadConfig, start, stop)
	}

	nOut := (stop - start + decim - 1) / decim
	out := mat.NewDense(len(picks), nOut, nil)
	for i, p := range picks {
		for j := 0; j < nOut; j++ {
			out.Set(i, j, data.At(p, start+j*decim))
		}
	}
	return out, nil
}

// hconcat joins matrices with equal row counts along the sample axis.
func hconcat(parts []*mat.Dense) *mat.Dense {
	r, _ := parts[0].Dims()
	total := 0
	for _, p := range parts {
		_, c := p.Dims()
		total += c
	}
	out := mat.NewDense(r, total, nil)
	off := 0
	for _, p := range parts {
		_, c := p.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				out.Set(i, off+j, p.At(i, j))
			}
		}
		off += c
	}
	return out
}
