// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package ica_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/OpenPSG/ica"
	"github.com/OpenPSG/ica/timeseries"
)

func TestNewValidatesConfig(t *testing.T) {
	_, err := ica.New(ica.Config{NComponents: ica.Exact(3), MaxPCAComponents: 2})
	require.ErrorIs(t, err, ica.ErrBadConfig)

	_, err = ica.New(ica.Config{NComponents: ica.VarianceFraction(2.3), MaxPCAComponents: 2})
	require.ErrorIs(t, err, ica.ErrBadConfig)

	_, err = ica.New(ica.Config{NComponents: ica.VarianceFraction(0)})
	require.ErrorIs(t, err, ica.ErrBadConfig)

	_, err = ica.New(ica.Config{NPCAComponents: ica.Exact(5), MaxPCAComponents: 4})
	require.ErrorIs(t, err, ica.ErrBadConfig)

	_, err = ica.New(ica.Config{MaxPCAComponents: -1})
	require.ErrorIs(t, err, ica.ErrBadConfig)
}

// Fitting with the full PCA rank and excluding nothing must reproduce
// the picked channels to numerical precision; retaining fewer PCA
// dimensions must genuinely discard information.
func TestFullDataRecoveryRaw(t *testing.T) {
	const nch = 5
	raw := newTestRecording(t, nch, 2000, 100, 7)
	picks := eegPicks(nch)
	original := subMatrix(raw.Data, picks)

	for _, tc := range []struct {
		name   string
		maxPCA int
		exact  bool
	}{
		{name: "full rank", maxPCA: nch, exact: true},
		{name: "reduced rank", maxPCA: nch / 2, exact: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, err := ica.New(ica.Config{
				NComponents:      ica.Exact(2),
				NPCAComponents:   ica.Exact(tc.maxPCA),
				MaxPCAComponents: tc.maxPCA,
				RandomState:      0,
			})
			require.NoError(t, err)
			require.NoError(t, m.DecomposeRaw(raw, ica.DecomposeOptions{Picks: picks}))

			out, err := m.PickSourcesRaw(raw, ica.PickOptions{})
			require.NoError(t, err)

			rebuilt := subMatrix(out.Data, picks)
			if tc.exact {
				requireAllClose(t, original, rebuilt, 1e-10, 1e-15)
			} else {
				assert.Greater(t, maxAbsDiff(t, original, rebuilt), 1e-14)
			}

			// Reference channels pass through unchanged.
			for j := 0; j < raw.NSamples(); j++ {
				require.Equal(t, raw.Data.At(nch, j), out.Data.At(nch, j))
			}
		})
	}
}

func TestFullDataRecoveryEpochs(t *testing.T) {
	const nch = 5
	raw := newTestRecording(t, nch, 2000, 100, 11)
	epochs := newTestEpochs(t, raw, 8, 250)
	picks := eegPicks(nch)

	for _, tc := range []struct {
		name   string
		maxPCA int
		exact  bool
	}{
		{name: "full rank", maxPCA: nch, exact: true},
		{name: "reduced rank", maxPCA: nch / 2, exact: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, err := ica.New(ica.Config{
				NComponents:      ica.Exact(2),
				NPCAComponents:   ica.Exact(tc.maxPCA),
				MaxPCAComponents: tc.maxPCA,
			})
			require.NoError(t, err)
			require.NoError(t, m.DecomposeEpochs(epochs, ica.DecomposeOptions{Picks: picks}))

			out, err := m.PickSourcesEpochs(epochs, ica.PickOptions{})
			require.NoError(t, err)

			for k := range epochs.Data {
				original := subMatrix(epochs.Data[k], picks)
				rebuilt := subMatrix(out.Data[k], picks)
				if tc.exact {
					requireAllClose(t, original, rebuilt, 1e-10, 1e-15)
				} else {
					assert.Greater(t, maxAbsDiff(t, original, rebuilt), 1e-14)
				}
			}
		})
	}
}

func TestCoreStateGuards(t *testing.T) {
	const nch = 4
	raw := newTestRecording(t, nch, 1200, 100, 3)
	epochs := newTestEpochs(t, raw, 4, 300)
	picks := eegPicks(nch)

	m, err := ica.New(ica.Config{NComponents: ica.Exact(2), MaxPCAComponents: 3})
	require.NoError(t, err)
	require.False(t, m.Fitted())

	// Everything fails before fitting.
	_, err = m.GetSourcesRaw(raw, ica.SourceOptions{})
	require.ErrorIs(t, err, ica.ErrNotFitted)
	_, err = m.GetSourcesEpochs(epochs)
	require.ErrorIs(t, err, ica.ErrNotFitted)
	_, err = m.PickSourcesRaw(raw, ica.PickOptions{})
	require.ErrorIs(t, err, ica.ErrNotFitted)
	require.ErrorIs(t, m.SetExclude([]int{0}), ica.ErrNotFitted)

	require.NoError(t, m.DecomposeRaw(raw, ica.DecomposeOptions{Picks: picks}))
	require.True(t, m.Fitted())
	require.Equal(t, 2, m.NComponents())

	sources, err := m.GetSourcesRaw(raw, ica.SourceOptions{})
	require.NoError(t, err)
	r, c := sources.Dims()
	require.Equal(t, 2, r)
	require.Equal(t, raw.NSamples(), c)

	// Re-fit is rejected and leaves the fitted state unchanged.
	require.ErrorIs(t, m.DecomposeRaw(raw, ica.DecomposeOptions{}), ica.ErrAlreadyFitted)
	require.ErrorIs(t, m.DecomposeEpochs(epochs, ica.DecomposeOptions{}), ica.ErrAlreadyFitted)
	require.Equal(t, 2, m.NComponents())

	// Epoch queries after a raw fit mismatch.
	_, err = m.GetSourcesEpochs(epochs)
	require.ErrorIs(t, err, ica.ErrModalityMismatch)
	_, err = m.PickSourcesEpochs(epochs, ica.PickOptions{})
	require.ErrorIs(t, err, ica.ErrModalityMismatch)

	// Reconstruction needs preloaded data.
	lazy := raw.Copy()
	lazy.Preloaded = false
	_, err = m.PickSourcesRaw(lazy, ica.PickOptions{Include: []int{1}})
	require.ErrorIs(t, err, ica.ErrNotPreloaded)

	// Include and exclude are mutually exclusive.
	_, err = m.PickSourcesRaw(raw, ica.PickOptions{Include: []int{0}, Exclude: []int{1}})
	require.ErrorIs(t, err, ica.ErrBadConfig)

	// And the raw-fit model rejects epoch extraction but accepts raw.
	_, err = m.PickSourcesRaw(raw, ica.PickOptions{Include: []int{1}})
	require.NoError(t, err)
}

func TestEpochsFitModalityGuard(t *testing.T) {
	const nch = 4
	raw := newTestRecording(t, nch, 1200, 100, 5)
	epochs := newTestEpochs(t, raw, 4, 300)

	m, err := ica.New(ica.Config{NComponents: ica.Exact(2), MaxPCAComponents: 3})
	require.NoError(t, err)
	require.NoError(t, m.DecomposeEpochs(epochs, ica.DecomposeOptions{Picks: eegPicks(nch)}))

	_, err = m.GetSourcesRaw(raw, ica.SourceOptions{})
	require.ErrorIs(t, err, ica.ErrModalityMismatch)

	sources, err := m.GetSourcesEpochs(epochs)
	require.NoError(t, err)
	require.Len(t, sources, epochs.NTrials())
	for _, s := range sources {
		r, _ := s.Dims()
		require.Equal(t, m.NComponents(), r)
	}
}

func TestVarianceFractionResolution(t *testing.T) {
	const nch = 5
	raw := newTestRecording(t, nch, 2000, 100, 13)
	picks := eegPicks(nch)

	resolved := make([]int, 0, 4)
	for _, f := range []float64{0.3, 0.6, 0.9, 1.0} {
		m, err := ica.New(ica.Config{NComponents: ica.VarianceFraction(f)})
		require.NoError(t, err)
		require.NoError(t, m.DecomposeRaw(raw, ica.DecomposeOptions{Picks: picks}))
		resolved = append(resolved, m.NComponents())
	}

	// Increasing the requested variance fraction never decreases the
	// resolved component count, and 1.0 resolves to the full rank.
	for i := 1; i < len(resolved); i++ {
		assert.GreaterOrEqual(t, resolved[i], resolved[i-1])
	}
	assert.Equal(t, nch, resolved[len(resolved)-1])
}

func TestExclusionMergeSemantics(t *testing.T) {
	const nch = 4
	raw := newTestRecording(t, nch, 1500, 100, 17)

	m, err := ica.New(ica.Config{NComponents: ica.Exact(3), MaxPCAComponents: 4})
	require.NoError(t, err)
	require.NoError(t, m.DecomposeRaw(raw, ica.DecomposeOptions{Picks: eegPicks(nch)}))

	// Stored exclusions merge with call arguments.
	require.NoError(t, m.SetExclude([]int{0}))
	_, err = m.PickSourcesRaw(raw, ica.PickOptions{Exclude: []int{1}})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, m.Exclude())

	// Arguments alone populate the list.
	require.NoError(t, m.SetExclude(nil))
	_, err = m.PickSourcesRaw(raw, ica.PickOptions{Exclude: []int{0, 1}})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, m.Exclude())

	// Duplicates collapse.
	_, err = m.PickSourcesRaw(raw, ica.PickOptions{Exclude: []int{1, 1, 0}})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, m.Exclude())

	// Repeated picks accumulate, never replace.
	_, err = m.PickSourcesRaw(raw, ica.PickOptions{Exclude: []int{2}})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, m.Exclude())

	// Out-of-range components are rejected before mutation.
	require.ErrorIs(t, m.SetExclude([]int{3}), ica.ErrBadConfig)
	_, err = m.PickSourcesRaw(raw, ica.PickOptions{Exclude: []int{-1}})
	require.ErrorIs(t, err, ica.ErrBadConfig)
	require.Equal(t, []int{0, 1, 2}, m.Exclude())
}

func TestRejectBuffers(t *testing.T) {
	const (
		nch   = 4
		ns    = 1000
		sfreq = 100.0
	)
	raw := newTestRecording(t, nch, ns, sfreq, 19)
	// Plant a large transient inside one buffer.
	for j := 500; j < 505; j++ {
		raw.Data.Set(1, j, 1000)
	}

	core, logs := observer.New(zapcore.InfoLevel)
	m, err := ica.New(ica.Config{
		NComponents:      ica.Exact(2),
		MaxPCAComponents: 4,
		Logger:           zap.New(core),
	})
	require.NoError(t, err)

	err = m.DecomposeRaw(raw, ica.DecomposeOptions{
		Picks:  eegPicks(nch),
		Reject: map[timeseries.ChannelType]float64{timeseries.EEG: 100},
		TStep:  0.1,
	})
	require.NoError(t, err)

	// One 10-sample buffer dropped from the fit, one log record.
	require.Equal(t, ns-10, m.NSamples())
	require.Equal(t, 1, logs.FilterMessage("artifact detected, rejecting buffer").Len())

	// The stored data is untouched.
	require.Equal(t, 1000.0, raw.Data.At(1, 500))
}

func TestRejectBuffersPartialTail(t *testing.T) {
	const (
		nch   = 4
		ns    = 1005
		sfreq = 100.0
	)
	raw := newTestRecording(t, nch, ns, sfreq, 23)
	// Transient inside the short tail buffer (samples 1000-1004).
	raw.Data.Set(0, 1002, 1000)

	core, logs := observer.New(zapcore.InfoLevel)
	m, err := ica.New(ica.Config{
		NComponents:      ica.Exact(2),
		MaxPCAComponents: 4,
		Logger:           zap.New(core),
	})
	require.NoError(t, err)

	err = m.DecomposeRaw(raw, ica.DecomposeOptions{
		Picks:  eegPicks(nch),
		Reject: map[timeseries.ChannelType]float64{timeseries.EEG: 100},
		TStep:  0.1,
	})
	require.NoError(t, err)

	// The 5-sample tail buffer is tested like any other and dropped.
	require.Equal(t, ns-5, m.NSamples())
	require.Equal(t, 1, logs.FilterMessage("artifact detected, rejecting buffer").Len())
}

func TestRejectTrialsInEpochsFit(t *testing.T) {
	const nch = 4
	raw := newTestRecording(t, nch, 1200, 100, 29)
	epochs := newTestEpochs(t, raw, 4, 300)
	epochs.Data[2].Set(0, 10, 1000)

	core, logs := observer.New(zapcore.InfoLevel)
	m, err := ica.New(ica.Config{
		NComponents:      ica.Exact(2),
		MaxPCAComponents: 4,
		Logger:           zap.New(core),
	})
	require.NoError(t, err)

	err = m.DecomposeEpochs(epochs, ica.DecomposeOptions{
		Picks:  eegPicks(nch),
		Reject: map[timeseries.ChannelType]float64{timeseries.EEG: 100},
	})
	require.NoError(t, err)

	require.Equal(t, 3*300, m.NSamples())
	require.Equal(t, 1, logs.FilterMessage("artifact detected, rejecting buffer").Len())
}

func TestDecimationAndWindow(t *testing.T) {
	const nch = 4
	raw := newTestRecording(t, nch, 1200, 100, 31)

	m, err := ica.New(ica.Config{NComponents: ica.Exact(2), MaxPCAComponents: 4})
	require.NoError(t, err)
	require.NoError(t, m.DecomposeRaw(raw, ica.DecomposeOptions{
		Picks: eegPicks(nch),
		Start: 100,
		Stop:  1000,
		Decim: 3,
	}))
	require.Equal(t, 300, m.NSamples())

	m2, err := ica.New(ica.Config{NComponents: ica.Exact(2), MaxPCAComponents: 4})
	require.NoError(t, err)
	err = m2.DecomposeRaw(raw, ica.DecomposeOptions{Start: 500, Stop: 500})
	require.ErrorIs(t, err, ica.ErrBadConfig)
}

func TestSourcesAsRaw(t *testing.T) {
	const nch = 4
	raw := newTestRecording(t, nch, 1500, 100, 37)
	raw.FirstSamp = 200

	m, err := ica.New(ica.Config{NComponents: ica.Exact(3), MaxPCAComponents: 4})
	require.NoError(t, err)
	require.NoError(t, m.DecomposeRaw(raw, ica.DecomposeOptions{Picks: eegPicks(nch)}))
	require.NoError(t, m.SetExclude([]int{1}))

	out, err := m.SourcesAsRaw(raw, ica.SourceOptions{Start: 100, Stop: 600})
	require.NoError(t, err)

	// Component channels first, then the untouched reference channels.
	require.Equal(t, []string{"ICA 001", "ICA 002", "ICA 003", "ECG 061", "EOG 061"}, out.ChannelNames())
	require.Equal(t, []string{"ICA 002"}, out.Bads)
	require.Equal(t, 500, out.NSamples())
	require.Equal(t, 300, out.FirstSamp)

	for j := 0; j < 500; j++ {
		require.Equal(t, raw.Data.At(nch, 100+j), out.Data.At(3, j))
	}
}

func TestSourcesAsEpochs(t *testing.T) {
	const nch = 4
	raw := newTestRecording(t, nch, 1200, 100, 41)
	epochs := newTestEpochs(t, raw, 4, 300)

	m, err := ica.New(ica.Config{NComponents: ica.Exact(2), MaxPCAComponents: 4})
	require.NoError(t, err)
	require.NoError(t, m.DecomposeEpochs(epochs, ica.DecomposeOptions{Picks: eegPicks(nch)}))
	require.NoError(t, m.SetExclude([]int{0}))

	out, err := m.SourcesAsEpochs(epochs)
	require.NoError(t, err)

	require.Equal(t, epochs.Events, out.Events)
	require.Equal(t, []string{"ICA 001", "ICA 002"}, out.ChannelNames())
	require.Equal(t, []string{"ICA 001"}, out.Bads)

	sources, err := m.GetSourcesEpochs(epochs)
	require.NoError(t, err)
	for k := range sources {
		requireAllClose(t, sources[k], out.Data[k], 0, 0)
	}
}

func TestRun(t *testing.T) {
	const nch = 5
	raw := newTestRecording(t, nch, 2000, 100, 43)

	m, err := ica.Run(raw, ica.Config{NComponents: ica.Exact(3), MaxPCAComponents: nch}, ica.RunOptions{
		Decompose: ica.DecomposeOptions{Picks: eegPicks(nch)},
		Detect: ica.DetectOptions{
			ECGChannel:   "ECG 061",
			ECGCriterion: ica.SelectTop(1),
			EOGChannel:   "EOG 061",
			EOGCriterion: ica.SelectTop(1),
		},
	})
	require.NoError(t, err)
	require.True(t, m.Fitted())
	require.NotEmpty(t, m.Exclude())
}
