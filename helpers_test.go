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
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/OpenPSG/ica/timeseries"
)

// newTestRecording builds nch EEG channels as a random mixture of a
// spiky cardiac-like source, a slow ocular-like drift and gaussian
// noise, plus dedicated "ECG 061" and "EOG 061" reference channels
// appended after the EEG block.
func newTestRecording(t *testing.T, nch, ns int, sfreq float64, seed uint64) *timeseries.Raw {
	t.Helper()

	noise := distuv.Normal{Mu: 0, Sigma: 0.5, Src: xrand.NewSource(seed)}
	coef := distuv.Uniform{Min: -1, Max: 1, Src: xrand.NewSource(seed + 1)}

	ecg := make([]float64, ns)
	eog := make([]float64, ns)
	for j := 0; j < ns; j++ {
		ts := float64(j) / sfreq
		phase := math.Mod(ts, 0.8) / 0.8
		z := (phase - 0.3) / 0.02
		ecg[j] = 5 * math.Exp(-0.5*z*z)
		eog[j] = 2 * math.Sin(2*math.Pi*0.3*ts)
	}

	channels := make([]timeseries.Channel, 0, nch+2)
	data := mat.NewDense(nch+2, ns, nil)
	for i := 0; i < nch; i++ {
		channels = append(channels, timeseries.Channel{
			Name: fmt.Sprintf("EEG %03d", i+1),
			Type: timeseries.EEG,
		})
		a, b := coef.Rand(), coef.Rand()
		for j := 0; j < ns; j++ {
			data.Set(i, j, a*ecg[j]+b*eog[j]+noise.Rand())
		}
	}
	channels = append(channels,
		timeseries.Channel{Name: "ECG 061", Type: timeseries.ECG},
		timeseries.Channel{Name: "EOG 061", Type: timeseries.EOG})
	for j := 0; j < ns; j++ {
		data.Set(nch, j, ecg[j]+0.01*noise.Rand())
		data.Set(nch+1, j, eog[j]+0.01*noise.Rand())
	}

	raw, err := timeseries.NewRaw(channels, sfreq, data)
	require.NoError(t, err)
	return raw
}

// eegPicks returns the indices of the EEG block of a test recording.
func eegPicks(nch int) []int {
	picks := make([]int, nch)
	for i := range picks {
		picks[i] = i
	}
	return picks
}

// newTestEpochs cuts a test recording into fixed-length trials.
func newTestEpochs(t *testing.T, raw *timeseries.Raw, nTrials, trialLen int) *timeseries.Epochs {
	t.Helper()

	require.GreaterOrEqual(t, raw.NSamples(), nTrials*trialLen)

	events := make([]timeseries.Event, nTrials)
	trials := make([]*mat.Dense, nTrials)
	nch := len(raw.Channels)
	for k := 0; k < nTrials; k++ {
		events[k] = timeseries.Event{Sample: k * trialLen, Code: 1}
		trial := mat.NewDense(nch, trialLen, nil)
		for i := 0; i < nch; i++ {
			for j := 0; j < trialLen; j++ {
				trial.Set(i, j, raw.Data.At(i, k*trialLen+j))
			}
		}
		trials[k] = trial
	}

	epochs, err := timeseries.NewEpochs(raw.Channels, raw.SFreq, events, trials)
	require.NoError(t, err)
	return epochs
}

// requireAllClose asserts element-wise closeness with relative and
// absolute tolerances.
func requireAllClose(t *testing.T, want, got mat.Matrix, rtol, atol float64) {
	t.Helper()

	wr, wc := want.Dims()
	gr, gc := got.Dims()
	require.Equal(t, wr, gr)
	require.Equal(t, wc, gc)
	for i := 0; i < wr; i++ {
		for j := 0; j < wc; j++ {
			w, g := want.At(i, j), got.At(i, j)
			if math.Abs(w-g) > atol+rtol*math.Abs(w) {
				t.Fatalf("mismatch at (%d,%d): want %g, got %g", i, j, w, g)
			}
		}
	}
}

// maxAbsDiff returns the largest element-wise absolute difference.
func maxAbsDiff(t *testing.T, a, b mat.Matrix) float64 {
	t.Helper()

	ar, ac := a.Dims()
	br, bc := b.Dims()
	require.Equal(t, ar, br)
	require.Equal(t, ac, bc)
	var out float64
	for i := 0; i < ar; i++ {
		for j := 0; j < ac; j++ {
			if d := math.Abs(a.At(i, j) - b.At(i, j)); d > out {
				out = d
			}
		}
	}
	return out
}

// subMatrix copies the given rows of a matrix.
func subMatrix(m mat.Matrix, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		for j := 0; j < c; j++ {
			out.Set(i, j, m.At(r, j))
		}
	}
	return out
}
