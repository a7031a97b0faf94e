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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenPSG/ica"
)

func TestDetectArtifactsECG(t *testing.T) {
	m, raw := fitTestModel(t, 5, 101)

	require.NoError(t, m.DetectArtifacts(raw, ica.DetectOptions{
		ECGChannel:   "ECG 061",
		ECGCriterion: ica.SelectTop(1),
	}))
	require.Len(t, m.Exclude(), 1)

	// The flagged component must be the one most correlated with the
	// cardiac reference.
	scores, err := m.FindSourcesRaw(raw, ica.FindOptions{Target: ica.TargetChannel("ECG 061")})
	require.NoError(t, err)
	best, bestScore := 0, 0.0
	for c, s := range scores {
		if math.Abs(s) > bestScore {
			best, bestScore = c, math.Abs(s)
		}
	}
	assert.Equal(t, []int{best}, m.Exclude())
}

func TestDetectArtifactsMergesExclusions(t *testing.T) {
	m, raw := fitTestModel(t, 5, 103)

	require.NoError(t, m.SetExclude([]int{2}))
	require.NoError(t, m.DetectArtifacts(raw, ica.DetectOptions{
		EOGChannel:   "EOG 061",
		EOGCriterion: ica.SelectIndices(0),
	}))

	assert.Contains(t, m.Exclude(), 2)
	assert.GreaterOrEqual(t, len(m.Exclude()), 1)
	assert.LessOrEqual(t, len(m.Exclude()), 2)
}

func TestDetectArtifactsSkipsUnsetCriteria(t *testing.T) {
	m, raw := fitTestModel(t, 4, 107)

	// No criteria set at all: nothing happens.
	require.NoError(t, m.DetectArtifacts(raw, ica.DetectOptions{}))
	assert.Empty(t, m.Exclude())

	// ECG criterion without a reference signal is skipped.
	require.NoError(t, m.DetectArtifacts(raw, ica.DetectOptions{
		ECGCriterion: ica.SelectTop(1),
	}))
	assert.Empty(t, m.Exclude())
}

func TestDetectArtifactsUnivariateCriteria(t *testing.T) {
	m, raw := fitTestModel(t, 5, 109)

	require.NoError(t, m.DetectArtifacts(raw, ica.DetectOptions{
		SkewCriterion: ica.SelectTop(1),
		KurtCriterion: ica.SelectTop(1),
		VarCriterion:  ica.SelectIndices(-1),
	}))
	assert.NotEmpty(t, m.Exclude())
	for _, c := range m.Exclude() {
		assert.GreaterOrEqual(t, c, 0)
		assert.Less(t, c, m.NComponents())
	}
}

func TestDetectArtifactsValidation(t *testing.T) {
	m, raw := fitTestModel(t, 4, 113)

	// Unknown reference channel.
	err := m.DetectArtifacts(raw, ica.DetectOptions{
		ECGChannel:   "MEG 2442",
		ECGCriterion: ica.SelectTop(1),
	})
	require.ErrorIs(t, err, ica.ErrBadConfig)

	// Criterion out of range.
	err = m.DetectArtifacts(raw, ica.DetectOptions{
		SkewCriterion: ica.SelectTop(99),
	})
	require.ErrorIs(t, err, ica.ErrBadConfig)

	err = m.DetectArtifacts(raw, ica.DetectOptions{
		KurtCriterion: ica.SelectIndices(-99),
	})
	require.ErrorIs(t, err, ica.ErrBadConfig)

	err = m.DetectArtifacts(raw, ica.DetectOptions{
		VarCriterion: ica.SelectOutliers(-1),
	})
	require.ErrorIs(t, err, ica.ErrBadConfig)

	// Nothing merged after failed passes.
	assert.Empty(t, m.Exclude())
}

func TestDetectArtifactsUnfitted(t *testing.T) {
	raw := newTestRecording(t, 4, 500, 100, 127)

	m, err := ica.New(ica.Config{MaxPCAComponents: 4})
	require.NoError(t, err)
	require.ErrorIs(t, m.DetectArtifacts(raw, ica.DetectOptions{}), ica.ErrNotFitted)
}
