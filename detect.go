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
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"github.com/OpenPSG/ica/timeseries"
)

type criterionKind uint8

const (
	criterionNone criterionKind = iota
	criterionIndices
	criterionTop
	criterionOutliers
)

// Criterion selects outlier components from a score vector. Positional
// forms index into the components ordered by descending absolute
// score; the threshold form applies iterative z-score outlier
// detection to the raw scores.
type Criterion struct {
	kind   criterionKind
	idx    []int
	n      int
	thresh float64
}

// SelectIndices picks positions in the descending-|score| order.
// Negative positions count from the end.
func SelectIndices(idx ...int) Criterion {
	return Criterion{kind: criterionIndices, idx: idx}
}

// SelectTop picks the n components with the largest absolute scores.
func SelectTop(n int) Criterion {
	return Criterion{kind: criterionTop, n: n}
}

// SelectOutliers picks components whose score deviates from the mean
// by more than threshold standard deviations, re-estimating the
// statistics after each removal until stable.
func SelectOutliers(threshold float64) Criterion {
	return Criterion{kind: criterionOutliers, thresh: threshold}
}

func (c Criterion) isZero() bool { return c.kind == criterionNone }

// apply returns the selected component indices, ascending.
func (c Criterion) apply(scores []float64) ([]int, error) {
	switch c.kind {
	case criterionIndices, criterionTop:
		order := make([]int, len(scores))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool {
			return math.Abs(scores[order[a]]) > math.Abs(scores[order[b]])
		})

		var positions []int
		if c.kind == criterionTop {
			if c.n < 0 || c.n > len(scores) {
				return nil, fmt.Errorf("%w: top-%d selection over %d components", ErrBadConfig, c.n, len(scores))
			}
			for i := 0; i < c.n; i++ {
				positions = append(positions, i)
			}
		} else {
			for _, i := range c.idx {
				if i < 0 {
					i += len(scores)
				}
				if i < 0 || i >= len(scores) {
					return nil, fmt.Errorf("%w: criterion position %d out of range [0, %d)", ErrBadConfig, i, len(scores))
				}
				positions = append(positions, i)
			}
		}

		picked := make([]int, 0, len(positions))
		for _, p := range positions {
			picked = append(picked, order[p])
		}
		sort.Ints(picked)
		return picked, nil
	case criterionOutliers:
		if c.thresh <= 0 {
			return nil, fmt.Errorf("%w: outlier threshold must be positive, got %g", ErrBadConfig, c.thresh)
		}
		return findOutliers(scores, c.thresh), nil
	default:
		return nil, nil
	}
}

// findOutliers marks scores more than threshold standard deviations
// from the mean, iterating with the marked scores removed until no new
// outliers appear.
func findOutliers(scores []float64, threshold float64) []int {
	outlier := make([]bool, len(scores))
	for {
		var remaining []float64
		for i, s := range scores {
			if !outlier[i] {
				remaining = append(remaining, s)
			}
		}
		if len(remaining) < 2 {
			break
		}
		mean, err := stats.Mean(remaining)
		if err != nil {
			break
		}
		sd, err := stats.StandardDeviation(remaining)
		if err != nil || sd == 0 {
			break
		}

		found := false
		for i, s := range scores {
			if outlier[i] {
				continue
			}
			if math.Abs(s-mean)/sd > threshold {
				outlier[i] = true
				found = true
			}
		}
		if !found {
			break
		}
	}

	var idx []int
	for i, bad := range outlier {
		if bad {
			idx = append(idx, i)
		}
	}
	return idx
}

// DetectOptions configures automatic artifact detection. A criterion
// only runs when it is set; the ECG and EOG criteria additionally need
// a channel name or an explicit target series.
type DetectOptions struct {
	// ECGChannel or ECGSeries designates the cardiac reference signal.
	ECGChannel string
	ECGSeries  []float64
	// EOGChannel or EOGSeries designates the ocular reference signal.
	EOGChannel string
	EOGSeries  []float64

	ECGCriterion  Criterion
	EOGCriterion  Criterion
	SkewCriterion Criterion
	KurtCriterion Criterion
	VarCriterion  Criterion

	// ECGScore and EOGScore override the pairwise score function
	// (default Pearson).
	ECGScore ScoreFunc
	EOGScore ScoreFunc

	// Start and Stop bound the sample window used for scoring.
	Start, Stop int
}

// DetectArtifacts scores the components against the configured
// physiological references and univariate statistics, then unions
// every triggered component index into the model's exclusion list
// (merged, never replaced).
func (m *ICA) DetectArtifacts(raw *timeseries.Raw, opts DetectOptions) error {
	if err := m.checkModality(modalityRaw); err != nil {
		return err
	}

	type pass struct {
		name      string
		criterion Criterion
		target    Target
		score     ScoreFunc
	}

	passes := []pass{
		{name: "ecg", criterion: opts.ECGCriterion, target: detectTarget(opts.ECGChannel, opts.ECGSeries), score: opts.ECGScore},
		{name: "eog", criterion: opts.EOGCriterion, target: detectTarget(opts.EOGChannel, opts.EOGSeries), score: opts.EOGScore},
		{name: "skew", criterion: opts.SkewCriterion, score: Skewness},
		{name: "kurtosis", criterion: opts.KurtCriterion, score: Kurtosis},
		{name: "variance", criterion: opts.VarCriterion, score: VarianceScore},
	}

	var found []int
	for _, p := range passes {
		if p.criterion.isZero() {
			continue
		}
		if (p.name == "ecg" || p.name == "eog") && p.target.isZero() {
			continue
		}
		scores, err := m.FindSourcesRaw(raw, FindOptions{
			Target: p.target,
			Score:  p.score,
			Start:  opts.Start,
			Stop:   opts.Stop,
		})
		if err != nil {
			return err
		}
		idx, err := p.criterion.apply(scores)
		if err != nil {
			return err
		}
		if len(idx) > 0 {
			m.logger.Info("artifact components found",
				zap.String("criterion", p.name), zap.Ints("components", idx))
			found = append(found, idx...)
		}
	}

	return m.mergeExclude(found)
}

func detectTarget(channel string, series []float64) Target {
	if channel != "" {
		return TargetChannel(channel)
	}
	if series != nil {
		return TargetSeries(series)
	}
	return Target{}
}
