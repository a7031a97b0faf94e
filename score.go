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
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/OpenPSG/ica/timeseries"
)

// ScoreFunc scores a component time course, either against a target
// signal (pairwise) or on its own (univariate). Use the predefined
// functions or wrap a custom one with PairScoreFunc or
// UnivariateScoreFunc.
type ScoreFunc struct {
	name string
	pair func(component, target []float64) float64
	uni  func(component []float64) float64
}

// Name returns the registry name of the score function.
func (f ScoreFunc) Name() string { return f.name }

// Pairwise reports whether the function compares against a target.
func (f ScoreFunc) Pairwise() bool { return f.pair != nil }

func (f ScoreFunc) isZero() bool { return f.pair == nil && f.uni == nil }

// PairScoreFunc wraps a custom pairwise scoring function.
func PairScoreFunc(name string, fn func(component, target []float64) float64) ScoreFunc {
	return ScoreFunc{name: name, pair: fn}
}

// UnivariateScoreFunc wraps a custom univariate scoring function.
func UnivariateScoreFunc(name string, fn func(component []float64) float64) ScoreFunc {
	return ScoreFunc{name: name, uni: fn}
}

// Predefined score functions. The pairwise family correlates component
// time courses with a target signal; the univariate family computes a
// statistic per component.
var (
	Pearson = PairScoreFunc("pearsonr", func(x, y []float64) float64 {
		return stat.Correlation(x, y, nil)
	})
	Spearman = PairScoreFunc("spearmanr", func(x, y []float64) float64 {
		return stat.Correlation(ranks(x), ranks(y), nil)
	})
	Skewness = UnivariateScoreFunc("skew", func(x []float64) float64 {
		return stat.Skew(x, nil)
	})
	Kurtosis = UnivariateScoreFunc("kurtosis", func(x []float64) float64 {
		return stat.ExKurtosis(x, nil)
	})
	VarianceScore = UnivariateScoreFunc("variance", func(x []float64) float64 {
		return stat.Variance(x, nil)
	})
)

// scoreRegistry is the closed name->function enumeration.
var scoreRegistry = map[string]ScoreFunc{
	Pearson.name:       Pearson,
	Spearman.name:      Spearman,
	Skewness.name:      Skewness,
	Kurtosis.name:      Kurtosis,
	VarianceScore.name: VarianceScore,
}

// ScoreFuncByName resolves a predefined score function by its name.
func ScoreFuncByName(name string) (ScoreFunc, bool) {
	f, ok := scoreRegistry[name]
	return f, ok
}

// ScoreFuncNames lists the registry names in sorted order.
func ScoreFuncNames() []string {
	names := make([]string, 0, len(scoreRegistry))
	for name := range scoreRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ranks returns the sample ranks of x, averaging ties.
func ranks(x []float64) []float64 {
	n := len(x)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })

	out := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && x[order[j+1]] == x[order[i]] {
			j++
		}
		r := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[order[k]] = r
		}
		i = j + 1
	}
	return out
}

// Target designates the artifact-proxy signal to score against: a
// named channel of the original data, an explicit sample series, or
// the zero value for univariate scoring.
type Target struct {
	channel string
	series  []float64
}

// TargetChannel scores against the time course of a named channel,
// restricted to the same sample window as the sources.
func TargetChannel(name string) Target { return Target{channel: name} }

// TargetSeries scores against an external signal. Its length must
// match the extracted source length.
func TargetSeries(x []float64) Target { return Target{series: x} }

func (t Target) isZero() bool { return t.channel == "" && t.series == nil }

// FindOptions configures component scoring.
type FindOptions struct {
	// Target is the reference signal. The zero value selects univariate
	// scoring.
	Target Target
	// Score is the scoring function. Defaults to Pearson when a target
	// is given; required otherwise.
	Score ScoreFunc
	// Start and Stop bound the sample window (continuous data only).
	Start, Stop int
}

// FindSourcesRaw scores every component of a continuous recording
// against the target, returning one score per resolved component in
// component order.
func (m *ICA) FindSourcesRaw(raw *timeseries.Raw, opts FindOptions) ([]float64, error) {
	sources, err := m.GetSourcesRaw(raw, SourceOptions{Start: opts.Start, Stop: opts.Stop})
	if err != nil {
		return nil, err
	}

	var target []float64
	if opts.Target.channel != "" {
		idx := raw.ChannelIndex(opts.Target.channel)
		if idx < 0 {
			return nil, fmt.Errorf("%w: target channel %q not present", ErrBadConfig, opts.Target.channel)
		}
		window, err := sliceWindow(raw.Data, []int{idx}, opts.Start, opts.Stop, 1)
		if err != nil {
			return nil, err
		}
		target = window.RawRowView(0)
	} else {
		target = opts.Target.series
	}

	return m.scoreSources(sources, target, opts.Score)
}

// FindSourcesEpochs scores every component of epoched data against the
// target, concatenating trials along time.
func (m *ICA) FindSourcesEpochs(epochs *timeseries.Epochs, opts FindOptions) ([]float64, error) {
	perTrial, err := m.GetSourcesEpochs(epochs)
	if err != nil {
		return nil, err
	}
	sources := hconcat(perTrial)

	var target []float64
	if opts.Target.channel != "" {
		idx := epochs.ChannelIndex(opts.Target.channel)
		if idx < 0 {
			return nil, fmt.Errorf("%w: target channel %q not present", ErrBadConfig, opts.Target.channel)
		}
		parts := make([]*mat.Dense, len(epochs.Data))
		for t, trial := range epochs.Data {
			window, err := sliceWindow(trial, []int{idx}, 0, 0, 1)
			if err != nil {
				return nil, err
			}
			parts[t] = window
		}
		target = hconcat(parts).RawRowView(0)
	} else {
		target = opts.Target.series
	}

	return m.scoreSources(sources, target, opts.Score)
}

// scoreSources applies the score function row-wise, validating target
// shape against the source length.
func (m *ICA) scoreSources(sources *mat.Dense, target []float64, score ScoreFunc) ([]float64, error) {
	nComp, ns := sources.Dims()

	if target != nil {
		if len(target) != ns {
			return nil, fmt.Errorf("%w: target length %d does not match source length %d", ErrBadConfig, len(target), ns)
		}
		if score.isZero() {
			score = Pearson
		}
		if !score.Pairwise() {
			return nil, fmt.Errorf("%w: score function %q is univariate but a target was given", ErrBadConfig, score.Name())
		}
	} else {
		if score.isZero() {
			return nil, fmt.Errorf("%w: a univariate score function is required without a target", ErrBadConfig)
		}
		if score.Pairwise() {
			return nil, fmt.Errorf("%w: score function %q requires a target", ErrBadConfig, score.Name())
		}
	}

	scores := make([]float64, nComp)
	for c := 0; c < nComp; c++ {
		row := sources.RawRowView(c)
		if target != nil {
			scores[c] = score.pair(row, target)
		} else {
			scores[c] = score.uni(row)
		}
	}
	return scores, nil
}
