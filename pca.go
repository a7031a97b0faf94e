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

	"gonum.org/v1/gonum/mat"
)

// pca is the whitening stage: an orthonormal basis of the channel
// space ordered by descending explained variance, with per-component
// variance scaling so that projected scores have unit variance.
type pca struct {
	mean         []float64  // Per-channel mean of the fit data
	components   *mat.Dense // Orthonormal basis, nComponents x nChannels
	explainedVar []float64  // Variance along each component, descending
}

// fitPCA decomposes data (channels x samples) into at most maxComp
// principal components. The effective rank is further limited by the
// number of channels and samples.
func fitPCA(data *mat.Dense, maxComp int) (*pca, error) {
	nch, ns := data.Dims()
	if ns < 2 {
		return nil, fmt.Errorf("%w: need at least 2 samples to fit PCA, got %d", ErrBadConfig, ns)
	}

	mean := make([]float64, nch)
	for i := 0; i < nch; i++ {
		row := data.RawRowView(i)
		var sum float64
		for _, v := range row {
			sum += v
		}
		mean[i] = sum / float64(ns)
	}

	// Samples as rows, channels as columns, mean removed.
	centered := mat.NewDense(ns, nch, nil)
	for i := 0; i < nch; i++ {
		for j := 0; j < ns; j++ {
			centered.Set(j, i, data.At(i, j)-mean[i])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return nil, fmt.Errorf("PCA factorization did not converge")
	}

	values := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)

	k := len(values)
	if maxComp > 0 && maxComp < k {
		k = maxComp
	}

	components := mat.NewDense(k, nch, nil)
	explainedVar := make([]float64, k)
	for i := 0; i < k; i++ {
		explainedVar[i] = values[i] * values[i] / float64(ns-1)
		for j := 0; j < nch; j++ {
			components.Set(i, j, v.At(j, i))
		}
	}

	return &pca{
		mean:         mean,
		components:   components,
		explainedVar: explainedVar,
	}, nil
}

// nComponents returns the number of retained components.
func (p *pca) nComponents() int {
	k, _ := p.components.Dims()
	return k
}

// whitenScale returns the score scaling for component i. Zero-variance
// directions scale by 1 so they project to and reconstruct from exact
// zeros.
func (p *pca) whitenScale(i int) float64 {
	s := math.Sqrt(p.explainedVar[i])
	if s == 0 {
		return 1
	}
	return s
}

// project maps data (channels x samples) onto the top k components,
// returning whitened scores (k x samples).
func (p *pca) project(data *mat.Dense, k int) *mat.Dense {
	nch, ns := data.Dims()

	centered := mat.NewDense(nch, ns, nil)
	for i := 0; i < nch; i++ {
		for j := 0; j < ns; j++ {
			centered.Set(i, j, data.At(i, j)-p.mean[i])
		}
	}

	top := p.components.Slice(0, k, 0, nch)
	scores := mat.NewDense(k, ns, nil)
	scores.Mul(top, centered)
	for i := 0; i < k; i++ {
		s := 1 / p.whitenScale(i)
		row := scores.RawRowView(i)
		for j := range row {
			row[j] *= s
		}
	}
	return scores
}

// inverse maps whitened scores (k x samples) back to channel space
// (channels x samples), re-adding the mean. When k equals the number
// of channels this is an exact inverse of project.
func (p *pca) inverse(scores *mat.Dense) *mat.Dense {
	k, ns := scores.Dims()
	_, nch := p.components.Dims()

	scaled := mat.NewDense(k, ns, nil)
	for i := 0; i < k; i++ {
		s := p.whitenScale(i)
		for j := 0; j < ns; j++ {
			scaled.Set(i, j, scores.At(i, j)*s)
		}
	}

	top := p.components.Slice(0, k, 0, nch)
	out := mat.NewDense(nch, ns, nil)
	out.Mul(top.T(), scaled)
	for i := 0; i < nch; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] += p.mean[i]
		}
	}
	return out
}
