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
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// fastICA estimates a square unmixing matrix from whitened component
// scores x (k x samples) using the fixed-point algorithm with the
// logcosh contrast function and symmetric decorrelation. The returned
// matrix maps whitened scores to independent component time courses.
// The second return value reports convergence within maxIter.
func fastICA(x *mat.Dense, maxIter int, tol float64, rng *rand.Rand) (*mat.Dense, bool) {
	k, n := x.Dims()

	w := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			w.Set(i, j, rng.NormFloat64())
		}
	}
	w = symDecorrelate(w)

	wx := mat.NewDense(k, n, nil)
	gwx := mat.NewDense(k, n, nil)
	w1 := mat.NewDense(k, k, nil)
	cross := mat.NewDense(k, k, nil)

	converged := false
	for iter := 0; iter < maxIter; iter++ {
		wx.Mul(w, x)

		// g(u) = tanh(u); E[g'(u)] per row drives the deflation term.
		gMean := make([]float64, k)
		for i := 0; i < k; i++ {
			src := wx.RawRowView(i)
			dst := gwx.RawRowView(i)
			var sum float64
			for j, u := range src {
				t := math.Tanh(u)
				dst[j] = t
				sum += 1 - t*t
			}
			gMean[i] = sum / float64(n)
		}

		w1.Mul(gwx, x.T())
		for i := 0; i < k; i++ {
			row := w1.RawRowView(i)
			wRow := w.RawRowView(i)
			for j := range row {
				row[j] = row[j]/float64(n) - gMean[i]*wRow[j]
			}
		}
		next := symDecorrelate(w1)

		// Convergence: rows of consecutive estimates aligned up to sign.
		cross.Mul(next, w.T())
		lim := 0.0
		for i := 0; i < k; i++ {
			d := math.Abs(math.Abs(cross.At(i, i)) - 1)
			if d > lim {
				lim = d
			}
		}
		w.CloneFrom(next)
		if lim < tol {
			converged = true
			break
		}
	}

	return w, converged
}

// symDecorrelate returns (W W^T)^{-1/2} W, making the rows of W an
// orthonormal set while preserving their span.
func symDecorrelate(w *mat.Dense) *mat.Dense {
	k, _ := w.Dims()

	var wwt mat.Dense
	wwt.Mul(w, w.T())
	sym := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			sym.SetSym(i, j, wwt.At(i, j))
		}
	}

	var es mat.EigenSym
	if ok := es.Factorize(sym, true); !ok {
		out := mat.NewDense(k, k, nil)
		out.CloneFrom(w)
		return out
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	invSqrt := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		l := vals[i]
		if l < 1e-30 {
			l = 1e-30
		}
		s := 1 / math.Sqrt(l)
		for j := 0; j < k; j++ {
			invSqrt.Set(j, i, vecs.At(j, i)*s)
		}
	}

	var proj, out mat.Dense
	proj.Mul(invSqrt, vecs.T())
	out.Mul(&proj, w)
	return &out
}

// pinv computes the Moore-Penrose pseudo-inverse via the thin SVD.
func pinv(a mat.Matrix) *mat.Dense {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		r, c := a.Dims()
		return mat.NewDense(c, r, nil)
	}

	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	rank := 0
	tol := 1e-15 * values[0] * float64(len(values))
	for _, s := range values {
		if s > tol {
			rank++
		}
	}

	// A+ = V S^{-1} U^T over the numerical rank.
	_, c := a.Dims()
	scaled := mat.NewDense(c, rank, nil)
	for i := 0; i < c; i++ {
		for j := 0; j < rank; j++ {
			scaled.Set(i, j, v.At(i, j)/values[j])
		}
	}
	ur := u.Slice(0, u.RawMatrix().Rows, 0, rank)
	var out mat.Dense
	out.Mul(scaled, ur.T())
	return &out
}
