// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package ica

import "fmt"

type countKind uint8

const (
	countDefault countKind = iota
	countExact
	countFraction
)

// ComponentCount requests a number of components either directly, as a
// cumulative explained-variance fraction, or by deferring to the full
// PCA rank. The zero value is Default.
type ComponentCount struct {
	kind     countKind
	n        int
	fraction float64
}

// Default defers the component count: the full PCA rank at fit time,
// or the value recorded at fit time for reconstruction parameters.
func Default() ComponentCount { return ComponentCount{} }

// Exact requests exactly n components.
func Exact(n int) ComponentCount {
	return ComponentCount{kind: countExact, n: n}
}

// VarianceFraction requests the smallest number of leading components
// whose cumulative explained-variance ratio reaches f, with f in (0,1].
func VarianceFraction(f float64) ComponentCount {
	return ComponentCount{kind: countFraction, fraction: f}
}

// IsDefault reports whether the count defers to the fit-time value.
func (c ComponentCount) IsDefault() bool { return c.kind == countDefault }

func (c ComponentCount) String() string {
	switch c.kind {
	case countExact:
		return fmt.Sprintf("%d", c.n)
	case countFraction:
		return fmt.Sprintf("%.3g of variance", c.fraction)
	default:
		return "default"
	}
}

// validate checks the count against the maximum PCA rank. maxPCA <= 0
// means the maximum is not yet known.
func (c ComponentCount) validate(maxPCA int) error {
	switch c.kind {
	case countExact:
		if c.n < 1 {
			return fmt.Errorf("%w: component count must be positive, got %d", ErrBadConfig, c.n)
		}
		if maxPCA > 0 && c.n > maxPCA {
			return fmt.Errorf("%w: component count %d exceeds max PCA components %d", ErrBadConfig, c.n, maxPCA)
		}
	case countFraction:
		if c.fraction <= 0 || c.fraction > 1 {
			return fmt.Errorf("%w: variance fraction must be in (0, 1], got %g", ErrBadConfig, c.fraction)
		}
	}
	return nil
}

// resolve maps the count onto a concrete component count given the PCA
// explained variances (descending order). Fractions take the smallest
// prefix whose cumulative explained-variance ratio reaches the
// requested fraction; Default resolves to the full rank.
func (c ComponentCount) resolve(explainedVar []float64) (int, error) {
	if err := c.validate(len(explainedVar)); err != nil {
		return 0, err
	}

	switch c.kind {
	case countExact:
		return c.n, nil
	case countFraction:
		var total float64
		for _, v := range explainedVar {
			total += v
		}
		if total <= 0 {
			return 1, nil
		}
		var cum float64
		for i, v := range explainedVar {
			cum += v
			if cum/total >= c.fraction {
				return i + 1, nil
			}
		}
		return len(explainedVar), nil
	default:
		return len(explainedVar), nil
	}
}
