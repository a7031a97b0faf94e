// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package ica

import "github.com/OpenPSG/ica/timeseries"

// RunOptions bundles the fit and detection windows for Run.
type RunOptions struct {
	Decompose DecomposeOptions
	Detect    DetectOptions
}

// Run fits a new model to a continuous recording and immediately runs
// artifact detection, returning the fitted model with its exclusion
// list populated.
func Run(raw *timeseries.Raw, cfg Config, opts RunOptions) (*ICA, error) {
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := m.DecomposeRaw(raw, opts.Decompose); err != nil {
		return nil, err
	}
	if err := m.DetectArtifacts(raw, opts.Detect); err != nil {
		return nil, err
	}
	return m, nil
}
