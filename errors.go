// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package ica

import "errors"

var (
	// ErrBadConfig indicates invalid parameters: a component count that
	// cannot be satisfied, a malformed variance fraction, a target whose
	// length does not match, or an invalid include/exclude combination.
	ErrBadConfig = errors.New("invalid configuration")

	// ErrNotFitted indicates a transform, export or save operation on a
	// model that has not been fitted.
	ErrNotFitted = errors.New("model is not fitted")

	// ErrAlreadyFitted indicates a second decompose call on a model that
	// has already been fitted. Models are fitted exactly once.
	ErrAlreadyFitted = errors.New("model is already fitted")

	// ErrModalityMismatch indicates a query against a data modality
	// (continuous vs epoched) other than the one used for fitting.
	ErrModalityMismatch = errors.New("fit and query data modalities differ")

	// ErrNotPreloaded indicates a reconstruction attempt on a data
	// source that is not fully resident in memory.
	ErrNotPreloaded = errors.New("data source is not preloaded")
)
