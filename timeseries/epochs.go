// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package timeseries

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// Event marks the occurrence of a trial trigger in the original
// continuous recording.
type Event struct {
	Sample int // Sample index of the trigger
	Code   int // Event code
}

// Epochs is a trial-segmented recording: one channels x samples matrix
// per trial, all trials sharing the same channel layout and length.
type Epochs struct {
	Channels  []Channel    // Channel metadata, shared by all trials
	Bads      []string     // Names of channels marked bad
	SFreq     float64      // Sampling rate in Hz
	Events    []Event      // One event per trial
	Data      []*mat.Dense // Trial data, each channels x samples
	Preloaded bool         // Whether Data is fully resident in memory
}

// NewEpochs creates a preloaded epoched recording. Every trial must
// have one row per channel and the same number of samples.
func NewEpochs(channels []Channel, sfreq float64, events []Event, data []*mat.Dense) (*Epochs, error) {
	if len(events) != len(data) {
		return nil, fmt.Errorf("expected %d events, got %d", len(data), len(events))
	}

	var nSamples int
	for i, trial := range data {
		r, c := trial.Dims()
		if r != len(channels) {
			return nil, fmt.Errorf("trial %d: expected %d data rows, got %d", i, len(channels), r)
		}
		if i == 0 {
			nSamples = c
		} else if c != nSamples {
			return nil, fmt.Errorf("trial %d: expected %d samples, got %d", i, nSamples, c)
		}
	}

	return &Epochs{
		Channels:  slices.Clone(channels),
		SFreq:     sfreq,
		Events:    slices.Clone(events),
		Data:      data,
		Preloaded: true,
	}, nil
}

// NTrials returns the number of trials.
func (e *Epochs) NTrials() int { return len(e.Data) }

// NSamples returns the number of samples per trial, or 0 when there
// are no trials.
func (e *Epochs) NSamples() int {
	if len(e.Data) == 0 {
		return 0
	}
	_, c := e.Data[0].Dims()
	return c
}

// ChannelNames returns the channel labels in data-row order.
func (e *Epochs) ChannelNames() []string {
	names := make([]string, len(e.Channels))
	for i, ch := range e.Channels {
		names[i] = ch.Name
	}
	return names
}

// ChannelIndex returns the data row of the named channel, or -1 if the
// channel is not present.
func (e *Epochs) ChannelIndex(name string) int {
	for i, ch := range e.Channels {
		if ch.Name == name {
			return i
		}
	}
	return -1
}

// Copy returns a deep copy of the epochs.
func (e *Epochs) Copy() *Epochs {
	out := &Epochs{
		Channels:  slices.Clone(e.Channels),
		Bads:      slices.Clone(e.Bads),
		SFreq:     e.SFreq,
		Events:    slices.Clone(e.Events),
		Preloaded: e.Preloaded,
	}
	out.Data = make([]*mat.Dense, len(e.Data))
	for i, trial := range e.Data {
		out.Data[i] = mat.DenseCopyOf(trial)
	}
	return out
}
