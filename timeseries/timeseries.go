// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package timeseries provides in-memory containers for multichannel
// MEG/EEG sensor data: continuous recordings and trial-segmented epochs.
package timeseries

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// ChannelType identifies the sensor modality of a channel.
type ChannelType string

const (
	Mag  ChannelType = "mag"  // Magnetometer (MEG)
	Grad ChannelType = "grad" // Gradiometer (MEG)
	EEG  ChannelType = "eeg"  // Electroencephalogram electrode
	EOG  ChannelType = "eog"  // Electrooculogram electrode
	ECG  ChannelType = "ecg"  // Electrocardiogram electrode
	Stim ChannelType = "stim" // Stimulus/trigger channel
	Misc ChannelType = "misc" // Anything else
)

// Channel describes a single sensor channel.
type Channel struct {
	Name string      // Label of the channel (e.g., MEG 1531, EOG 061)
	Type ChannelType // Sensor modality
}

// Raw is a continuous multichannel recording. Data is laid out as one
// row per channel and one column per sample.
type Raw struct {
	Channels  []Channel  // Channel metadata, one entry per data row
	Bads      []string   // Names of channels marked bad
	SFreq     float64    // Sampling rate in Hz
	FirstSamp int        // Index of the first sample in the original recording
	Data      *mat.Dense // Sensor data, channels x samples
	Preloaded bool       // Whether Data is fully resident in memory
}

// NewRaw creates a preloaded continuous recording. The number of rows
// of data must match the number of channels.
func NewRaw(channels []Channel, sfreq float64, data *mat.Dense) (*Raw, error) {
	r, _ := data.Dims()
	if r != len(channels) {
		return nil, fmt.Errorf("expected %d data rows, got %d", len(channels), r)
	}

	return &Raw{
		Channels:  slices.Clone(channels),
		SFreq:     sfreq,
		Data:      data,
		Preloaded: true,
	}, nil
}

// NSamples returns the number of samples per channel.
func (r *Raw) NSamples() int {
	_, c := r.Data.Dims()
	return c
}

// ChannelNames returns the channel labels in data-row order.
func (r *Raw) ChannelNames() []string {
	names := make([]string, len(r.Channels))
	for i, ch := range r.Channels {
		names[i] = ch.Name
	}
	return names
}

// ChannelIndex returns the data row of the named channel, or -1 if the
// channel is not present.
func (r *Raw) ChannelIndex(name string) int {
	for i, ch := range r.Channels {
		if ch.Name == name {
			return i
		}
	}
	return -1
}

// Copy returns a deep copy of the recording.
func (r *Raw) Copy() *Raw {
	out := &Raw{
		Channels:  slices.Clone(r.Channels),
		Bads:      slices.Clone(r.Bads),
		SFreq:     r.SFreq,
		FirstSamp: r.FirstSamp,
		Preloaded: r.Preloaded,
	}
	if r.Data != nil {
		out.Data = mat.DenseCopyOf(r.Data)
	}
	return out
}

// PickTypes returns the indices of channels matching any of the given
// types, skipping channels listed in bads. With no types given, all
// non-bad channels are returned.
func PickTypes(channels []Channel, bads []string, types ...ChannelType) []int {
	var picks []int
	for i, ch := range channels {
		if slices.Contains(bads, ch.Name) {
			continue
		}
		if len(types) == 0 || slices.Contains(types, ch.Type) {
			picks = append(picks, i)
		}
	}
	return picks
}
