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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// The fitted model is persisted as a named sub-block container: a
// fixed-width ASCII header followed by one directory entry and one
// little-endian payload per block. float64 payloads are raw IEEE-754
// bits, so matrices round-trip exactly.

const (
	containerMagic   = "OPSGICA0"
	containerVersion = "1"

	blockFloats  = "FLT8"
	blockInts    = "INT8"
	blockStrings = "STR0"
)

// block is one named field of the persisted model.
type block struct {
	Name string // Label of the block (e.g., pca_components)
	Kind string // Payload kind: FLT8, INT8 or STR0
	Rows int    // Number of rows (vectors have Cols == 1)
	Cols int

	Floats  []float64
	Ints    []int64
	Strings []string
}

func floatsBlock(name string, v []float64) block {
	return block{Name: name, Kind: blockFloats, Rows: len(v), Cols: 1, Floats: v}
}

func matrixBlock(name string, rows, cols int, v []float64) block {
	return block{Name: name, Kind: blockFloats, Rows: rows, Cols: cols, Floats: v}
}

func intsBlock(name string, v []int64) block {
	return block{Name: name, Kind: blockInts, Rows: len(v), Cols: 1, Ints: v}
}

func stringsBlock(name string, v []string) block {
	return block{Name: name, Kind: blockStrings, Rows: len(v), Cols: 1, Strings: v}
}

// writeContainer writes the header and all blocks to w.
func writeContainer(w io.Writer, blocks []block) error {
	writer := bufio.NewWriter(w)

	if _, err := writer.WriteString(containerMagic); err != nil {
		return fmt.Errorf("error writing magic: %w", err)
	}
	if _, err := writer.WriteString(fmt.Sprintf("%-8s", containerVersion)); err != nil {
		return fmt.Errorf("error writing version: %w", err)
	}
	if _, err := writer.WriteString(fmt.Sprintf("%-4d", len(blocks))); err != nil {
		return fmt.Errorf("error writing block count: %w", err)
	}

	for _, b := range blocks {
		if len(b.Name) > 32 {
			return fmt.Errorf("block name %q too long: max is 32 bytes", b.Name)
		}
		if _, err := writer.WriteString(fmt.Sprintf("%-32s", b.Name)); err != nil {
			return fmt.Errorf("error writing block name: %w", err)
		}
		if _, err := writer.WriteString(fmt.Sprintf("%-4s", b.Kind)); err != nil {
			return fmt.Errorf("error writing block kind: %w", err)
		}
		if _, err := writer.WriteString(fmt.Sprintf("%-8d%-8d", b.Rows, b.Cols)); err != nil {
			return fmt.Errorf("error writing block dimensions: %w", err)
		}

		switch b.Kind {
		case blockFloats:
			if err := binary.Write(writer, binary.LittleEndian, b.Floats); err != nil {
				return fmt.Errorf("error writing block %q: %w", b.Name, err)
			}
		case blockInts:
			if err := binary.Write(writer, binary.LittleEndian, b.Ints); err != nil {
				return fmt.Errorf("error writing block %q: %w", b.Name, err)
			}
		case blockStrings:
			for _, s := range b.Strings {
				if _, err := writer.WriteString(fmt.Sprintf("%-8d", len(s))); err != nil {
					return fmt.Errorf("error writing block %q: %w", b.Name, err)
				}
				if _, err := writer.WriteString(s); err != nil {
					return fmt.Errorf("error writing block %q: %w", b.Name, err)
				}
			}
		default:
			return fmt.Errorf("unknown block kind %q", b.Kind)
		}
	}

	return writer.Flush()
}

// readContainer parses the header and all blocks from r.
func readContainer(r io.Reader) (map[string]block, error) {
	reader := bufio.NewReader(r)

	b := make([]byte, 20)
	if _, err := io.ReadFull(reader, b); err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}
	if string(b[0:8]) != containerMagic {
		return nil, fmt.Errorf("not an ICA container: bad magic %q", string(b[0:8]))
	}
	if v := strings.TrimSpace(string(b[8:16])); v != containerVersion {
		return nil, fmt.Errorf("unsupported container version %q", v)
	}
	count, err := strconv.Atoi(strings.TrimSpace(string(b[16:20])))
	if err != nil {
		return nil, fmt.Errorf("error parsing block count: %w", err)
	}

	blocks := make(map[string]block, count)
	for i := 0; i < count; i++ {
		hdr := make([]byte, 52)
		if _, err := io.ReadFull(reader, hdr); err != nil {
			return nil, fmt.Errorf("error reading block header: %w", err)
		}

		blk := block{
			Name: strings.TrimSpace(string(hdr[0:32])),
			Kind: strings.TrimSpace(string(hdr[32:36])),
		}
		blk.Rows, err = strconv.Atoi(strings.TrimSpace(string(hdr[36:44])))
		if err != nil {
			return nil, fmt.Errorf("error parsing block rows: %w", err)
		}
		blk.Cols, err = strconv.Atoi(strings.TrimSpace(string(hdr[44:52])))
		if err != nil {
			return nil, fmt.Errorf("error parsing block cols: %w", err)
		}
		if blk.Rows < 0 || blk.Cols < 0 {
			return nil, fmt.Errorf("block %q has negative dimensions", blk.Name)
		}
		n := blk.Rows * blk.Cols

		switch blk.Kind {
		case blockFloats:
			blk.Floats = make([]float64, n)
			if err := binary.Read(reader, binary.LittleEndian, blk.Floats); err != nil {
				return nil, fmt.Errorf("error reading block %q: %w", blk.Name, err)
			}
		case blockInts:
			blk.Ints = make([]int64, n)
			if err := binary.Read(reader, binary.LittleEndian, blk.Ints); err != nil {
				return nil, fmt.Errorf("error reading block %q: %w", blk.Name, err)
			}
		case blockStrings:
			blk.Strings = make([]string, n)
			for j := 0; j < n; j++ {
				lenBuf := make([]byte, 8)
				if _, err := io.ReadFull(reader, lenBuf); err != nil {
					return nil, fmt.Errorf("error reading block %q: %w", blk.Name, err)
				}
				slen, err := strconv.Atoi(strings.TrimSpace(string(lenBuf)))
				if err != nil || slen < 0 {
					return nil, fmt.Errorf("error parsing string length in block %q", blk.Name)
				}
				sbuf := make([]byte, slen)
				if _, err := io.ReadFull(reader, sbuf); err != nil {
					return nil, fmt.Errorf("error reading block %q: %w", blk.Name, err)
				}
				blk.Strings[j] = string(sbuf)
			}
		default:
			return nil, fmt.Errorf("unknown block kind %q in block %q", blk.Kind, blk.Name)
		}

		blocks[blk.Name] = blk
	}

	return blocks, nil
}
