// SPDX-License-Identifier: GPL-3.0-or-later

package script

import (
	"iter"
	"slices"
	"strings"
)

// Script is an immutable, ordered sequence of command lines.
//
// Lines are trimmed and never empty. The zero value is an empty script.
type Script struct {
	lines []string
}

// Parse splits text into lines, trims each of them, and discards
// the lines that are empty or only contain whitespace.
func Parse(text string) Script {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return Script{lines: lines}
}

// Len returns the number of lines.
func (s Script) Len() int {
	return len(s.lines)
}

// Lines returns a copy of the lines.
func (s Script) Lines() []string {
	return slices.Clone(s.lines)
}

// All iterates over the lines in textual order, yielding
// the zero-based index and the line.
func (s Script) All() iter.Seq2[int, string] {
	return slices.All(s.lines)
}

// String returns the lines joined by newlines.
func (s Script) String() string {
	return strings.Join(s.lines, "\n")
}
