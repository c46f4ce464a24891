// SPDX-License-Identifier: GPL-3.0-or-later

package script_test

import (
	"testing"

	"github.com/rbmk-project/reproharness/script"
	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},

		{
			name:  "only whitespace",
			input: " \n\t\n   \n",
			want:  nil,
		},

		{
			name:  "blank lines and trailing spaces",
			input: "a\n\nb \n  \nc",
			want:  []string{"a", "b", "c"},
		},

		{
			name:  "indented here-doc with CRLF",
			input: "\r\n  sudo ip netns add left\r\n\tsudo ip netns add right  \r\n",
			want:  []string{"sudo ip netns add left", "sudo ip netns add right"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := script.Parse(tt.input)
			assert.Equal(t, tt.want, s.Lines())
			assert.Equal(t, len(tt.want), s.Len())
		})
	}
}

func TestScriptAll(t *testing.T) {
	s := script.Parse("first\n\nsecond\nthird\n")

	var (
		indexes []int
		lines   []string
	)
	for idx, line := range s.All() {
		indexes = append(indexes, idx)
		lines = append(lines, line)
	}

	assert.Equal(t, []int{0, 1, 2}, indexes)
	assert.Equal(t, []string{"first", "second", "third"}, lines)
	assert.Equal(t, "first\nsecond\nthird", s.String())
}

func TestScriptLinesIsACopy(t *testing.T) {
	s := script.Parse("a\nb")
	lines := s.Lines()
	lines[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, s.Lines())
}
