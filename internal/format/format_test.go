// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package format

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdownTable(t *testing.T) {
	tb := NewTable(Markdown)
	tb.Header("ID", "Strength")
	tb.Row("c-1", "high")
	tb.Row("c-2", "none")

	out := tb.String()
	assert.Equal(t, 2, tb.Len())
	assert.True(t, strings.HasPrefix(out, "| ID | Strength |"), out)
	assert.Contains(t, out, "| c-2 | none |")
}

func TestASCIITable(t *testing.T) {
	tb := NewTable(ASCII)
	tb.Header("Stage", "Status")
	tb.Row("scout", "cached")
	out := tb.String()
	assert.Contains(t, out, "scout")
	assert.Contains(t, out, "┌")
}

func TestCellAndTruncate(t *testing.T) {
	assert.Equal(t, "a | b c", Cell("a | b\n  c"))
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab…", Truncate("abcd", 3))
	assert.Equal(t, "abcd", Truncate("abcd", 0))
}
