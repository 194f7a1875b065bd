package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepsake-dev/keepsake/internal/vcs"
)

func TestPlainPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)
	assert.False(t, p.Color(), "a buffer is not a terminal")

	p.Success("committed %d files", 2)
	p.Warn("slow")
	p.Error("boom")
	assert.Equal(t, "ok: committed 2 files\nwarning: slow\nerror: boom\n", buf.String())
	assert.Equal(t, "abc1234", p.Hash("abc1234"))
}

func TestTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)
	p.Table([]string{"ID", "PATH"}, [][]string{
		{"1a2b3c4d", "/home/me/notes"},
		{"ff", "/tmp"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID        PATH", lines[0])
	assert.Equal(t, "1a2b3c4d  /home/me/notes", lines[1])
	assert.Equal(t, "ff        /tmp", lines[2])
}

func TestDiffOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)
	p.Diff(vcs.LineDiff("a\nb\n", "a\nc\n"))
	assert.Equal(t, " a\n-b\n+c\n", buf.String())
	assert.Equal(t, "+1 -1", p.Stats(vcs.LineStats{Added: 1, Removed: 1}))
}

func TestEncode(t *testing.T) {
	v := map[string]any{"hash": "abc", "paths": []string{"a.txt"}}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatJSON, v))
	assert.JSONEq(t, `{"hash":"abc","paths":["a.txt"]}`, buf.String())

	buf.Reset()
	require.NoError(t, Encode(&buf, FormatYAML, v))
	assert.Equal(t, "hash: abc\npaths:\n  - a.txt\n", buf.String())

	assert.Error(t, Encode(&buf, FormatText, v))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "TEXT": FormatText, "json": FormatJSON, "yaml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestRelativeTimeAndPlural(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "3 minutes ago", RelativeTime(now.Add(-3*time.Minute), now))
	assert.Equal(t, "1 file", Plural(1, "file", "files"))
	assert.Equal(t, "1,200 files", Plural(1200, "file", "files"))
	assert.Equal(t, "1.2 kB", Bytes(1200))
}

func TestParseTime(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-10T08:00:00Z", time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)},
		{"2024-01-10 08:15", time.Date(2024, 1, 10, 8, 15, 0, 0, time.UTC)},
		{"2024-01-10", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)},
		{"2 hours ago", now.Add(-2 * time.Hour)},
	}
	for _, tt := range tests {
		got, err := ParseTime(tt.in, now)
		require.NoError(t, err, tt.in)
		assert.True(t, got.Equal(tt.want), "ParseTime(%q) = %v, want %v", tt.in, got, tt.want)
	}

	_, err := ParseTime("", now)
	assert.Error(t, err)
	_, err = ParseTime("the color blue", now)
	assert.Error(t, err)
}

func TestConfirmAssumeYes(t *testing.T) {
	ok, err := Confirm("Relocate?", "", "Relocate", true)
	require.NoError(t, err)
	assert.True(t, ok)
}
