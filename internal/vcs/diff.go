package vcs

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineOp classifies one line of a diff.
type LineOp string

const (
	LineEqual  LineOp = " "
	LineInsert LineOp = "+"
	LineDelete LineOp = "-"
)

// DiffLine is one line of a line-level diff.
type DiffLine struct {
	Op      LineOp `json:"op" yaml:"op"`
	Content string `json:"content" yaml:"content"`
}

// LineStats counts inserted and deleted lines.
type LineStats struct {
	Added   int `json:"added" yaml:"added"`
	Removed int `json:"removed" yaml:"removed"`
}

// LineDiff computes a line-level diff between two texts.
func LineDiff(oldText, newText string) []DiffLine {
	var lines []DiffLine
	for _, d := range lineDiffs(oldText, newText) {
		op := LineEqual
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = LineInsert
		case diffmatchpatch.DiffDelete:
			op = LineDelete
		}
		for _, line := range splitLines(d.Text) {
			lines = append(lines, DiffLine{Op: op, Content: line})
		}
	}
	return lines
}

// ComputeLineStats counts the lines added and removed between two texts.
func ComputeLineStats(oldText, newText string) LineStats {
	var stats LineStats
	for _, d := range lineDiffs(oldText, newText) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			stats.Added += len(splitLines(d.Text))
		case diffmatchpatch.DiffDelete:
			stats.Removed += len(splitLines(d.Text))
		}
	}
	return stats
}

func lineDiffs(oldText, newText string) []diffmatchpatch.Diff {
	dmp := diffmatchpatch.New()
	src, dst, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(src, dst, false)
	return dmp.DiffCharsToLines(diffs, lineArray)
}

// splitLines splits a diff chunk into lines, dropping the empty element a
// trailing newline would produce.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
