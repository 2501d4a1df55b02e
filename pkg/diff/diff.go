// Package diff compares two texts on worker contexts.
//
// Compute produces a minimal line-level and character-level change list.
// The number of unchanged lines is the length of the longest common
// subsequence, so swapping the inputs swaps the added and removed counts
// and keeps the unchanged count. Lines are compared byte for byte: "a\r\n"
// and "a\n" are different lines, as they are in the character diff.
package diff

import (
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Op is the kind of a change.
type Op string

const (
	OpEqual  Op = "equal"
	OpInsert Op = "insert"
	OpDelete Op = "delete"
)

// Change is one run of equal, inserted or deleted content. Count is the
// number of lines in a line diff and the number of characters in a
// character diff.
type Change struct {
	Op    Op     `json:"op"`
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// ChangeList is an ordered edit script from original to modified.
type ChangeList []Change

// Original rebuilds the original side of a character diff.
func (cl ChangeList) Original() string {
	return cl.side(OpDelete)
}

// Modified rebuilds the modified side of a character diff.
func (cl ChangeList) Modified() string {
	return cl.side(OpInsert)
}

func (cl ChangeList) side(keep Op) string {
	var b strings.Builder
	for _, c := range cl {
		if c.Op == OpEqual || c.Op == keep {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// Stats aggregates a comparison.
type Stats struct {
	LinesAdded     int `json:"linesAdded"`
	LinesRemoved   int `json:"linesRemoved"`
	LinesUnchanged int `json:"linesUnchanged"`
	CharsAdded     int `json:"charsAdded"`
	CharsRemoved   int `json:"charsRemoved"`
	CharsUnchanged int `json:"charsUnchanged"`
}

// Result is the outcome of a comparison.
type Result struct {
	LineDiff ChangeList `json:"lineDiff"`
	CharDiff ChangeList `json:"charDiff"`
	Stats    Stats      `json:"stats"`
	Unified  string     `json:"unified,omitempty"`

	// CharDiffSkipped is set when the inputs exceed the character diff
	// limit; CharDiff and the character stats are then empty.
	CharDiffSkipped bool `json:"charDiffSkipped,omitempty"`
}

// Options tunes Compute.
type Options struct {
	// Unified adds a unified diff rendering to the result.
	Unified bool
	// Context is the number of context lines in the unified rendering.
	// Default: 3.
	Context int
	// OriginalName and ModifiedName label the unified headers.
	OriginalName string
	ModifiedName string
	// MaxCharDiffBytes skips the character diff when either input is
	// larger. 0 means no limit.
	MaxCharDiffBytes int
}

// Compute compares original with modified.
func Compute(original, modified string, opts Options) Result {
	var res Result

	res.LineDiff = lineDiff(original, modified)
	for _, c := range res.LineDiff {
		switch c.Op {
		case OpInsert:
			res.Stats.LinesAdded += c.Count
		case OpDelete:
			res.Stats.LinesRemoved += c.Count
		default:
			res.Stats.LinesUnchanged += c.Count
		}
	}

	if opts.MaxCharDiffBytes > 0 && (len(original) > opts.MaxCharDiffBytes || len(modified) > opts.MaxCharDiffBytes) {
		res.CharDiffSkipped = true
		res.CharDiff = ChangeList{}
	} else {
		res.CharDiff = charDiff(original, modified)
		for _, c := range res.CharDiff {
			switch c.Op {
			case OpInsert:
				res.Stats.CharsAdded += c.Count
			case OpDelete:
				res.Stats.CharsRemoved += c.Count
			default:
				res.Stats.CharsUnchanged += c.Count
			}
		}
	}

	if opts.Unified {
		res.Unified = unified(original, modified, opts)
	}
	return res
}

func newMatcher() *diffmatchpatch.DiffMatchPatch {
	dmp := diffmatchpatch.New()
	// No deadline: a timed-out bisection is not minimal.
	dmp.DiffTimeout = 0
	return dmp
}

func charDiff(original, modified string) ChangeList {
	diffs := newMatcher().DiffMain(original, modified, false)
	out := make(ChangeList, 0, len(diffs))
	for _, d := range diffs {
		out = append(out, Change{Op: opOf(d.Type), Text: d.Text, Count: utf8.RuneCountInString(d.Text)})
	}
	return out
}

// lineDiff maps every distinct line to one rune and diffs the rune
// sequences, so each line is compared as a single token.
func lineDiff(original, modified string) ChangeList {
	a, b := splitLines(original), splitLines(modified)

	index := make(map[string]rune)
	var lines []string
	encode := func(ls []string) []rune {
		rs := make([]rune, len(ls))
		for i, l := range ls {
			r, ok := index[l]
			if !ok {
				r = tokenRune(len(lines))
				index[l] = r
				lines = append(lines, l)
			}
			rs[i] = r
		}
		return rs
	}
	ra, rb := encode(a), encode(b)

	diffs := newMatcher().DiffMainRunes(ra, rb, false)
	out := make(ChangeList, 0, len(diffs))
	for _, d := range diffs {
		var text strings.Builder
		n := 0
		for _, r := range d.Text {
			text.WriteString(lines[tokenIndex(r)])
			text.WriteByte('\n')
			n++
		}
		out = append(out, Change{Op: opOf(d.Type), Text: text.String(), Count: n})
	}
	return out
}

// Line tokens skip the surrogate range, which does not survive a
// round-trip through a Go string.
func tokenRune(i int) rune {
	r := rune(i)
	if r >= 0xD800 {
		r += 0x800
	}
	return r
}

func tokenIndex(r rune) int {
	if r >= 0xE000 {
		r -= 0x800
	}
	return int(r)
}

// splitLines splits on "\n". An empty text has no lines and a trailing
// newline does not start a new one. A "\r" before the newline stays part of
// the line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func opOf(t diffmatchpatch.Operation) Op {
	switch t {
	case diffmatchpatch.DiffInsert:
		return OpInsert
	case diffmatchpatch.DiffDelete:
		return OpDelete
	}
	return OpEqual
}

func unified(original, modified string, opts Options) string {
	ctx := opts.Context
	if ctx <= 0 {
		ctx = 3
	}
	from, to := opts.OriginalName, opts.ModifiedName
	if from == "" {
		from = "original"
	}
	if to == "" {
		to = "modified"
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(modified),
		FromFile: from,
		ToFile:   to,
		Context:  ctx,
	})
	if err != nil {
		return ""
	}
	return text
}
