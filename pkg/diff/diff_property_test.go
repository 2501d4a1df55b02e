//go:build property
// +build property

package diff

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// lines generates texts from a small alphabet of lines so that generated
// pairs share content.
func lines() gopter.Gen {
	return gen.SliceOf(gen.OneConstOf("a", "b", "c", "d", "", "a b")).Map(func(ls []string) string {
		return strings.Join(ls, "\n")
	})
}

// TestDiffProperties checks the comparison invariants
func TestDiffProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: swapping the inputs swaps added and removed, keeps unchanged
	properties.Property("swap symmetry", prop.ForAll(
		func(original, modified string) bool {
			fwd := Compute(original, modified, Options{}).Stats
			rev := Compute(modified, original, Options{}).Stats
			return fwd.LinesAdded == rev.LinesRemoved &&
				fwd.LinesRemoved == rev.LinesAdded &&
				fwd.LinesUnchanged == rev.LinesUnchanged &&
				fwd.CharsAdded == rev.CharsRemoved &&
				fwd.CharsRemoved == rev.CharsAdded &&
				fwd.CharsUnchanged == rev.CharsUnchanged
		},
		lines(),
		lines(),
	))

	// Property: line counts add up to the number of lines on each side
	properties.Property("line counts cover both inputs", prop.ForAll(
		func(original, modified string) bool {
			st := Compute(original, modified, Options{}).Stats
			return st.LinesUnchanged+st.LinesRemoved == len(splitLines(original)) &&
				st.LinesUnchanged+st.LinesAdded == len(splitLines(modified))
		},
		lines(),
		lines(),
	))

	// Property: the character diff reproduces both inputs
	properties.Property("char diff round-trips", prop.ForAll(
		func(original, modified string) bool {
			cd := Compute(original, modified, Options{}).CharDiff
			return cd.Original() == original && cd.Modified() == modified
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
