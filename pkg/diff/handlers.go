package diff

import (
	"context"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/envelope"
	"github.com/fluxorio/fluxtools/pkg/worker"
)

// Limits bounds the texts accepted for comparison.
type Limits struct {
	// MaxBytes bounds original and modified together.
	MaxBytes int `yaml:"max_bytes"`
	// MaxCharDiffBytes bounds each side for the character diff.
	MaxCharDiffBytes int `yaml:"max_char_diff_bytes"`
}

// DefaultLimits allows 4 MiB in total and character diffs up to 256 KiB
// per side.
func DefaultLimits() Limits {
	return Limits{MaxBytes: 4 << 20, MaxCharDiffBytes: 256 << 10}
}

func (l Limits) check(original, modified string) error {
	n := len(original) + len(modified)
	if l.MaxBytes > 0 && n > l.MaxBytes {
		return core.NewError(core.CodePayloadTooLarge, "texts are %d bytes together, limit is %d", n, l.MaxBytes)
	}
	return nil
}

// Request is the payload of envelope.OpDiffCompare.
type Request struct {
	Original string `json:"original"`
	Modified string `json:"modified"`
	Unified  bool   `json:"unified,omitempty"`
	Context  int    `json:"context,omitempty"`
}

// RegisterHandlers installs the diff operation on mux.
func RegisterHandlers(mux *worker.Mux, limits Limits) {
	mux.Handle(envelope.OpDiffCompare, worker.Typed(func(_ context.Context, req Request) (Result, error) {
		if err := limits.check(req.Original, req.Modified); err != nil {
			return Result{}, err
		}
		return Compute(req.Original, req.Modified, Options{
			Unified:          req.Unified,
			Context:          req.Context,
			MaxCharDiffBytes: limits.MaxCharDiffBytes,
		}), nil
	}))
}
