package hash

import (
	"context"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/envelope"
	"github.com/fluxorio/fluxtools/pkg/worker"
)

// Limits bounds the payloads accepted for hashing.
type Limits struct {
	MaxTextBytes int `yaml:"max_text_bytes"`
	MaxFileBytes int `yaml:"max_file_bytes"`
}

// DefaultLimits allows 10 MiB of text and 32 MiB files.
func DefaultLimits() Limits {
	return Limits{MaxTextBytes: 10 << 20, MaxFileBytes: 32 << 20}
}

func (l Limits) checkText(n int) error {
	if l.MaxTextBytes > 0 && n > l.MaxTextBytes {
		return core.NewError(core.CodePayloadTooLarge, "text is %d bytes, limit is %d", n, l.MaxTextBytes)
	}
	return nil
}

func (l Limits) checkFile(n int) error {
	if l.MaxFileBytes > 0 && n > l.MaxFileBytes {
		return core.NewError(core.CodePayloadTooLarge, "file is %d bytes, limit is %d", n, l.MaxFileBytes)
	}
	return nil
}

// TextRequest is the payload of envelope.OpHashText.
type TextRequest struct {
	Text      string `json:"text"`
	Algorithm string `json:"algorithm"`
}

// FileRequest is the payload of envelope.OpHashFile. Data travels as
// base64 in JSON and is hashed byte for byte.
type FileRequest struct {
	Data      []byte `json:"data"`
	Algorithm string `json:"algorithm"`
}

// Result is the outcome of both hash operations.
type Result struct {
	Hash      string    `json:"hash"`
	Algorithm Algorithm `json:"algorithm,omitempty"`
}

// RegisterHandlers installs the hash operations on mux.
func RegisterHandlers(mux *worker.Mux, limits Limits) {
	mux.Handle(envelope.OpHashText, worker.Typed(func(_ context.Context, req TextRequest) (Result, error) {
		if err := limits.checkText(len(req.Text)); err != nil {
			return Result{}, err
		}
		return digest(req.Algorithm, []byte(req.Text))
	}))
	mux.Handle(envelope.OpHashFile, worker.Typed(func(_ context.Context, req FileRequest) (Result, error) {
		if err := limits.checkFile(len(req.Data)); err != nil {
			return Result{}, err
		}
		return digest(req.Algorithm, req.Data)
	}))
}

func digest(selector string, data []byte) (Result, error) {
	alg, err := ParseAlgorithm(selector)
	if err != nil {
		return Result{}, err
	}
	sum, err := Sum(alg, data)
	if err != nil {
		return Result{}, err
	}
	return Result{Hash: sum, Algorithm: alg}, nil
}
