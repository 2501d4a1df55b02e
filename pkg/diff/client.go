package diff

import (
	"context"

	"github.com/fluxorio/fluxtools/pkg/async"
	"github.com/fluxorio/fluxtools/pkg/bridge"
	"github.com/fluxorio/fluxtools/pkg/core/failfast"
	"github.com/fluxorio/fluxtools/pkg/envelope"
)

// Client is the typed caller-side API of the diff family. It does no
// diffing itself.
type Client struct {
	bridge *bridge.Bridge
	limits Limits
}

// NewClient wraps a bridge serving envelope.FamilyDiff.
func NewClient(b *bridge.Bridge, limits Limits) *Client {
	failfast.NotNil(b, "bridge")
	failfast.If(b.Family() == envelope.FamilyDiff, "diff client needs a diff bridge, got %s", b.Family())
	return &Client{bridge: b, limits: limits}
}

// Compare diffs original against modified.
func (c *Client) Compare(ctx context.Context, original, modified string) *async.Future[Result] {
	return c.CompareWith(ctx, Request{Original: original, Modified: modified})
}

// CompareWith sends a fully specified request.
func (c *Client) CompareWith(ctx context.Context, req Request) *async.Future[Result] {
	if err := c.limits.check(req.Original, req.Modified); err != nil {
		return async.Failed[Result](err)
	}
	return bridge.Decode[Result](c.bridge.Call(ctx, envelope.OpDiffCompare, req))
}
