package hash

import (
	"context"

	"github.com/fluxorio/fluxtools/pkg/async"
	"github.com/fluxorio/fluxtools/pkg/bridge"
	"github.com/fluxorio/fluxtools/pkg/core/failfast"
	"github.com/fluxorio/fluxtools/pkg/envelope"
)

// Client is the typed caller-side API of the hash family.
type Client struct {
	bridge *bridge.Bridge
	limits Limits
}

// NewClient wraps a bridge serving envelope.FamilyHash.
func NewClient(b *bridge.Bridge, limits Limits) *Client {
	failfast.NotNil(b, "bridge")
	failfast.If(b.Family() == envelope.FamilyHash, "hash client needs a hash bridge, got %s", b.Family())
	return &Client{bridge: b, limits: limits}
}

// HashText digests the UTF-8 bytes of text.
func (c *Client) HashText(ctx context.Context, text string, alg Algorithm) *async.Future[Result] {
	if err := c.limits.checkText(len(text)); err != nil {
		return async.Failed[Result](err)
	}
	f := c.bridge.Call(ctx, envelope.OpHashText, TextRequest{Text: text, Algorithm: string(alg)})
	return bridge.Decode[Result](f)
}

// HashFile digests raw bytes.
func (c *Client) HashFile(ctx context.Context, data []byte, alg Algorithm) *async.Future[Result] {
	if err := c.limits.checkFile(len(data)); err != nil {
		return async.Failed[Result](err)
	}
	f := c.bridge.Call(ctx, envelope.OpHashFile, FileRequest{Data: data, Algorithm: string(alg)})
	return bridge.Decode[Result](f)
}
