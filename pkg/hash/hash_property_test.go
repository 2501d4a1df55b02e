//go:build property
// +build property

package hash

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func reference(alg Algorithm, data []byte) string {
	switch alg {
	case MD5:
		s := md5.Sum(data)
		return hex.EncodeToString(s[:])
	case SHA1:
		s := sha1.Sum(data)
		return hex.EncodeToString(s[:])
	case SHA256:
		s := sha256.Sum256(data)
		return hex.EncodeToString(s[:])
	case SHA512:
		s := sha512.Sum512(data)
		return hex.EncodeToString(s[:])
	}
	return ""
}

// TestHashProperties checks facade results against directly computed digests
func TestHashProperties(t *testing.T) {
	c := newTestClient(t, DefaultLimits())
	ctx := context.Background()
	required := gen.OneConstOf(MD5, SHA1, SHA256, SHA512)

	properties := gopter.NewProperties(nil)

	// Property: hashText matches a reference digest computed in-process
	properties.Property("hashText matches reference", prop.ForAll(
		func(text string, alg Algorithm) bool {
			res, err := c.HashText(ctx, text, alg).Await(ctx)
			return err == nil && res.Hash == reference(alg, []byte(text))
		},
		gen.AnyString(),
		required,
	))

	// Property: hashing bytes as a file equals hashing them as text
	properties.Property("hashFile equals hashText for UTF-8 content", prop.ForAll(
		func(text string, alg Algorithm) bool {
			byText, err1 := c.HashText(ctx, text, alg).Await(ctx)
			byFile, err2 := c.HashFile(ctx, []byte(text), alg).Await(ctx)
			return err1 == nil && err2 == nil && byText.Hash == byFile.Hash
		},
		gen.AnyString(),
		required,
	))

	// Property: arbitrary binary content round-trips the boundary intact
	properties.Property("hashFile is binary safe", prop.ForAll(
		func(data []byte) bool {
			res, err := c.HashFile(ctx, data, SHA256).Await(ctx)
			return err == nil && res.Hash == reference(SHA256, data)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
