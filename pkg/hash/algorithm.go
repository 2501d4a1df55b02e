// Package hash computes message digests on worker contexts.
//
// The worker side registers its handlers on a worker.Mux with
// RegisterHandlers; callers use a Client over a bridge for the hash family.
package hash

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	gohash "hash"
	"strings"

	"github.com/fluxorio/fluxtools/pkg/core"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Algorithm selects a digest function.
type Algorithm string

const (
	MD5        Algorithm = "MD5"
	SHA1       Algorithm = "SHA-1"
	SHA256     Algorithm = "SHA-256"
	SHA512     Algorithm = "SHA-512"
	SHA3_256   Algorithm = "SHA3-256"
	SHA3_512   Algorithm = "SHA3-512"
	BLAKE2b256 Algorithm = "BLAKE2b-256"
	BLAKE2b512 Algorithm = "BLAKE2b-512"
)

var constructors = map[Algorithm]func() gohash.Hash{
	MD5:      md5.New,
	SHA1:     sha1.New,
	SHA256:   sha256.New,
	SHA512:   sha512.New,
	SHA3_256: func() gohash.Hash { return sha3.New256() },
	SHA3_512: func() gohash.Hash { return sha3.New512() },
	BLAKE2b256: func() gohash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	},
	BLAKE2b512: func() gohash.Hash {
		h, _ := blake2b.New512(nil)
		return h
	},
}

// Algorithms lists the supported algorithms in a stable order.
func Algorithms() []Algorithm {
	return []Algorithm{MD5, SHA1, SHA256, SHA512, SHA3_256, SHA3_512, BLAKE2b256, BLAKE2b512}
}

// lookup keys are upper-cased with separators removed: "sha-256", "SHA256"
// and "sha_256" all select SHA-256.
var lookup = func() map[string]Algorithm {
	m := make(map[string]Algorithm, len(constructors))
	for alg := range constructors {
		m[normalize(string(alg))] = alg
	}
	return m
}()

func normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "").Replace(s)
}

// ParseAlgorithm resolves a selector to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	if alg, ok := lookup[normalize(s)]; ok && s != "" {
		return alg, nil
	}
	return "", core.NewError(core.CodeInvalidAlgorithm, "unsupported algorithm %q", s)
}

// Valid reports whether a is a supported algorithm.
func (a Algorithm) Valid() bool {
	_, ok := constructors[a]
	return ok
}

// New returns a fresh digest for a.
func (a Algorithm) New() (gohash.Hash, error) {
	ctor, ok := constructors[a]
	if !ok {
		return nil, core.NewError(core.CodeInvalidAlgorithm, "unsupported algorithm %q", a)
	}
	return ctor(), nil
}

// Sum returns the lowercase hex digest of data.
func Sum(alg Algorithm, data []byte) (string, error) {
	h, err := alg.New()
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
