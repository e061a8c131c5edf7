package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
)

const keyPrefix = "catalogqa:answer:"

const DefaultTTL = 10 * time.Minute

// Cache stores rendered answers keyed by question and conversation state.
// Values are opaque bytes; callers own the encoding.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Purge drops every cached answer, e.g. after the catalog changes.
	Purge(ctx context.Context) error
	Close() error
}

// Key derives a cache key from the question and a fingerprint of the session
// state it was asked in. Whitespace and letter case in the question are
// ignored.
func Key(question, state string) string {
	norm := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, question)

	h := sha256.New()
	h.Write([]byte(norm))
	h.Write([]byte{0})
	h.Write([]byte(state))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}
