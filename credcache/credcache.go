// Package credcache keeps negotiated backend tokens in memory so every
// store instance for the same account reuses one authentication.
package credcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sagarc03/stowfs"
)

const (
	DefaultSize = 256
	DefaultTTL  = time.Hour
)

// Cache is a size and age bounded token cache implementing
// stowfs.TokenCache. Entries expire after the cache TTL or at the token's
// own expiry, whichever comes first.
type Cache struct {
	lru *expirable.LRU[string, stowfs.Token]
	now func() time.Time
}

var _ stowfs.TokenCache = (*Cache)(nil)

// New returns a cache holding up to size tokens for at most ttl. Zero values
// pick DefaultSize and DefaultTTL.
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		lru: expirable.NewLRU[string, stowfs.Token](size, nil, ttl),
		now: time.Now,
	}
}

// Key derives a cache key from the identity a token belongs to. Parts are
// hashed so credentials never appear in the key.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) Get(key string) (stowfs.Token, bool) {
	tok, ok := c.lru.Get(key)
	if !ok {
		return stowfs.Token{}, false
	}
	if !tok.Valid(c.now()) {
		c.lru.Remove(key)
		return stowfs.Token{}, false
	}
	return tok, true
}

func (c *Cache) Set(key string, token stowfs.Token) {
	if !token.Valid(c.now()) {
		return
	}
	c.lru.Add(key, token)
}

// Len reports the number of cached tokens, expired ones included until
// they are evicted.
func (c *Cache) Len() int {
	return c.lru.Len()
}
