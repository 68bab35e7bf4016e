// Package dedupe remembers recently answered requests so that a request
// retransmitted by the controller is answered again without repeating its
// side effects.
//
// Entries live in a fixed-size circular buffer keyed by a truncated SHA-256
// hash of the request token, method and payload. The oldest entry is
// overwritten when the buffer is full. An entry older than the
// retransmission window no longer matches, so a later controller session
// that reuses a token still has its request executed.
package dedupe

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/kabili207/whisper-go/core/codec"
)

const (
	// DefaultCapacity is the default number of remembered requests.
	DefaultCapacity = 32
	// DefaultTTL is the default retransmission window.
	DefaultTTL = 30 * time.Second
	// KeySize is the truncated SHA-256 key size.
	KeySize = 8
)

// Config configures a Cache.
type Config struct {
	// Capacity is the number of remembered requests. Default: 32.
	Capacity int
	// TTL is how long a stored response answers retransmissions.
	// Default: 30 seconds.
	TTL time.Duration
	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// Key identifies one request.
type Key [KeySize]byte

type entry struct {
	key    Key
	resp   codec.Response
	stored time.Time
	used   bool
}

// Cache is a circular request/response cache. It is safe for concurrent use.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries []entry
	next    int
}

// New creates a Cache with the default capacity and window.
func New() *Cache {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a Cache from cfg, applying defaults to zero fields.
func NewWithConfig(cfg Config) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{ttl: cfg.TTL, now: cfg.Now, entries: make([]entry, cfg.Capacity)}
}

// Lookup returns the cached response for req if it was stored within the
// retransmission window.
func (c *Cache) Lookup(req *codec.Request) (*codec.Response, bool) {
	k := KeyFor(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for i := range c.entries {
		e := &c.entries[i]
		if e.used && e.key == k {
			if now.Sub(e.stored) >= c.ttl {
				*e = entry{}
				return nil, false
			}
			resp := e.resp
			resp.Payload = append([]byte(nil), e.resp.Payload...)
			return &resp, true
		}
	}
	return nil, false
}

// Store records the response sent for req.
func (c *Cache) Store(req *codec.Request, resp *codec.Response) {
	k := KeyFor(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for i := range c.entries {
		if c.entries[i].used && c.entries[i].key == k {
			c.entries[i].resp = copyResponse(resp)
			c.entries[i].stored = now
			return
		}
	}

	c.entries[c.next] = entry{key: k, resp: copyResponse(resp), stored: now, used: true}
	c.next = (c.next + 1) % len(c.entries)
}

// Clear forgets all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.next = 0
}

// KeyFor computes the cache key of a request.
func KeyFor(req *codec.Request) Key {
	h := sha256.New()
	var hdr [3]byte
	binary.BigEndian.PutUint16(hdr[0:2], req.Token)
	hdr[2] = byte(req.Method)
	h.Write(hdr[:])
	h.Write(req.Payload)
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

func copyResponse(r *codec.Response) codec.Response {
	out := *r
	out.Payload = append([]byte(nil), r.Payload...)
	return out
}
