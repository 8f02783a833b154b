// Package mw holds the gin middleware shared by the API routes.
package mw

import (
	"bytes"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

type cachedResponse struct {
	status  int
	headers http.Header
	body    []byte
}

func (r cachedResponse) replay(w gin.ResponseWriter) {
	for k, v := range r.headers {
		w.Header()[k] = v
	}
	w.Header().Set("X-Cache", "HIT")
	w.WriteHeader(r.status)
	w.Write(r.body)
}

// capture tees the handler's output into buf.
type capture struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *capture) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capture) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// ResponseCache keeps successful GET responses for a short time, keyed by
// the full request URI.
type ResponseCache struct {
	store *cache.Cache
	ttl   time.Duration
	// gen is bumped by Purge; responses rendered across a purge are dropped.
	gen atomic.Uint64
}

// NewResponseCache creates a cache whose entries live for ttl.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		store: cache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// Purge drops every cached response. It is called whenever the data behind
// the cached routes changes.
func (rc *ResponseCache) Purge() {
	rc.gen.Add(1)
	rc.store.Flush()
}

// Len returns the number of cached responses.
func (rc *ResponseCache) Len() int {
	return rc.store.ItemCount()
}

// Middleware serves cached responses and records new 2xx ones.
func (rc *ResponseCache) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rc.ttl <= 0 || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := c.Request.RequestURI
		if hit, ok := rc.store.Get(key); ok {
			hit.(cachedResponse).replay(c.Writer)
			c.Abort()
			return
		}

		gen := rc.gen.Load()
		w := &capture{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := w.Status()
		if status < 200 || status >= 300 || rc.gen.Load() != gen {
			return
		}
		rc.store.Set(key, cachedResponse{
			status:  status,
			headers: w.Header().Clone(),
			body:    bytes.Clone(w.buf.Bytes()),
		}, cache.DefaultExpiration)
	}
}
