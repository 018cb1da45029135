package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const metaKey = "response_meta"

// WithResponseMeta seeds a metadata map on the request context so handlers
// can attach response annotations, and stamps the elapsed handler time
// after the chain completes.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set(metaKey, map[string]interface{}{})
		c.Next()
		meta := metaMap(c)
		if _, set := meta["processing_time_ms"]; !set {
			meta["processing_time_ms"] = time.Since(start).Milliseconds()
		}
	}
}

// SetCacheHit marks whether the response body came from the catalog cache.
func SetCacheHit(c *gin.Context, hit bool) {
	metaMap(c)["cache_hit"] = hit
}

// ExtractMeta returns the accumulated metadata, or nil when the middleware
// did not run on this request.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	if stored, ok := c.Get(metaKey); ok {
		if meta, ok := stored.(map[string]interface{}); ok {
			return meta
		}
	}
	return nil
}

// metaMap never returns nil; it installs a fresh map when a caller runs
// ahead of WithResponseMeta.
func metaMap(c *gin.Context) map[string]interface{} {
	if meta := ExtractMeta(c); meta != nil {
		return meta
	}
	meta := make(map[string]interface{})
	if c != nil {
		c.Set(metaKey, meta)
	}
	return meta
}
