package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestWithResponseMetaStampsProcessingTime(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(WithResponseMeta())

	var meta map[string]interface{}
	r.GET("/courses", func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, meta)
	assert.Equal(t, true, meta["cache_hit"])
	assert.Contains(t, meta, "processing_time_ms")
}

func TestExtractMetaWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	assert.Nil(t, ExtractMeta(c))

	// A handler writing ahead of the middleware still gets a live map.
	SetCacheHit(c, false)
	meta := ExtractMeta(c)
	assert.NotNil(t, meta)
	assert.Equal(t, false, meta["cache_hit"])
}
