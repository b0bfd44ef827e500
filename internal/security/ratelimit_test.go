package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestLimiterStoreAllow(t *testing.T) {
	s := NewLimiterStore(60, 2)

	// Burst of 2, then the bucket is empty.
	assert.True(t, s.Allow("alice"))
	assert.True(t, s.Allow("alice"))
	assert.False(t, s.Allow("alice"))

	// Separate callers have separate buckets.
	assert.True(t, s.Allow("bob"))
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/ping",
		func(c *gin.Context) { c.Set(ContextKeySubject, "alice"); c.Next() },
		RateLimitMiddleware(60, 1),
		func(c *gin.Context) { c.String(http.StatusOK, "pong") },
	)

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRateLimitDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/ping", RateLimitMiddleware(0, 0), func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestParseMetricsLabels(t *testing.T) {
	labels, err := ParseMetricsLabels("service=messaging-service,env=test")
	assert.NoError(t, err)
	assert.Equal(t, "messaging-service", labels["service"])
	assert.Equal(t, "test", labels["env"])

	labels, err = ParseMetricsLabels("")
	assert.NoError(t, err)
	assert.Nil(t, labels)

	_, err = ParseMetricsLabels("missing-equals")
	assert.Error(t, err)

	_, err = ParseMetricsLabels("9bad=key")
	assert.Error(t, err)
}
