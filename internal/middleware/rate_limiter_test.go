package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	now := time.Now()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allowAt("203.0.113.7", now), "request %d", i)
	}
	assert.False(t, rl.allowAt("203.0.113.7", now))

	// other clients have their own bucket
	assert.True(t, rl.allowAt("203.0.113.8", now))

	// the bucket refills over time
	assert.True(t, rl.allowAt("203.0.113.7", now.Add(time.Second)))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.allowAt("203.0.113.7", time.Now().Add(-time.Hour))
	rl.allowAt("203.0.113.8", time.Now())

	assert.Equal(t, 1, rl.Cleanup())
	assert.Len(t, rl.visitors, 1)
}

func TestRateLimiter_Middleware(t *testing.T) {
	router := setupTestRouter()
	router.Use(NewRateLimiter(0.001, 2).Middleware())
	router.GET("/availability", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	assert.Equal(t, http.StatusOK, doRequest(router, "/availability", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(router, "/availability", "").Code)

	w := doRequest(router, "/availability", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
}
