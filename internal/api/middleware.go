package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"portfoliochat/internal/chaterr"
)

// Recovery converts panics into the JSON error envelope. http.ErrAbortHandler
// is re-raised so the server closes the connection mid-stream.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if r == http.ErrAbortHandler {
				panic(r)
			}
			log.Printf("[api] panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, r)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   chaterr.KindProvider.Title(),
				"details": "internal server error",
			})
		}()
		c.Next()
	}
}
