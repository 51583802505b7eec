package middleware

import (
	"crypto/subtle"

	"retail-loyalty/pkg/errutil"

	"github.com/gin-gonic/gin"
)

const WebhookTokenHeader = "X-Webhook-Token"

// WebhookToken checks the shared secret the ERP sends with every webhook.
// An empty token disables the check.
func WebhookToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader(WebhookTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.Error(errutil.Unauthorized("invalid webhook token", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
