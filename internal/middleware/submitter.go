// ================== internal/middleware/submitter.go ==================
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xyz-asif/floodreport/internal/pkg/jwt"
)

const (
	// SubmitterIDKey is the gin context key holding the submitter identity.
	SubmitterIDKey = "submitterID"
	// SessionCookie carries the signed anonymous session token.
	SessionCookie = "flood_session"
)

// SubmitterByIP identifies submitters by client IP address.
func SubmitterByIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(SubmitterIDKey, c.ClientIP())
		c.Next()
	}
}

// SubmitterBySession identifies submitters by a signed session cookie,
// issuing a new session when the cookie is missing or invalid. The client
// IP is used if a token cannot be signed.
func SubmitterBySession(cfg *jwt.Config, secure bool, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, err := c.Cookie(SessionCookie); err == nil && raw != "" {
			if claims, err := jwt.ValidateToken(raw, cfg.Secret); err == nil {
				c.Set(SubmitterIDKey, "session:"+claims.SessionID)
				c.Next()
				return
			}
		}

		sessionID := uuid.NewString()
		token, expires, err := jwt.GenerateSessionToken(sessionID, cfg)
		if err != nil {
			log.WithError(err).Warn("could not issue submitter session, falling back to IP")
			c.Set(SubmitterIDKey, c.ClientIP())
			c.Next()
			return
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(SessionCookie, token, int(time.Until(expires).Seconds()), "/", "", secure, true)
		c.Set(SubmitterIDKey, "session:"+sessionID)
		c.Next()
	}
}

// SubmitterID returns the identity set by one of the submitter middlewares.
func SubmitterID(c *gin.Context) string {
	if id := c.GetString(SubmitterIDKey); id != "" {
		return id
	}
	return c.ClientIP()
}
