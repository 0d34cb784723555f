package middleware

import (
	"github.com/gin-gonic/gin"
)

const RealIPKey = "real_ip"

// RealIP sets the client IP into Gin context (key: "real_ip").
// The IP comes from c.ClientIP(), so X-Forwarded-For / X-Real-IP are honored
// only when the peer is one of the engine's trusted proxies (see
// ConfigureProxies). Any other peer is identified by its socket address.
func RealIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = c.RemoteIP()
		}
		c.Set(RealIPKey, ip)
		c.Next()
	}
}

// ConfigureProxies restricts which peers may set forwarding headers. An
// empty list trusts none. behindCloudflare additionally honors
// CF-Connecting-IP and must only be set when all traffic arrives through
// Cloudflare.
func ConfigureProxies(engine *gin.Engine, trusted []string, behindCloudflare bool) error {
	if len(trusted) == 0 {
		trusted = nil
	}
	if err := engine.SetTrustedProxies(trusted); err != nil {
		return err
	}
	if behindCloudflare {
		engine.TrustedPlatform = gin.PlatformCloudflare
	}
	return nil
}
