package ratelimit

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayGuard/internal/pkg/env"
)

// ProxyConfig decides whose X-Forwarded-For is believed. By default no proxy
// is trusted and the socket address identifies the caller.
type ProxyConfig struct {
	Trust   bool
	Proxies []string
}

// ProxyConfigFromEnv reads RATE_LIMIT_TRUST_PROXY and the comma separated
// RATE_LIMIT_TRUSTED_PROXIES (addresses or CIDR ranges).
func ProxyConfigFromEnv() ProxyConfig {
	cfg := ProxyConfig{Trust: env.GetEnvBool("RATE_LIMIT_TRUST_PROXY", false)}
	for _, p := range strings.Split(env.GetEnv("RATE_LIMIT_TRUSTED_PROXIES", ""), ",") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.Proxies = append(cfg.Proxies, p)
		}
	}
	return cfg
}

// Apply configures c.IP(). The forwarded header is only read when the peer is
// one of the listed proxies, so trusting without a list trusts nobody.
func (p ProxyConfig) Apply(cfg *fiber.Config) {
	if !p.Trust {
		return
	}
	cfg.ProxyHeader = fiber.HeaderXForwardedFor
	cfg.EnableTrustedProxyCheck = true
	cfg.TrustedProxies = p.Proxies
	cfg.EnableIPValidation = true
}
