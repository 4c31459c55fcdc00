// Package meshconfig reads the environment/config toggles the gateway
// core recognizes (spec §6.4).
package meshconfig

import (
	"os"
	"strconv"
	"time"
)

// Config holds the core's environment-driven toggles.
type Config struct {
	// NodeEnv is "production" in prod deployments.
	NodeEnv string
	// UnsafeAllowStdioTransport overrides the production STDIO gate.
	UnsafeAllowStdioTransport bool
	// MeshURL is used as the mesh JWT audience.
	MeshURL string
	// MonitoringEnabled toggles DB writes from the monitoring sink;
	// metrics/spans still emit when false (spec §4.B, §6.4).
	MonitoringEnabled bool
	// JWTSigningKey signs the mesh-issued JWT (spec §4.D).
	JWTSigningKey []byte
	// TokenTTL is the mesh JWT lifetime.
	TokenTTL time.Duration
}

const (
	envNodeEnv       = "NODE_ENV"
	envUnsafeStdio   = "UNSAFE_ALLOW_STDIO_TRANSPORT"
	envMeshURL       = "MESH_URL"
	envBaseURL       = "BASE_URL"
	envMonitoring    = "MESH_MONITORING_ENABLED"
	envJWTSigningKey = "MESH_JWT_SIGNING_KEY"
	envTokenTTL      = "MESH_TOKEN_TTL"
	defaultTokenTTL  = 5 * time.Minute
)

// FromEnv reads Config from the process environment.
func FromEnv() *Config {
	meshURL := os.Getenv(envMeshURL)
	if meshURL == "" {
		meshURL = os.Getenv(envBaseURL)
	}

	ttl := defaultTokenTTL
	if raw := os.Getenv(envTokenTTL); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			ttl = d
		}
	}

	return &Config{
		NodeEnv:                   os.Getenv(envNodeEnv),
		UnsafeAllowStdioTransport: boolEnv(envUnsafeStdio),
		MeshURL:                   meshURL,
		MonitoringEnabled:         boolEnv(envMonitoring),
		JWTSigningKey:             []byte(os.Getenv(envJWTSigningKey)),
		TokenTTL:                  ttl,
	}
}

func boolEnv(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return false
	}
	return v
}

// StdioAllowed reports whether STDIO transports may be used, applying
// the production gate from spec §4.A / §6.4 / seed scenario S5.
func (c *Config) StdioAllowed() bool {
	if c.NodeEnv != "production" {
		return true
	}
	return c.UnsafeAllowStdioTransport
}
