package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Liveness  LivenessConfig
}

type ServerConfig struct {
	Address string
	// Origin patterns accepted during the WebSocket handshake.
	AllowedOrigins  []string `mapstructure:"allowedOrigins"`
	DefaultRoom     string   `mapstructure:"defaultRoom"`
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	// Gates the /ws upgrade only. Usernames announced after the upgrade
	// are never authenticated.
	Enabled    bool
	JWTSecret  string `mapstructure:"jwtSecret"`
	CookieName string `mapstructure:"cookieName"`
}

type ConnectionLimitConfig struct {
	MaxPerIP int    `mapstructure:"maxPerIP"`
	Mode     string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// LivenessConfig tunes the per-connection heartbeat monitor.
type LivenessConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	MaxMissedBeats int           `mapstructure:"maxMissedBeats"`
	MaxProbes      int           `mapstructure:"maxProbes"`
}
