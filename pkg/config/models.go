package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	// JWTSecret enables the bearer-token gate on the upgrade endpoint when
	// non-empty. Tokens are opaque to the chat core.
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerIP int `mapstructure:"maxPerIP"`
}

type TransportConfig struct {
	ReadTimeout       time.Duration `mapstructure:"readTimeout"`
	SendTimeout       time.Duration `mapstructure:"sendTimeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}
