package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort      string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL   string `env:"DATABASE_URL,required"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	JWTSecret         string `env:"JWT_SECRET,required"`
	JWTTTLMinutes     int    `env:"JWT_TTL_MINUTES" envDefault:"1440"`
	SessionTTLSeconds int    `env:"SESSION_TTL_SECONDS" envDefault:"86400"`

	CleanupIntervalMinutes int `env:"CLEANUP_INTERVAL_MINUTES" envDefault:"60"`

	LoginWindowMinutes int `env:"LOGIN_WINDOW_MINUTES" envDefault:"10"`
	LoginMaxAttempts   int `env:"LOGIN_MAX_ATTEMPTS" envDefault:"5"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SessionTTL devuelve la vida util configurada para una sesion.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// CleanupInterval devuelve el periodo del barrido de expiracion.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}
