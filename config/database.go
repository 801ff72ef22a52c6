package config

import (
	"fmt"
	"net/url"
	"strings"
)

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"jobcoord"`
	Password string `env:"PASSWORD"                envDefault:"jobcoord"`
	Name     string `env:"NAME"                    envDefault:"jobcoord"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
	// MaxOpenConns bounds the database/sql pool.
	MaxOpenConns int `env:"MAX_OPEN_CONNS" envDefault:"20"`
}

// DSN renders the connection string understood by the pgx stdlib driver.
func (c DBConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisConfig contains Redis configuration. Redis only carries the fast cancel signal;
// the database stays authoritative, so it is optional.
type RedisConfig struct {
	Enabled  bool     `env:"ENABLED"  envDefault:"false"`
	Addrs    []string `env:"ADDRS"    envDefault:"localhost:6379"`
	Password string   `env:"PASSWORD" envDefault:""`
	DB       int      `env:"DB"       envDefault:"0"`
	// MasterName switches the client to Sentinel failover mode when set.
	MasterName string `env:"MASTER_NAME" envDefault:""`
}

// Sanitize trims addresses and disables Redis when none remain.
func (c *RedisConfig) Sanitize() {
	addrs := c.Addrs[:0]
	for _, a := range c.Addrs {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	c.Addrs = addrs
	if len(c.Addrs) == 0 {
		c.Enabled = false
	}
}
