package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT broker settings.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
}

// GetDSN builds a lib/pq key=value connection string. Values containing
// spaces, quotes or backslashes are quoted.
func (c *DatabaseConfig) GetDSN() string {
	pairs := []struct{ key, value string }{
		{"host", c.Host},
		{"port", strconv.Itoa(c.Port)},
		{"user", c.User},
		{"password", c.Password},
		{"dbname", c.Database},
		{"sslmode", c.SSLMode},
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.key+"="+dsnValue(p.value))
	}
	return strings.Join(parts, " ")
}

func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// LoadFromEnv overrides fields from PREFIX_HOST, _PORT, _USER, _PASSWORD,
// _NAME, _SSLMODE, _MAX_CONNS and _MAX_IDLE.
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	e := envSource(prefix)
	e.setString("HOST", &c.Host)
	e.setInt("PORT", &c.Port)
	e.setString("USER", &c.User)
	e.setString("PASSWORD", &c.Password)
	e.setString("NAME", &c.Database)
	e.setString("SSLMODE", &c.SSLMode)
	e.setInt("MAX_CONNS", &c.MaxConns)
	e.setInt("MAX_IDLE", &c.MaxIdle)
}

// LoadFromEnv overrides fields from PREFIX_ADDR, _PASSWORD and _DB.
func (c *RedisConfig) LoadFromEnv(prefix string) {
	e := envSource(prefix)
	e.setString("ADDR", &c.Addr)
	e.setString("PASSWORD", &c.Password)
	e.setInt("DB", &c.DB)
}

// LoadFromEnv overrides fields from PREFIX_BROKER, _CLIENT_ID, _USERNAME,
// _PASSWORD, _QOS (0..2) and _CONNECT_TIMEOUT (a duration).
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	e := envSource(prefix)
	e.setString("BROKER", &c.Broker)
	e.setString("CLIENT_ID", &c.ClientID)
	e.setString("USERNAME", &c.Username)
	e.setString("PASSWORD", &c.Password)
	qos := int(c.QoS)
	e.setInt("QOS", &qos)
	if qos >= 0 && qos <= 2 {
		c.QoS = byte(qos)
	}
	e.setDuration("CONNECT_TIMEOUT", &c.ConnectTimeout)
}

// envSource reads PREFIX_NAME variables. Unset or unparsable values leave
// the target unchanged.
type envSource string

func (p envSource) lookup(name string) (string, bool) {
	v := os.Getenv(fmt.Sprintf("%s_%s", p, name))
	return v, v != ""
}

func (p envSource) setString(name string, dst *string) {
	if v, ok := p.lookup(name); ok {
		*dst = v
	}
}

func (p envSource) setInt(name string, dst *int) {
	if v, ok := p.lookup(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (p envSource) setDuration(name string, dst *time.Duration) {
	if v, ok := p.lookup(name); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
