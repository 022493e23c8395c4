// pkg/httpserver/config.go
package httpserver

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Config — служебный HTTP-сервер продюсера (метрики и пробы живости).
// Нулевые Read/Write/Idle таймауты net/http трактует как "без ограничения",
// значения по умолчанию задаёт internal/config.
type Config struct {
	Host            string // пусто — все интерфейсы
	Port            int    // 0 — эфемерный порт
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MetricsPath     string
	HealthzPath     string
	ReadyzPath      string
}

// Address returns host:port for net.Listen.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) applyDefaults() {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.HealthzPath == "" {
		c.HealthzPath = "/healthz"
	}
	if c.ReadyzPath == "" {
		c.ReadyzPath = "/readyz"
	}
}

func (c Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("httpserver: port %d out of range", c.Port)
	}
	seen := make(map[string]struct{}, 3)
	for _, p := range []string{c.MetricsPath, c.HealthzPath, c.ReadyzPath} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("httpserver: path %q must start with /", p)
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("httpserver: duplicate path %q", p)
		}
		seen[p] = struct{}{}
	}
	return nil
}
