package httpc

import (
	"errors"

	"github.com/T-Prohmpossadhorn/go-rest/config"
)

// ClientConfig defines the configuration for the HTTP client
type ClientConfig struct {
	BaseURL               string `mapstructure:"base_url" validate:"omitempty,url"`
	OtelEnabled           bool   `mapstructure:"otel_enabled"`
	HTTPClientTimeoutMs   int    `mapstructure:"http_client_timeout_ms" validate:"gt=0"`
	HTTPClientMaxRetries  int    `mapstructure:"http_client_max_retries" validate:"gte=-1"`
	HTTPClientRetryWaitMs int    `mapstructure:"http_client_retry_wait_ms" validate:"gte=0"`
}

// ServerConfig defines the configuration for the gateway server
type ServerConfig struct {
	OtelEnabled bool   `mapstructure:"otel_enabled"`
	Port        int    `mapstructure:"port" validate:"gt=0,lte=65535"`
	PathPrefix  string `mapstructure:"path_prefix" validate:"omitempty,startswith=/"`
	Title       string `mapstructure:"service_name"`
}

var errNilConfig = errors.New("config cannot be nil")

func loadClientConfig(cfg *config.Config) (ClientConfig, error) {
	out := ClientConfig{
		HTTPClientTimeoutMs:   1000,
		HTTPClientMaxRetries:  2,
		HTTPClientRetryWaitMs: 100,
	}
	if cfg == nil {
		return out, errNilConfig
	}
	return out, cfg.Unmarshal(&out)
}

func loadServerConfig(cfg *config.Config) (ServerConfig, error) {
	out := ServerConfig{Port: 8080, Title: "go-rest"}
	if cfg == nil {
		return out, errNilConfig
	}
	return out, cfg.Unmarshal(&out)
}
