package observability

import (
	"strings"

	"github.com/smallbiznis/paymatch/internal/config"
)

const defaultSamplingRatio = 0.1

// Config is the normalized view of the logging and tracing settings.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel            string
	LogFormat           string
	LogSampleInitial    int
	LogSampleThereafter int

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability

	out := Config{
		ServiceName:          orDefault(cfg.AppName, "paymatch"),
		Environment:          strings.ToLower(strings.TrimSpace(cfg.Environment)),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             orDefault(obs.LogLevel, "info"),
		LogFormat:            orDefault(obs.LogFormat, "json"),
		LogSampleInitial:     positiveOr(obs.LogSampleInitial, 100),
		LogSampleThereafter:  positiveOr(obs.LogSampleThereafter, 100),
		OtelEnabled:          obs.OtelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(obs.OtelEndpoint),
		OtelExporterProtocol: orDefault(obs.OtelProtocol, "grpc"),
		OtelSamplingRatio:    obs.OtelSamplingRatio,
	}
	if out.OtelSamplingRatio < 0 || out.OtelSamplingRatio > 1 {
		out.OtelSamplingRatio = defaultSamplingRatio
	}
	if out.OtelEnabled && out.OtelExporterEndpoint == "" {
		out.OtelEnabled = false
	}
	return out
}

// Debug reports whether verbose request logging and stack traces are on.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch c.Environment {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func orDefault(value, def string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return def
}

func positiveOr(value, def int) int {
	if value > 0 {
		return value
	}
	return def
}
