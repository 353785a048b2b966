package config

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	AmbiguousPrefixFirst  = "first"
	AmbiguousPrefixReject = "reject"
)

// ReconcileConfig holds the memo matching rules used by the reconciliation pipeline.
type ReconcileConfig struct {
	PrimaryMarker   string `mapstructure:"primaryMarker"`
	AddonMarker     string `mapstructure:"addonMarker"`
	ActorMarker     string `mapstructure:"actorMarker"`
	PlanMarker      string `mapstructure:"planMarker"`
	AddonIDMarker   string `mapstructure:"addonIdMarker"`
	ActorIDLength   int    `mapstructure:"actorIdLength"`
	AmbiguousPrefix string `mapstructure:"ambiguousPrefix"`
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		PrimaryMarker:   "SEVQR",
		AddonMarker:     "ADDON",
		ActorMarker:     "uid",
		PlanMarker:      "planid",
		AddonIDMarker:   "addonid",
		ActorIDLength:   24,
		AmbiguousPrefix: AmbiguousPrefixFirst,
	}
}

type ReconcileConfigHolder struct {
	current atomic.Value // holds ReconcileConfig

	mu        sync.Mutex
	listeners []func(ReconcileConfig)
}

// NewStaticReconcileConfigHolder returns a holder that never reloads.
func NewStaticReconcileConfigHolder(cfg ReconcileConfig) *ReconcileConfigHolder {
	holder := &ReconcileConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewReconcileConfigHolder() (*ReconcileConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("reconcile")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/paymatch")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultReconcileConfig()
	v.SetDefault("reconcile.primaryMarker", defaults.PrimaryMarker)
	v.SetDefault("reconcile.addonMarker", defaults.AddonMarker)
	v.SetDefault("reconcile.actorMarker", defaults.ActorMarker)
	v.SetDefault("reconcile.planMarker", defaults.PlanMarker)
	v.SetDefault("reconcile.addonIdMarker", defaults.AddonIDMarker)
	v.SetDefault("reconcile.actorIdLength", defaults.ActorIDLength)
	v.SetDefault("reconcile.ambiguousPrefix", defaults.AmbiguousPrefix)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg ReconcileConfig
	if err := v.UnmarshalKey("reconcile", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateReconcileConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticReconcileConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ReconcileConfig
		if err := v.UnmarshalKey("reconcile", &updated); err != nil {
			zap.L().Warn("reconcile config reload failed", zap.Error(err))
			return
		}
		if err := ValidateReconcileConfig(updated); err != nil {
			zap.L().Warn("invalid reconcile config ignored", zap.Error(err))
			return
		}
		holder.Set(updated)
		zap.L().Info("reconcile config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *ReconcileConfigHolder) Get() ReconcileConfig {
	return h.current.Load().(ReconcileConfig)
}

// Set swaps the active rules and notifies listeners. Callers are expected
// to validate first.
func (h *ReconcileConfigHolder) Set(cfg ReconcileConfig) {
	h.current.Store(cfg)

	h.mu.Lock()
	listeners := append([]func(ReconcileConfig){}, h.listeners...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

// OnChange registers fn to run after every Set.
func (h *ReconcileConfigHolder) OnChange(fn func(ReconcileConfig)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

func ValidateReconcileConfig(cfg ReconcileConfig) error {
	if strings.TrimSpace(cfg.PrimaryMarker) == "" {
		return errors.New("reconcile.primaryMarker cannot be empty")
	}
	if strings.TrimSpace(cfg.AddonMarker) == "" {
		return errors.New("reconcile.addonMarker cannot be empty")
	}
	if strings.TrimSpace(cfg.ActorMarker) == "" || strings.TrimSpace(cfg.PlanMarker) == "" || strings.TrimSpace(cfg.AddonIDMarker) == "" {
		return errors.New("reconcile id markers cannot be empty")
	}
	if cfg.ActorIDLength < 4 || cfg.ActorIDLength > 64 {
		return errors.New("reconcile.actorIdLength must be between 4 and 64")
	}
	switch cfg.AmbiguousPrefix {
	case AmbiguousPrefixFirst, AmbiguousPrefixReject:
	default:
		return errors.New("reconcile.ambiguousPrefix must be first or reject")
	}
	return nil
}
