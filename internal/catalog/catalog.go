// Package catalog holds the metering configuration: what each operation costs,
// what each plan grants and how large the free-trial allowance is.
package catalog

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/gosimple/slug"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	DefaultOperationCost      int64 = 1
	DefaultFreeTrialAllowance       = 3
)

// Operation prices a single metered operation type.
type Operation struct {
	Code string `mapstructure:"code"`
	Cost int64  `mapstructure:"cost"`
}

// Plan describes the credit allotment granted at every billing cycle.
// CycleMonths 0 is a one-off grant that never renews.
type Plan struct {
	Code        string `mapstructure:"code"`
	Credits     int64  `mapstructure:"credits"`
	CycleMonths int    `mapstructure:"cycleMonths"`
}

// Config is the metering section of metering.yml.
type Config struct {
	DefaultCost        int64       `mapstructure:"defaultCost"`
	FreeTrialAllowance int         `mapstructure:"freeTrialAllowance"`
	Operations         []Operation `mapstructure:"operations"`
	Plans              []Plan      `mapstructure:"plans"`
}

func DefaultConfig() Config {
	return Config{
		DefaultCost:        DefaultOperationCost,
		FreeTrialAllowance: DefaultFreeTrialAllowance,
		Operations: []Operation{
			{Code: "market-research", Cost: 2},
			{Code: "business-plan", Cost: 3},
			{Code: "financial-analysis", Cost: 3},
			{Code: "competitor-analysis", Cost: 2},
			{Code: "email-writer", Cost: 1},
			{Code: "social-media", Cost: 1},
			{Code: "seo-content", Cost: 1},
			{Code: "sales-pitch", Cost: 1},
			{Code: "customer-support", Cost: 1},
			{Code: "legal-document", Cost: 3},
		},
		Plans: []Plan{
			{Code: "starter", Credits: 100, CycleMonths: 1},
			{Code: "pro", Credits: 500, CycleMonths: 1},
			{Code: "business", Credits: 2000, CycleMonths: 1},
		},
	}
}

// Holder serves the current catalog and swaps it atomically on reload.
type Holder struct {
	current atomic.Value // holds Config
}

// NewStaticHolder returns a holder that never reloads.
func NewStaticHolder(cfg Config) (*Holder, error) {
	cfg = normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	holder := &Holder{}
	holder.current.Store(cfg)
	return holder, nil
}

// NewHolder loads metering.yml and watches it for changes.
func NewHolder(log *zap.Logger) (*Holder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("catalog")

	v := viper.New()
	v.SetConfigName("metering")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/creditgate/config")
	v.AddConfigPath("/etc/creditgate")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CREDITGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("metering.defaultCost", defaults.DefaultCost)
	v.SetDefault("metering.freeTrialAllowance", defaults.FreeTrialAllowance)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
		v.SetDefault("metering.plans", defaults.Plans)
		v.SetDefault("metering.operations", defaults.Operations)
	}

	var cfg Config
	if err := v.UnmarshalKey("metering", &cfg); err != nil {
		return nil, err
	}
	cfg = normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	holder := &Holder{}
	holder.current.Store(cfg)

	if !fileLoaded {
		log.Info("metering config file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Config
		if err := v.UnmarshalKey("metering", &updated); err != nil {
			log.Warn("metering config reload failed", zap.Error(err))
			return
		}
		updated = normalize(updated)
		if err := Validate(updated); err != nil {
			log.Warn("invalid metering config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("metering config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *Holder) Get() Config {
	return h.current.Load().(Config)
}

// Cost returns the normalized operation code and its price in credits.
func (h *Holder) Cost(operationType string) (string, int64, error) {
	code := NormalizeOperation(operationType)
	if code == "" {
		return "", 0, ErrInvalidOperation
	}
	cfg := h.Get()
	for _, op := range cfg.Operations {
		if op.Code == code {
			return code, op.Cost, nil
		}
	}
	return code, cfg.DefaultCost, nil
}

// Plan looks up a plan by code.
func (h *Holder) Plan(code string) (Plan, error) {
	code = NormalizeOperation(code)
	for _, plan := range h.Get().Plans {
		if plan.Code == code {
			return plan, nil
		}
	}
	return Plan{}, ErrPlanNotFound
}

func (h *Holder) FreeTrialAllowance() int {
	return h.Get().FreeTrialAllowance
}

// NormalizeOperation maps free-form operation names ("Email Writer",
// "email_writer") to a single slug.
func NormalizeOperation(raw string) string {
	return slug.Make(strings.TrimSpace(raw))
}

func normalize(cfg Config) Config {
	if cfg.DefaultCost == 0 {
		cfg.DefaultCost = DefaultOperationCost
	}
	ops := make([]Operation, 0, len(cfg.Operations))
	for _, op := range cfg.Operations {
		op.Code = NormalizeOperation(op.Code)
		ops = append(ops, op)
	}
	cfg.Operations = ops
	plans := make([]Plan, 0, len(cfg.Plans))
	for _, plan := range cfg.Plans {
		plan.Code = NormalizeOperation(plan.Code)
		plans = append(plans, plan)
	}
	cfg.Plans = plans
	return cfg
}

func Validate(cfg Config) error {
	if cfg.DefaultCost <= 0 {
		return errors.New("metering.defaultCost must be positive")
	}
	if cfg.FreeTrialAllowance < 0 {
		return errors.New("metering.freeTrialAllowance cannot be negative")
	}
	seen := map[string]struct{}{}
	for _, op := range cfg.Operations {
		if op.Code == "" {
			return errors.New("metering.operations: code is required")
		}
		if op.Cost <= 0 {
			return fmt.Errorf("metering.operations[%s]: cost must be positive", op.Code)
		}
		if _, ok := seen[op.Code]; ok {
			return fmt.Errorf("metering.operations[%s]: duplicate code", op.Code)
		}
		seen[op.Code] = struct{}{}
	}
	for _, plan := range cfg.Plans {
		if plan.Code == "" {
			return errors.New("metering.plans: code is required")
		}
		if plan.Credits < 0 {
			return fmt.Errorf("metering.plans[%s]: credits cannot be negative", plan.Code)
		}
		if plan.CycleMonths < 0 {
			return fmt.Errorf("metering.plans[%s]: cycleMonths cannot be negative", plan.Code)
		}
	}
	return nil
}

var (
	ErrInvalidOperation = errors.New("invalid_operation_type")
	ErrPlanNotFound     = errors.New("plan_not_found")
)
