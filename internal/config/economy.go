package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iliyamo/scenario-steal/internal/pricing"
)

// Shield is one purchasable protection product.
type Shield struct {
	Price    int64         `yaml:"price"`
	Duration time.Duration `yaml:"duration"`
}

// PricingConfig mirrors pricing.Policy in the economy file.
type PricingConfig struct {
	GrowthBps          int64 `yaml:"growth_bps"`
	MinIncrement       int64 `yaml:"min_increment"`
	MaxIncrement       int64 `yaml:"max_increment"`
	RecoveryPremiumBps int64 `yaml:"recovery_premium_bps"`
}

// Economy holds the business parameters of the ownership auction.
//
// Example file:
//
//	pricing:
//	  growth_bps: 2000
//	  min_increment: 1
//	  recovery_premium_bps: 5000
//	min_creation_price: 10
//	recovery_window: 24h
//	shields:
//	  basic:    {price: 10, duration: 1h}
//	  extended: {price: 25, duration: 6h}
type Economy struct {
	Pricing          PricingConfig     `yaml:"pricing"`
	MinCreationPrice int64             `yaml:"min_creation_price"`
	RecoveryWindow   time.Duration     `yaml:"recovery_window"` // 0 means no limit
	Shields          map[string]Shield `yaml:"shields"`
}

// DefaultEconomy is used when no economy file is configured.
func DefaultEconomy() Economy {
	p := pricing.Default()
	return Economy{
		Pricing: PricingConfig{
			GrowthBps:          p.GrowthBps,
			MinIncrement:       p.MinIncrement,
			MaxIncrement:       p.MaxIncrement,
			RecoveryPremiumBps: p.RecoveryPremiumBps,
		},
		MinCreationPrice: 10,
		RecoveryWindow:   24 * time.Hour,
		Shields: map[string]Shield{
			"basic":    {Price: 10, Duration: time.Hour},
			"extended": {Price: 25, Duration: 6 * time.Hour},
		},
	}
}

// LoadEconomy reads path over the defaults.  An empty path returns the
// defaults unchanged.  Keys missing from the file keep their default, and
// keys present win even when zero, so recovery_window: 0s turns the window
// off.  A shields block replaces the default catalogue.
func LoadEconomy(path string) (Economy, error) {
	eco := DefaultEconomy()
	if path == "" {
		return eco, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Economy{}, fmt.Errorf("read economy file: %w", err)
	}
	defaults := eco.Shields
	eco.Shields = nil
	if err := yaml.Unmarshal(raw, &eco); err != nil {
		return Economy{}, fmt.Errorf("parse economy file: %w", err)
	}
	if eco.Shields == nil {
		eco.Shields = defaults
	}
	if err := eco.Validate(); err != nil {
		return Economy{}, err
	}
	return eco, nil
}

// Validate rejects values the engines cannot work with.
func (e Economy) Validate() error {
	if e.Pricing.GrowthBps < 0 || e.Pricing.RecoveryPremiumBps < 0 {
		return fmt.Errorf("economy: growth and recovery premium must not be negative")
	}
	if e.Pricing.MaxIncrement < 0 {
		return fmt.Errorf("economy: max_increment must not be negative")
	}
	if e.MinCreationPrice < 1 {
		return fmt.Errorf("economy: min_creation_price must be at least 1")
	}
	if e.RecoveryWindow < 0 {
		return fmt.Errorf("economy: recovery_window must not be negative")
	}
	for _, kind := range e.ShieldKinds() {
		s := e.Shields[kind]
		if s.Price < 1 || s.Duration <= 0 {
			return fmt.Errorf("economy: shield %q needs a positive price and duration", kind)
		}
	}
	return nil
}

// Policy returns the pricing policy described by the economy.
func (e Economy) Policy() pricing.Policy {
	return pricing.Policy{
		GrowthBps:          e.Pricing.GrowthBps,
		MinIncrement:       e.Pricing.MinIncrement,
		MaxIncrement:       e.Pricing.MaxIncrement,
		RecoveryPremiumBps: e.Pricing.RecoveryPremiumBps,
	}
}

// ShieldKinds lists the configured shield kinds in name order.
func (e Economy) ShieldKinds() []string {
	kinds := make([]string, 0, len(e.Shields))
	for k := range e.Shields {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
