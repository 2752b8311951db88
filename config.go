package hcid

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// OffMode selects what "off" means for the controller.
type OffMode string

const (
	// OffModeNoScan leaves the device up with scanning disabled.
	OffModeNoScan OffMode = "noscan"
	// OffModeDevDown powers the device down entirely.
	OffModeDevDown OffMode = "devdown"
)

type Config struct {
	OffMode OffMode `yaml:"offmode"`

	// DisconnectGrace is how long a requested disconnection is held
	// before the command is actually issued, giving profiles a chance
	// to shut down cleanly.
	DisconnectGrace time.Duration `yaml:"disconnect_grace"`

	// InquiryLength is the inquiry duration in 1.28s units.
	InquiryLength uint8 `yaml:"inquiry_length"`

	// Periodic inquiry gap bounds, in 1.28s units. Max must exceed
	// Min, which must exceed InquiryLength.
	PeriodicMaxPeriod uint16 `yaml:"periodic_max_period"`
	PeriodicMinPeriod uint16 `yaml:"periodic_min_period"`
}

func DefaultConfig() Config {
	return Config{
		OffMode:           OffModeNoScan,
		DisconnectGrace:   2 * time.Second,
		InquiryLength:     0x08,
		PeriodicMaxPeriod: 24,
		PeriodicMinPeriod: 16,
	}
}

// LoadConfig reads a YAML config file, filling unset fields with the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.OffMode {
	case OffModeNoScan, OffModeDevDown:
	default:
		return fmt.Errorf("unknown offmode %q", c.OffMode)
	}
	if c.DisconnectGrace < 0 {
		return fmt.Errorf("negative disconnect_grace")
	}
	if c.InquiryLength == 0 || c.InquiryLength > 0x30 {
		return fmt.Errorf("inquiry_length %d out of range", c.InquiryLength)
	}
	if c.PeriodicMinPeriod <= uint16(c.InquiryLength) {
		return fmt.Errorf("periodic_min_period must exceed inquiry_length")
	}
	if c.PeriodicMaxPeriod <= c.PeriodicMinPeriod {
		return fmt.Errorf("periodic_max_period must exceed periodic_min_period")
	}
	return nil
}
