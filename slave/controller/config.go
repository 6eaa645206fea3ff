/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/swsync/swsync/slave/monitor"
	"github.com/swsync/swsync/softclock"
)

// Config specifies slave run options. It is immutable after start; the
// controller and its collaborators receive it by value.
type Config struct {
	MasterAddr      string        `yaml:"master_addr"`         // master host:port
	SyncInterval    time.Duration `yaml:"sync_interval"`       // pause between bursts
	RoundsPerSync   int           `yaml:"rounds_per_sync"`     // rounds per burst
	SyncTimeout     time.Duration `yaml:"sync_timeout"`        // per-round receive timeout
	Kp              float64       `yaml:"kp"`                  // PID proportional gain
	Ki              float64       `yaml:"ki"`                  // PID integral gain
	Kd              float64       `yaml:"kd"`                  // PID derivative gain
	MaxIntegral     float64       `yaml:"pid_integral_max"`    // integrator saturation
	MaxRate         float64       `yaml:"max_rate_adjustment"` // rate saturation and coarse magnitude
	SyncThreshold   float64       `yaml:"sync_threshold"`      // "in sync" predicate, seconds
	OfflineTimeout  time.Duration `yaml:"offline_timeout"`     // master offline without records
	ChartMaxPoints  int           `yaml:"chart_max_points"`    // history ring capacity
	StepThreshold   float64       `yaml:"step_threshold"`      // above this, step instead of discipline
	CoarseThreshold float64       `yaml:"coarse_threshold"`    // above this, saturate the rate
	MonitoringPort  int           `yaml:"monitoring_port"`     // http json stats port
}

// DefaultConfig returns the stock slave configuration
func DefaultConfig() *Config {
	return &Config{
		MasterAddr:      "127.0.0.1:12345",
		SyncInterval:    5 * time.Second,
		RoundsPerSync:   6,
		SyncTimeout:     time.Second,
		Kp:              0.8,
		Ki:              0.5,
		Kd:              0.1,
		MaxIntegral:     1.0,
		MaxRate:         1.0,
		SyncThreshold:   0.001,
		OfflineTimeout:  15 * time.Second,
		ChartMaxPoints:  30,
		StepThreshold:   10.0,
		CoarseThreshold: 1.0,
		MonitoringPort:  4269,
	}
}

// PIDConfig extracts the software clock tuning from the slave config
func (c *Config) PIDConfig() softclock.PIDConfig {
	return softclock.PIDConfig{
		Kp:              c.Kp,
		Ki:              c.Ki,
		Kd:              c.Kd,
		MaxIntegral:     c.MaxIntegral,
		MaxRate:         c.MaxRate,
		CoarseThreshold: c.CoarseThreshold,
	}
}

// MonitorConfig extracts the monitor tuning from the slave config
func (c *Config) MonitorConfig() monitor.Config {
	return monitor.Config{
		ChartMaxPoints: c.ChartMaxPoints,
		SyncThreshold:  c.SyncThreshold,
		OfflineTimeout: c.OfflineTimeout,
	}
}

// ReadConfig reads config from the file on top of the defaults
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(cData, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate makes sure the config can drive a sync loop
func (c *Config) Validate() error {
	if c.MasterAddr == "" {
		return fmt.Errorf("master_addr must be set")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive")
	}
	if c.RoundsPerSync <= 0 {
		return fmt.Errorf("rounds_per_sync must be positive")
	}
	if c.SyncTimeout <= 0 {
		return fmt.Errorf("sync_timeout must be positive")
	}
	if c.MaxRate <= 0 || c.MaxRate > 1 {
		return fmt.Errorf("max_rate_adjustment must be in (0, 1]")
	}
	return nil
}
