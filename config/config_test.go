package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	tests := []struct {
		name   string
		window time.Duration
		max    int
	}{
		{"login", 15 * time.Minute, 8},
		{"generate", 15 * time.Minute, 15},
		{"download", 5 * time.Minute, 30},
		{"anonymous", 15 * time.Minute, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, ok := cfg.RateLimit.Limits[tt.name]
			if !ok {
				t.Fatalf("missing default limit %s", tt.name)
			}
			if l.Window() != tt.window {
				t.Errorf("window = %v, want %v", l.Window(), tt.window)
			}
			if l.Max != tt.max {
				t.Errorf("max = %d, want %d", l.Max, tt.max)
			}
		})
	}

	if cfg.Quota.Limit != 20 || cfg.Quota.WarnWithin != 2 {
		t.Errorf("unexpected quota defaults: %+v", cfg.Quota)
	}
	if cfg.Storage.FlushEveryAdmissions != 10 {
		t.Errorf("flush_every_admissions = %d, want 10", cfg.Storage.FlushEveryAdmissions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"Defaults", func(c *Config) {}, false},
		{"Zero window", func(c *Config) {
			c.RateLimit.Limits["generate"] = LimitConfig{WindowMinutes: 0, Max: 1}
		}, true},
		{"Window beyond retention", func(c *Config) {
			c.RateLimit.Limits["generate"] = LimitConfig{WindowMinutes: 25 * 60, Max: 1}
		}, true},
		{"Zero max", func(c *Config) {
			c.RateLimit.Limits["login"] = LimitConfig{WindowMinutes: 15, Max: 0}
		}, true},
		{"Zero quota", func(c *Config) { c.Quota.Limit = 0 }, true},
		{"Unknown store", func(c *Config) { c.RateLimit.Store = "etcd" }, true},
		{"Redis store without redis", func(c *Config) {
			c.RateLimit.Store = "redis"
			c.Redis.Enabled = false
		}, true},
		{"Redis store with redis", func(c *Config) {
			c.RateLimit.Store = "redis"
			c.Redis.Enabled = true
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
