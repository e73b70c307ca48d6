/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vogo/vsyncer"
	"github.com/vogo/vsyncer/httptransport"
	"golang.org/x/time/rate"
)

// config is the full CLI configuration.
type config struct {
	BaseURL       string         `mapstructure:"base_url"`
	HealthURL     string         `mapstructure:"health_url"`
	ProbeInterval time.Duration  `mapstructure:"probe_interval"`
	Timeout       time.Duration  `mapstructure:"timeout"`
	RateLimit     float64        `mapstructure:"rate_limit"`
	Sync          vsyncer.Config `mapstructure:"sync"`
}

func defaultConfig() config {
	return config{
		BaseURL:       "http://localhost:8081/api",
		ProbeInterval: 10 * time.Second,
		Timeout:       httptransport.DefaultTimeout,
		Sync:          vsyncer.DefaultConfig(),
	}
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"config":           "config",
	"base-url":         "base_url",
	"health-url":       "health_url",
	"probe-interval":   "probe_interval",
	"timeout":          "timeout",
	"rate-limit":       "rate_limit",
	"ttl":              "sync.default_ttl",
	"refresh-interval": "sync.refresh_interval",
	"flush-retries":    "sync.flush_retries",
	"addr":             "addr",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			panic(err)
		}
	})
}

func setDefaults(v *viper.Viper) {
	d := defaultConfig()
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("probe_interval", d.ProbeInterval)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("sync.default_ttl", d.Sync.DefaultTTL)
	v.SetDefault("sync.refresh_interval", d.Sync.RefreshInterval)
	v.SetDefault("sync.cleanup_interval", d.Sync.CleanupInterval)
	v.SetDefault("sync.store_capacity", d.Sync.StoreCapacity)
	v.SetDefault("sync.flush_retries", d.Sync.FlushRetries)
	v.SetDefault("sync.flush_retry_delay", d.Sync.FlushRetryDelay)

	v.SetEnvPrefix("vsyncer")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func readConfigFile(v *viper.Viper) error {
	file := v.GetString("config")
	if file == "" {
		return nil
	}
	v.SetConfigFile(file)
	return errors.Wrapf(v.ReadInConfig(), "read config %s", file)
}

func loadConfig(v *viper.Viper) (config, error) {
	cfg := defaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "decode config")
	}
	if cfg.HealthURL == "" {
		cfg.HealthURL = strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/api") + "/healthz"
	}
	return cfg, cfg.Sync.Validate()
}

func (c config) transport() (*httptransport.Transport, error) {
	opts := []httptransport.Option{httptransport.WithTimeout(c.Timeout)}
	if c.RateLimit > 0 {
		opts = append(opts, httptransport.WithRateLimit(rate.Limit(c.RateLimit), max(1, int(c.RateLimit))))
	}
	return httptransport.New(c.BaseURL, opts...)
}

func init() {
	setDefaults(viper.GetViper())
}
