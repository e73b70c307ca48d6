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

package vsyncer

import (
	"time"

	"github.com/pkg/errors"
)

// Config holds the timing and sizing knobs of a Syncer.
type Config struct {
	// DefaultTTL is how long a fetched collection stays fresh.
	DefaultTTL time.Duration `mapstructure:"default_ttl"`

	// RefreshInterval is the period of the background sweep over collections
	// read since the previous sweep.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`

	// CleanupInterval is the period of the expired-entry sweep.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	StoreCapacity int `mapstructure:"store_capacity"`

	// FlushRetries is how many extra attempts a queued operation gets when it
	// fails with a network error during a flush. Zero drops it at once.
	FlushRetries    int           `mapstructure:"flush_retries"`
	FlushRetryDelay time.Duration `mapstructure:"flush_retry_delay"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:      5 * time.Minute,
		RefreshInterval: 5 * time.Minute,
		CleanupInterval: time.Minute,
		StoreCapacity:   4096,
		FlushRetries:    0,
		FlushRetryDelay: time.Second,
	}
}

// Validate rejects values the Syncer cannot run with.
func (c Config) Validate() error {
	if c.DefaultTTL <= 0 {
		return errors.Errorf("vsyncer config: default_ttl must be positive, got %v", c.DefaultTTL)
	}
	if c.RefreshInterval < 0 || c.CleanupInterval < 0 {
		return errors.New("vsyncer config: intervals must not be negative")
	}
	if c.StoreCapacity <= 0 {
		return errors.Errorf("vsyncer config: store_capacity must be positive, got %d", c.StoreCapacity)
	}
	if c.FlushRetries < 0 || c.FlushRetryDelay < 0 {
		return errors.New("vsyncer config: flush retry settings must not be negative")
	}
	return nil
}
