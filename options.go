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
	"github.com/vogo/vsyncer/vclock"
	"github.com/vogo/vsyncer/vstore"
)

// Option configures a Syncer.
type Option func(*Syncer)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(s *Syncer) {
		s.cfg = cfg
	}
}

// WithStore uses store instead of building one from the configuration.
func WithStore(store *vstore.Store[[]byte]) Option {
	return func(s *Syncer) {
		s.store = store
	}
}

// WithClock sets the time source. It is also handed to the store the
// Syncer builds.
func WithClock(clock vclock.Clock) Option {
	return func(s *Syncer) {
		s.clock = clock
	}
}

// WithScheduler sets the scheduler of the periodic refresh and cleanup.
func WithScheduler(scheduler vclock.Scheduler) Option {
	return func(s *Syncer) {
		s.scheduler = scheduler
	}
}

// WithKeyScheme changes how collections map to store keys.
func WithKeyScheme(keys KeyScheme) Option {
	return func(s *Syncer) {
		s.keys = keys
	}
}

// WithName sets the syncer name used in logs (overrides auto-generated name).
func WithName(name string) Option {
	return func(s *Syncer) {
		s.name = name
	}
}

// WithInitialOnline sets the starting connectivity state. Default is online.
func WithInitialOnline(online bool) Option {
	return func(s *Syncer) {
		s.online = online
	}
}

// WithRefreshOnInvalidate attaches a refresh hook to every cached listing,
// so an invalidated collection is refetched in the background.
func WithRefreshOnInvalidate(enabled bool) Option {
	return func(s *Syncer) {
		s.refreshOnInvalidate = enabled
	}
}

// WithFlushRetries overrides Config.FlushRetries.
func WithFlushRetries(retries int) Option {
	return func(s *Syncer) {
		s.cfg.FlushRetries = retries
	}
}
