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

// Package vstore provides a keyed store of time-limited entries with
// pattern invalidation and refresh hooks.
package vstore

import (
	"context"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/vogo/vogo/vlog"
	"github.com/vogo/vsyncer/internal/caller"
	"github.com/vogo/vsyncer/vclock"
)

// DefaultCapacity bounds a store built without WithCapacity.
const DefaultCapacity = 4096

// ErrInvalidTTL is returned by Set for a non-positive ttl.
var ErrInvalidTTL = errors.New("vstore: ttl must be positive")

// Store holds entries keyed by string. Beyond its capacity the least
// recently used entry is evicted.
type Store[V any] struct {
	name     string
	capacity int
	clock    vclock.Clock
	hookCtx  context.Context
	onEvict  func(key string, entry *Entry[V])

	// mu serialises compound operations. explicit is set while the store
	// itself removes entries so the lru callback only reports capacity evictions.
	mu       sync.Mutex
	explicit bool
	cache    *lru.Cache[string, *Entry[V]]

	hooks sync.WaitGroup
}

// Option configures a Store.
type Option[V any] func(*Store[V])

// WithClock sets the time source used for expiry.
func WithClock[V any](clock vclock.Clock) Option[V] {
	return func(s *Store[V]) {
		s.clock = clock
	}
}

// WithCapacity sets the maximum number of entries.
func WithCapacity[V any](capacity int) Option[V] {
	return func(s *Store[V]) {
		s.capacity = capacity
	}
}

// WithName sets the store name used in logs (overrides auto-generated name).
func WithName[V any](name string) Option[V] {
	return func(s *Store[V]) {
		s.name = name
	}
}

// WithEvictCallback is called when an entry is dropped to make room.
func WithEvictCallback[V any](fn func(key string, entry *Entry[V])) Option[V] {
	return func(s *Store[V]) {
		s.onEvict = fn
	}
}

// WithHookContext sets the context handed to refresh hooks.
func WithHookContext[V any](ctx context.Context) Option[V] {
	return func(s *Store[V]) {
		s.hookCtx = ctx
	}
}

// New creates a store. The name is auto-generated from the call site.
func New[V any](opts ...Option[V]) (*Store[V], error) {
	s := &Store[V]{
		name:     caller.Name(1),
		capacity: DefaultCapacity,
		clock:    vclock.System{},
		hookCtx:  context.Background(),
	}

	for _, opt := range opts {
		opt(s)
	}

	cache, err := lru.NewWithEvict(s.capacity, s.handleEviction)
	if err != nil {
		return nil, errors.Wrapf(err, "vstore: create store %s", s.name)
	}
	s.cache = cache

	return s, nil
}

// handleEviction runs synchronously inside cache calls made under s.mu.
func (s *Store[V]) handleEviction(key string, entry *Entry[V]) {
	if s.explicit {
		return
	}

	vlog.Debugf("vstore capacity eviction | store: %s | key: %s", s.name, key)

	if s.onEvict != nil {
		s.onEvict(key, entry)
	}
}

// Name returns the store name.
func (s *Store[V]) Name() string {
	return s.name
}

// Set stores data under key for ttl, replacing any existing entry and its hooks.
func (s *Store[V]) Set(key string, data V, ttl time.Duration, hooks ...RefreshHook[V]) error {
	if ttl <= 0 {
		return errors.Wrapf(ErrInvalidTTL, "key %s ttl %v", key, ttl)
	}

	now := s.clock.Now()
	entry := &Entry[V]{
		Data:         data,
		StoredAt:     now,
		ExpiresAt:    now.Add(ttl),
		RefreshHooks: hooks,
	}

	s.mu.Lock()
	s.cache.Add(key, entry)
	s.mu.Unlock()

	return nil
}

// Get returns the payload if present and not expired. An expired entry is removed.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V

	entry, ok := s.lookup(key)
	if !ok {
		return zero, false
	}

	return entry.Data, true
}

// Has reports whether Get would return a value.
func (s *Store[V]) Has(key string) bool {
	_, ok := s.lookup(key)
	return ok
}

func (s *Store[V]) lookup(key string) (*Entry[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}

	if !entry.Valid(s.clock.Now()) {
		s.remove(key)
		return nil, false
	}

	return entry, true
}

// remove must be called with s.mu held.
func (s *Store[V]) remove(key string) {
	s.explicit = true
	s.cache.Remove(key)
	s.explicit = false
}

// Invalidate removes key regardless of its TTL and fires its refresh hooks.
// Invalidating an absent key does nothing.
func (s *Store[V]) Invalidate(key string) {
	s.mu.Lock()
	entry, ok := s.cache.Peek(key)
	if ok {
		s.remove(key)
	}
	s.mu.Unlock()

	if ok {
		s.fireHooks(key, entry)
	}
}

// InvalidatePattern removes every key matched by re, fires their refresh
// hooks and returns how many keys were removed.
func (s *Store[V]) InvalidatePattern(re *regexp.Regexp) int {
	return s.invalidateMatching(re.MatchString)
}

// InvalidatePrefix removes every key starting with prefix.
func (s *Store[V]) InvalidatePrefix(prefix string) int {
	return s.invalidateMatching(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
}

func (s *Store[V]) invalidateMatching(match func(string) bool) int {
	removed := make(map[string]*Entry[V])

	s.mu.Lock()
	for _, key := range s.cache.Keys() {
		if !match(key) {
			continue
		}
		if entry, ok := s.cache.Peek(key); ok {
			removed[key] = entry
			s.remove(key)
		}
	}
	s.mu.Unlock()

	for key, entry := range removed {
		s.fireHooks(key, entry)
	}

	return len(removed)
}

// Clear drops every entry without firing hooks.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	s.explicit = true
	s.cache.Purge()
	s.explicit = false
	s.mu.Unlock()
}

// Cleanup removes all expired entries and returns how many were removed.
func (s *Store[V]) Cleanup() int {
	now := s.clock.Now()
	removed := 0

	s.mu.Lock()
	for _, key := range s.cache.Keys() {
		entry, ok := s.cache.Peek(key)
		if ok && !entry.Valid(now) {
			s.remove(key)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		vlog.Debugf("vstore cleanup | store: %s | removed: %d", s.name, removed)
	}

	return removed
}

// Stats counts entries without evicting anything or touching recency.
func (s *Store[V]) Stats() Stats {
	now := s.clock.Now()
	var stats Stats

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range s.cache.Keys() {
		entry, ok := s.cache.Peek(key)
		if !ok {
			continue
		}
		stats.Size++
		if entry.Valid(now) {
			stats.Valid++
		} else {
			stats.Expired++
		}
	}

	return stats
}

// Keys returns the stored keys, expired ones included, from oldest to newest use.
func (s *Store[V]) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Keys()
}

// WaitRefresh blocks until every refresh hook started so far has returned.
func (s *Store[V]) WaitRefresh() {
	s.hooks.Wait()
}

func (s *Store[V]) fireHooks(key string, entry *Entry[V]) {
	for _, hook := range entry.RefreshHooks {
		s.hooks.Add(1)
		go s.runHook(key, entry, hook)
	}
}

// runHook stores the hook result only while key is still free, so a value
// set after the invalidation is never overwritten.
func (s *Store[V]) runHook(key string, old *Entry[V], hook RefreshHook[V]) {
	defer s.hooks.Done()
	defer func() {
		if err := recover(); err != nil {
			vlog.Errorf("vstore refresh hook panic | store: %s | key: %s | err: %v | stack: %s", s.name, key, err, debug.Stack())
		}
	}()

	data, err := hook(s.hookCtx)
	if err != nil {
		vlog.Warnf("vstore refresh hook failed | store: %s | key: %s | err: %v", s.name, key, err)
		return
	}

	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.cache.Peek(key); ok && current.Valid(now) {
		return
	}

	s.cache.Add(key, &Entry[V]{
		Data:         data,
		StoredAt:     now,
		ExpiresAt:    now.Add(old.TTL()),
		RefreshHooks: old.RefreshHooks,
	})
}
