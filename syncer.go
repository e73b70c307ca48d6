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

// Package vsyncer keeps local copies of server-owned collections fresh and
// available across network outages.
//
// A Syncer serves reads from a TTL store, refreshes stale-while-revalidate in
// the background, coalesces concurrent fetches of one collection, and queues
// writes that fail while offline until connectivity returns.
package vsyncer

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/vogo/vogo/vlog"
	"github.com/vogo/vsyncer/internal/caller"
	"github.com/vogo/vsyncer/internal/registry"
	"github.com/vogo/vsyncer/vclock"
	"github.com/vogo/vsyncer/vstore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrClosed is returned by operations on a closed Syncer.
	ErrClosed = errors.New("vsyncer: closed")

	// ErrOffline is returned by refresh hooks that fire while offline.
	ErrOffline = errors.New("vsyncer: offline")
)

// NetworkStatus is a snapshot of connectivity and the write queue.
type NetworkStatus struct {
	Online            bool `json:"online"`
	PendingOperations int  `json:"pending_operations"`
}

// Syncer coordinates fetching, caching and writing collections.
type Syncer struct {
	name      string
	cfg       Config
	transport Transport
	store     *vstore.Store[[]byte]
	clock     vclock.Clock
	scheduler vclock.Scheduler
	keys      KeyScheme

	refreshOnInvalidate bool

	queue   *Queue
	events  *registry.Registry[EventKind, SyncEvent]
	flights singleflight.Group

	// ctx outlives any single caller; shared fetches run on it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	online  bool
	closed  bool
	tracked map[string]struct{}
	// recent holds collections read since the last periodic sweep.
	recent    map[string]struct{}
	lastKnown map[string][]byte
	cancels   []vclock.CancelFunc
}

// New creates a Syncer over transport and starts its periodic refresh and
// cleanup. Close stops them.
func New(transport Transport, opts ...Option) (*Syncer, error) {
	if transport == nil {
		return nil, errors.New("vsyncer: transport is required")
	}

	s := &Syncer{
		name:      caller.Short(caller.Name(1)),
		cfg:       DefaultConfig(),
		transport: transport,
		clock:     vclock.System{},
		keys:      DefaultKeyScheme{},
		online:    true,
		queue:     NewQueue(),
		events:    registry.New[EventKind, SyncEvent](),
		tracked:   make(map[string]struct{}),
		recent:    make(map[string]struct{}),
		lastKnown: make(map[string][]byte),
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.store == nil {
		store, err := vstore.New[[]byte](
			vstore.WithName[[]byte](s.name),
			vstore.WithClock[[]byte](s.clock),
			vstore.WithCapacity[[]byte](s.cfg.StoreCapacity),
			vstore.WithHookContext[[]byte](s.ctx),
			vstore.WithEvictCallback(func(key string, _ *vstore.Entry[[]byte]) {
				vlog.Debugf("vsyncer store full, evicted | syncer: %s | key: %s", s.name, key)
			}),
		)
		if err != nil {
			s.cancel()
			return nil, err
		}
		s.store = store
	}

	if s.scheduler == nil {
		s.scheduler = vclock.NewTicker()
	}

	s.cancels = append(s.cancels,
		s.scheduler.Schedule(s.cfg.CleanupInterval, s.cleanup),
		s.scheduler.Schedule(s.cfg.RefreshInterval, s.refreshRecent),
	)

	vlog.Infof("vsyncer started | syncer: %s | ttl: %v | refresh: %v | online: %v", s.name, s.cfg.DefaultTTL, s.cfg.RefreshInterval, s.online)

	return s, nil
}

// Name returns the syncer name.
func (s *Syncer) Name() string {
	return s.name
}

// Store returns the underlying cache store.
func (s *Syncer) Store() *vstore.Store[[]byte] {
	return s.store
}

// Close stops the timers, cancels in-flight fetches and waits for background
// work. It is safe to call more than once.
func (s *Syncer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.cancel()
	s.wg.Wait()
	s.store.WaitRefresh()

	vlog.Infof("vsyncer closed | syncer: %s | pending: %d", s.name, s.queue.Len())
	return nil
}

// Wait blocks until the background work started so far has finished.
func (s *Syncer) Wait() {
	s.wg.Wait()
	s.store.WaitRefresh()
	s.wg.Wait()
}

// SyncCollection returns the records of collection. A fresh cached listing is
// returned at once and, while online, refreshed in the background. Otherwise
// the listing is fetched; concurrent callers share one request. If that fetch
// fails with a network error the last listing seen is returned instead.
func (s *Syncer) SyncCollection(ctx context.Context, collection string) ([]Record, error) {
	if collection == "" {
		return nil, errors.New("vsyncer: collection is required")
	}
	if !s.markRead(collection) {
		return nil, ErrClosed
	}

	if data, ok := s.store.Get(s.keys.ListKey(collection)); ok {
		if s.IsOnline() {
			s.refreshInBackground(collection)
		}
		return decodeCollection(data)
	}

	data, err := s.fetch(ctx, collection)
	if err == nil {
		return decodeCollection(data)
	}

	if ctx.Err() == nil && IsNetworkError(err) {
		if stale, ok := s.lastKnownValue(collection); ok {
			vlog.Warnf("vsyncer serving last known listing | syncer: %s | collection: %s | err: %v", s.name, collection, err)
			return decodeCollection(stale)
		}
	}

	return nil, err
}

// ForceRefresh drops every cached and last-known listing, then refetches all
// collections read so far, concurrently. It returns the first error.
func (s *Syncer) ForceRefresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	clear(s.lastKnown)
	collections := sortedKeys(s.tracked)
	s.mu.Unlock()

	s.store.Clear()

	vlog.Infof("vsyncer force refresh | syncer: %s | collections: %v", s.name, collections)

	g, gctx := errgroup.WithContext(ctx)
	for _, collection := range collections {
		g.Go(func() error {
			_, err := s.fetch(gctx, collection)
			return errors.Wrapf(err, "refresh %s", collection)
		})
	}
	return g.Wait()
}

// Invalidate drops every cached key of collection.
func (s *Syncer) Invalidate(collection string) int {
	return s.store.InvalidatePattern(s.keys.FamilyPattern(collection))
}

// NetworkStatus reports connectivity and the number of queued writes.
func (s *Syncer) NetworkStatus() NetworkStatus {
	return NetworkStatus{
		Online:            s.IsOnline(),
		PendingOperations: s.queue.Len(),
	}
}

// IsOnline reports the current connectivity state.
func (s *Syncer) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Collections returns every collection read so far, sorted.
func (s *Syncer) Collections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.tracked)
}

// PendingKeys returns the dedup keys of the queued writes in flush order.
func (s *Syncer) PendingKeys() []string {
	return s.queue.Keys()
}

// Subscribe calls fn for every event of kind and returns a function that
// removes the subscription.
func (s *Syncer) Subscribe(kind EventKind, fn func(SyncEvent)) func() {
	return s.events.Subscribe(kind, fn)
}

// SubscribeAll calls fn for every event.
func (s *Syncer) SubscribeAll(fn func(SyncEvent)) func() {
	return s.events.SubscribeAll(fn)
}

func (s *Syncer) emit(event SyncEvent) {
	vlog.Debugf("vsyncer event | syncer: %s | kind: %s | collection: %s | record: %s", s.name, event.Kind, event.Collection, event.RecordID)
	s.events.Publish(event.Kind, event)
}

func (s *Syncer) markRead(collection string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.tracked[collection] = struct{}{}
	s.recent[collection] = struct{}{}
	return true
}

func (s *Syncer) lastKnownValue(collection string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.lastKnown[collection]
	return data, ok
}

func (s *Syncer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// begin registers one unit of background work unless the syncer is closed.
func (s *Syncer) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

// flight joins the in-flight fetch of collection or starts one.
func (s *Syncer) flight(collection string) <-chan singleflight.Result {
	return s.flights.DoChan(collection, func() (any, error) {
		return s.fetchAndStore(collection)
	})
}

// fetch waits for the shared fetch of collection. A caller giving up does not
// abort the fetch; it still fills the store for the others.
func (s *Syncer) fetch(ctx context.Context, collection string) ([]byte, error) {
	if !s.begin() {
		return nil, ErrClosed
	}

	ch := s.flight(collection)
	select {
	case res := <-ch:
		s.wg.Done()
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		go func() {
			<-ch
			s.wg.Done()
		}()
		return nil, ctx.Err()
	}
}

func (s *Syncer) refreshInBackground(collection string) {
	if !s.begin() {
		return
	}

	ch := s.flight(collection)
	go func() {
		defer s.wg.Done()
		if res := <-ch; res.Err != nil {
			vlog.Warnf("vsyncer background refresh failed | syncer: %s | collection: %s | err: %v", s.name, collection, res.Err)
		}
	}()
}

// fetchAndStore is the body of every shared fetch. collection-updated is
// emitted only when the listing differs from the last one seen, so a
// subscriber that reads on every update does not refetch forever.
func (s *Syncer) fetchAndStore(collection string) ([]byte, error) {
	raw, err := s.transport.FetchCollection(s.ctx, collection)
	if err != nil {
		return nil, err
	}

	data, err := normalizeCollection(collection, raw)
	if err != nil {
		vlog.Errorf("vsyncer rejected listing | syncer: %s | collection: %s | err: %v", s.name, collection, err)
		return nil, err
	}

	if err := s.store.Set(s.keys.ListKey(collection), data, s.cfg.DefaultTTL, s.refreshHooks(collection)...); err != nil {
		return nil, err
	}

	s.mu.Lock()
	prev, seen := s.lastKnown[collection]
	s.lastKnown[collection] = data
	s.mu.Unlock()

	if !seen || !bytes.Equal(prev, data) {
		s.emit(newEvent(EventCollectionUpdated, collection, "", s.clock.Now()))
	}

	return data, nil
}

func (s *Syncer) refreshHooks(collection string) []vstore.RefreshHook[[]byte] {
	if !s.refreshOnInvalidate {
		return nil
	}

	return []vstore.RefreshHook[[]byte]{
		func(ctx context.Context) ([]byte, error) {
			if !s.IsOnline() {
				return nil, ErrOffline
			}
			return s.fetch(ctx, collection)
		},
	}
}

func (s *Syncer) cleanup() {
	if removed := s.store.Cleanup(); removed > 0 {
		vlog.Debugf("vsyncer cleanup | syncer: %s | removed: %d", s.name, removed)
	}
}

// refreshRecent refetches the collections read since the previous sweep.
// While offline the set is kept for the next sweep.
func (s *Syncer) refreshRecent() {
	s.mu.Lock()
	if !s.online || s.closed {
		s.mu.Unlock()
		return
	}
	collections := sortedKeys(s.recent)
	s.recent = make(map[string]struct{})
	s.mu.Unlock()

	for _, collection := range collections {
		s.refreshInBackground(collection)
	}
}

func (s *Syncer) refreshTracked() {
	for _, collection := range s.Collections() {
		s.refreshInBackground(collection)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
