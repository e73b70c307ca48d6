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

package vsyncer_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vogo/vsyncer"
	"github.com/vogo/vsyncer/examples/inmemory"
	"github.com/vogo/vsyncer/vclock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []vsyncer.SyncEvent
}

func (r *recorder) record(e vsyncer.SyncEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []vsyncer.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]vsyncer.EventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (r *recorder) of(kind vsyncer.EventKind) []vsyncer.SyncEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []vsyncer.SyncEvent
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	syncer    *vsyncer.Syncer
	transport *inmemory.Transport
	clock     *vclock.Fake
	events    *recorder
}

func newFixture(t *testing.T, cfg vsyncer.Config, opts ...vsyncer.Option) *fixture {
	t.Helper()

	f := &fixture{
		transport: inmemory.New(),
		clock:     vclock.NewFake(epoch),
		events:    &recorder{},
	}

	opts = append([]vsyncer.Option{
		vsyncer.WithConfig(cfg),
		vsyncer.WithClock(f.clock),
		vsyncer.WithScheduler(f.clock),
		vsyncer.WithName(t.Name()),
	}, opts...)

	s, err := vsyncer.New(f.transport, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	s.SubscribeAll(f.events.record)
	f.syncer = s
	return f
}

func ids(records []vsyncer.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID()
	}
	return out
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := vsyncer.New(nil)
	assert.Error(t, err)

	cfg := vsyncer.DefaultConfig()
	cfg.DefaultTTL = 0
	_, err = vsyncer.New(inmemory.New(), vsyncer.WithConfig(cfg))
	assert.Error(t, err)
}

func TestSyncCollectionFetchesOnMiss(t *testing.T) {
	f := newFixture(t, vsyncer.DefaultConfig())
	f.transport.Seed("animals", vsyncer.Record{"id": "a1"}, vsyncer.Record{"id": "a2"})

	records, err := f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids(records))
	assert.Equal(t, 1, f.transport.FetchCount("animals"))
	assert.True(t, f.syncer.Store().Has("animals_all"))
	assert.Equal(t, []string{"animals"}, f.syncer.Collections())

	_, err = f.syncer.SyncCollection(context.Background(), "")
	assert.Error(t, err)
}

func TestSyncCollectionReturnsCopies(t *testing.T) {
	f := newFixture(t, vsyncer.DefaultConfig(), vsyncer.WithInitialOnline(false))
	f.transport.Seed("animals", vsyncer.Record{"id": "a1", "name": "cat"})

	first, err := f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)
	first[0]["name"] = "changed"

	second, err := f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)
	assert.Equal(t, "cat", second[0]["name"])
}

func TestStaleWhileRevalidate(t *testing.T) {
	f := newFixture(t, vsyncer.DefaultConfig())
	f.transport.Seed("animals", vsyncer.Record{"id": "a1"})

	_, err := f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)

	f.transport.Seed("animals", vsyncer.Record{"id": "a1"}, vsyncer.Record{"id": "a2"})
	release := f.transport.Block()

	// The cached listing comes back while the refresh is still held.
	records, err := f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids(records))
	require.Eventually(t, func() bool { return f.transport.FetchCount("animals") == 2 }, time.Second, time.Millisecond)

	release()
	f.syncer.Wait()

	records, err = f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids(records))

	updates := f.events.of(vsyncer.EventCollectionUpdated)
	require.Len(t, updates, 2)
	assert.Equal(t, "animals", updates[1].Collection)
	assert.NotEmpty(t, updates[1].ID)
}

func TestUnchangedRefreshEmitsNothing(t *testing.T) {
	f := newFixture(t, vsyncer.DefaultConfig())
	f.transport.Seed("animals", vsyncer.Record{"id": "a1"})

	for range 3 {
		_, err := f.syncer.SyncCollection(context.Background(), "animals")
		require.NoError(t, err)
		f.syncer.Wait()
	}

	assert.Equal(t, 3, f.transport.FetchCount("animals"))
	assert.Len(t, f.events.of(vsyncer.EventCollectionUpdated), 1)
}

func TestBackgroundRefreshFailureKeepsValue(t *testing.T) {
	f := newFixture(t, vsyncer.DefaultConfig())
	f.transport.Seed("animals", vsyncer.Record{"id": "a1"})

	_, err := f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)

	f.transport.SetOffline(true)
	records, err := f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)
	f.syncer.Wait()

	assert.Equal(t, []string{"a1"}, ids(records))
	assert.True(t, f.syncer.Store().Has("animals_all"))
	assert.Equal(t, 2, f.transport.FetchCount("animals"))
}

func TestNoBackgroundRefreshWhileOffline(t *testing.T) {
	f := newFixture(t, vsyncer.DefaultConfig())
	f.transport.Seed("animals", vsyncer.Record{"id": "a1"})

	_, err := f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)

	f.syncer.OnOffline()
	_, err = f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)
	f.syncer.Wait()

	assert.Equal(t, 1, f.transport.FetchCount("animals"))
}

func TestSingleFlight(t *testing.T) {
	f := newFixture(t, vsyncer.DefaultConfig(), vsyncer.WithInitialOnline(false))
	f.transport.Seed("animals", vsyncer.Record{"id": "a1"})
	release := f.transport.Block()

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]vsyncer.Record, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.syncer.SyncCollection(context.Background(), "animals")
		}()
	}

	require.Eventually(t, func() bool { return f.transport.FetchCount("animals") == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	assert.Equal(t, 1, f.transport.FetchCount("animals"))
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{"a1"}, ids(results[i]))
	}
}

func TestReaderJoinsBackgroundRefresh(t *testing.T) {
	f := newFixture(t, vsyncer.DefaultConfig())
	f.transport.Seed("animals", vsyncer.Record{"id": "a1"})

	_, err := f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)

	release := f.transport.Block()
	_, err = f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.transport.FetchCount("animals") == 2 }, time.Second, time.Millisecond)

	// With the listing gone the next reader has to wait, and it waits on the
	// refresh already in flight.
	f.syncer.OnOffline()
	f.syncer.Store().Invalidate("animals_all")

	done := make(chan []vsyncer.Record, 1)
	go func() {
		records, _ := f.syncer.SyncCollection(context.Background(), "animals")
		done <- records
	}()

	time.Sleep(20 * time.Millisecond)
	release()

	select {
	case records := <-done:
		assert.Equal(t, []string{"a1"}, ids(records))
	case <-time.After(time.Second):
		t.Fatal("Expected reader to complete")
	}
	assert.Equal(t, 2, f.transport.FetchCount("animals"))
}

func TestCallerCancellationDoesNotAbortFetch(t *testing.T) {
	f := newFixture(t, vsyncer.DefaultConfig())
	f.transport.Seed("animals", vsyncer.Record{"id": "a1"})
	release := f.transport.Block()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.syncer.SyncCollection(ctx, "animals")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return f.transport.FetchCount("animals") == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	release()
	f.syncer.Wait()
	assert.True(t, f.syncer.Store().Has("animals_all"))
}

func TestExpiryTriggersFreshFetch(t *testing.T) {
	cfg := vsyncer.DefaultConfig()
	cfg.DefaultTTL = 100 * time.Millisecond
	f := newFixture(t, cfg, vsyncer.WithInitialOnline(false))
	f.transport.Seed("animals", vsyncer.Record{"id": "a1"})

	store := f.syncer.Store()
	require.NoError(t, store.Set("animals_all", []byte(`[{"id":"a1"}]`), 100*time.Millisecond))

	f.clock.Advance(50 * time.Millisecond)
	data, ok := store.Get("animals_all")
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":"a1"}]`, string(data))

	f.clock.Advance(100 * time.Millisecond)
	_, ok = store.Get("animals_all")
	assert.False(t, ok)

	records, err := f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids(records))
	assert.Equal(t, 1, f.transport.FetchCount("animals"))
}

func TestStaleFallbackOnNetworkError(t *testing.T) {
	cfg := vsyncer.DefaultConfig()
	cfg.DefaultTTL = time.Second
	f := newFixture(t, cfg)
	f.transport.Seed("animals", vsyncer.Record{"id": "a1"})

	_, err := f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)
	f.transport.SetOffline(true)

	records, err := f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids(records))

	_, err = f.syncer.SyncCollection(context.Background(), "events")
	assert.True(t, vsyncer.IsNetworkError(err))
}

func TestApplicationErrorIsNotMaskedByFallback(t *testing.T) {
	cfg := vsyncer.DefaultConfig()
	cfg.DefaultTTL = time.Second
	f := newFixture(t, cfg)
	f.transport.Seed("animals", vsyncer.Record{"id": "a1"})

	_, err := f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)
	f.transport.FailFetch("animals", &vsyncer.ApplicationError{StatusCode: 403, Message: "forbidden"})

	_, err = f.syncer.SyncCollection(context.Background(), "animals")
	var appErr *vsyncer.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 403, appErr.StatusCode)
}

type rawTransport struct {
	raw     []byte
	fetches atomic.Int32
}

func (r *rawTransport) FetchCollection(context.Context, string) ([]byte, error) {
	r.fetches.Add(1)
	return r.raw, nil
}

func (r *rawTransport) PerformWrite(context.Context, vsyncer.WriteRequest) (any, error) {
	return nil, nil
}

func TestMalformedResponseNotCached(t *testing.T) {
	for _, raw := range []string{`{"id":"a1"}`, `[1,2]`, `not json`, `null`, `[{"id":"a1"}] trailing`} {
		tr := &rawTransport{raw: []byte(raw)}
		s, err := vsyncer.New(tr, vsyncer.WithScheduler(vclock.NewFake(epoch)))
		require.NoError(t, err)

		_, err = s.SyncCollection(context.Background(), "animals")
		var malformed *vsyncer.MalformedResponseError
		assert.ErrorAs(t, err, &malformed, raw)
		assert.False(t, vsyncer.IsNetworkError(err), raw)
		assert.Equal(t, 0, s.Store().Stats().Size, raw)

		_, err = s.SyncCollection(context.Background(), "animals")
		assert.Error(t, err, raw)
		assert.Equal(t, int32(2), tr.fetches.Load(), raw)

		require.NoError(t, s.Close())
	}
}

func TestEmptyCollectionIsValid(t *testing.T) {
	f := newFixture(t, vsyncer.DefaultConfig())

	records, err := f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NotNil(t, records)
}

func TestPeriodicRefreshCoversRecentCollections(t *testing.T) {
	cfg := vsyncer.DefaultConfig()
	cfg.DefaultTTL = time.Hour
	f := newFixture(t, cfg)
	f.transport.Seed("a", vsyncer.Record{"id": "1"})
	f.transport.Seed("b", vsyncer.Record{"id": "2"})

	ctx := context.Background()
	_, err := f.syncer.SyncCollection(ctx, "a")
	require.NoError(t, err)
	_, err = f.syncer.SyncCollection(ctx, "b")
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	f.syncer.Wait()
	assert.Equal(t, 2, f.transport.FetchCount("a"))
	assert.Equal(t, 2, f.transport.FetchCount("b"))

	// Nothing read since the last sweep.
	f.clock.Advance(5 * time.Minute)
	f.syncer.Wait()
	assert.Equal(t, 2, f.transport.FetchCount("a"))
	assert.Equal(t, 2, f.transport.FetchCount("b"))

	_, err = f.syncer.SyncCollection(ctx, "a")
	require.NoError(t, err)
	f.syncer.Wait()
	f.clock.Advance(5 * time.Minute)
	f.syncer.Wait()
	assert.Equal(t, 4, f.transport.FetchCount("a"))
	assert.Equal(t, 2, f.transport.FetchCount("b"))
}

func TestPeriodicRefreshSkippedWhileOffline(t *testing.T) {
	f := newFixture(t, vsyncer.DefaultConfig())
	f.transport.Seed("a", vsyncer.Record{"id": "1"})

	_, err := f.syncer.SyncCollection(context.Background(), "a")
	require.NoError(t, err)

	f.syncer.OnOffline()
	f.clock.Advance(5 * time.Minute)
	f.syncer.Wait()

	assert.Equal(t, 1, f.transport.FetchCount("a"))
}

func TestPeriodicCleanup(t *testing.T) {
	cfg := vsyncer.DefaultConfig()
	cfg.DefaultTTL = time.Second
	f := newFixture(t, cfg, vsyncer.WithInitialOnline(false))
	f.transport.Seed("a", vsyncer.Record{"id": "1"})

	_, err := f.syncer.SyncCollection(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, 1, f.syncer.Store().Stats().Size)

	f.clock.Advance(time.Minute)
	assert.Equal(t, 0, f.syncer.Store().Stats().Size)
}

func TestForceRefresh(t *testing.T) {
	f := newFixture(t, vsyncer.DefaultConfig(), vsyncer.WithInitialOnline(false))
	f.transport.Seed("a", vsyncer.Record{"id": "1"})
	f.transport.Seed("b", vsyncer.Record{"id": "2"})

	ctx := context.Background()
	_, _ = f.syncer.SyncCollection(ctx, "a")
	_, _ = f.syncer.SyncCollection(ctx, "b")

	f.transport.Seed("a", vsyncer.Record{"id": "1"}, vsyncer.Record{"id": "3"})
	require.NoError(t, f.syncer.ForceRefresh(ctx))

	assert.Equal(t, 2, f.transport.FetchCount("a"))
	assert.Equal(t, 2, f.transport.FetchCount("b"))

	records, err := f.syncer.SyncCollection(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, ids(records))
}

func TestForceRefreshReturnsError(t *testing.T) {
	f := newFixture(t, vsyncer.DefaultConfig(), vsyncer.WithInitialOnline(false))
	f.transport.Seed("a", vsyncer.Record{"id": "1"})

	_, err := f.syncer.SyncCollection(context.Background(), "a")
	require.NoError(t, err)

	f.transport.SetOffline(true)
	err = f.syncer.ForceRefresh(context.Background())
	assert.True(t, vsyncer.IsNetworkError(err))

	// Last-known values were dropped too.
	_, err = f.syncer.SyncCollection(context.Background(), "a")
	assert.Error(t, err)
}

func TestRefreshOnInvalidate(t *testing.T) {
	f := newFixture(t, vsyncer.DefaultConfig(), vsyncer.WithRefreshOnInvalidate(true))
	f.transport.Seed("animals", vsyncer.Record{"id": "a1"})

	_, err := f.syncer.SyncCollection(context.Background(), "animals")
	require.NoError(t, err)

	assert.Equal(t, 1, f.syncer.Invalidate("animals"))
	f.syncer.Wait()

	assert.Equal(t, 2, f.transport.FetchCount("animals"))
	assert.True(t, f.syncer.Store().Has("animals_all"))
}

func TestCloseStopsEverything(t *testing.T) {
	f := newFixture(t, vsyncer.DefaultConfig())
	f.transport.Seed("a", vsyncer.Record{"id": "1"})
	require.Equal(t, 2, f.clock.Pending())

	require.NoError(t, f.syncer.Close())
	require.NoError(t, f.syncer.Close())
	assert.Equal(t, 0, f.clock.Pending())

	_, err := f.syncer.SyncCollection(context.Background(), "a")
	assert.ErrorIs(t, err, vsyncer.ErrClosed)
	assert.ErrorIs(t, f.syncer.ForceRefresh(context.Background()), vsyncer.ErrClosed)

	_, err = f.syncer.HandleDataModification(context.Background(), vsyncer.Operation{
		Run: func(context.Context) (any, error) { return nil, nil },
	}, "a", "")
	assert.ErrorIs(t, err, vsyncer.ErrClosed)
}

func TestSubscribeByKind(t *testing.T) {
	f := newFixture(t, vsyncer.DefaultConfig())

	var got []vsyncer.SyncEvent
	unsubscribe := f.syncer.Subscribe(vsyncer.EventConnectivityChanged, func(e vsyncer.SyncEvent) {
		got = append(got, e)
	})

	f.syncer.OnOffline()
	unsubscribe()
	f.syncer.OnOnline()
	f.syncer.Wait()

	require.Len(t, got, 1)
	assert.False(t, got[0].Online)
	assert.Equal(t, epoch, got[0].OccurredAt)
}
