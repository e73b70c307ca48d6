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
	"context"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"github.com/vogo/vogo/vlog"
	"github.com/vogo/vsyncer/vclock"
)

// Operation is a mutation to run against the server.
type Operation struct {
	// Key deduplicates the operation if it has to be queued. When empty,
	// OperationKey(Verb, collection, recordID) is used.
	Key  string
	Verb Verb
	Run  func(ctx context.Context) (any, error)
}

// Deferred is the result of a write that was queued instead of applied. The
// write runs when connectivity returns.
type Deferred struct {
	Key        string
	Collection string
	RecordID   string
	QueuedAt   time.Time
}

// IsDeferred reports whether result came from a queued write.
func IsDeferred(result any) bool {
	_, ok := result.(*Deferred)
	return ok
}

// HandleDataModification runs op. On success the record and the whole
// collection family are invalidated and collection-updated is emitted.
//
// While offline op is not run: it is queued, write-queued is emitted and a
// *Deferred result is returned with a nil error. The same happens when op
// fails with a network error and the syncer has gone offline meanwhile. Any
// other failure is returned unchanged.
func (s *Syncer) HandleDataModification(ctx context.Context, op Operation, collection, recordID string) (any, error) {
	if op.Run == nil {
		return nil, errors.New("vsyncer: operation has no run function")
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	if deferred, ok := s.deferIfOffline(op, collection, recordID, nil); ok {
		return deferred, nil
	}

	result, err := op.Run(ctx)
	if err == nil {
		s.invalidateWritten(collection, recordID)
		s.emit(newEvent(EventCollectionUpdated, collection, recordID, s.clock.Now()))
		return result, nil
	}

	if !IsNetworkError(err) {
		return nil, err
	}
	if deferred, ok := s.deferIfOffline(op, collection, recordID, err); ok {
		return deferred, nil
	}

	return nil, err
}

// deferIfOffline queues op when the syncer is offline. The connectivity check
// and the enqueue happen under s.mu, so an OnOnline racing with it either
// finds the operation in the queue or makes this call decline.
func (s *Syncer) deferIfOffline(op Operation, collection, recordID string, cause error) (*Deferred, bool) {
	key := op.Key
	if key == "" {
		key = OperationKey(op.Verb, collection, recordID)
	}

	now := s.clock.Now()

	s.mu.Lock()
	if s.online || s.closed {
		s.mu.Unlock()
		return nil, false
	}
	replaced := s.queue.Enqueue(PendingOperation{
		Key:        key,
		Collection: collection,
		RecordID:   recordID,
		Run:        op.Run,
		EnqueuedAt: now,
	})
	s.mu.Unlock()

	vlog.Infof("vsyncer write queued | syncer: %s | key: %s | replaced: %v | pending: %d | err: %v", s.name, key, replaced, s.queue.Len(), cause)
	s.emit(newEvent(EventWriteQueued, collection, recordID, now))

	return &Deferred{
		Key:        key,
		Collection: collection,
		RecordID:   recordID,
		QueuedAt:   now,
	}, true
}

// Write sends req through the transport under HandleDataModification.
func (s *Syncer) Write(ctx context.Context, req WriteRequest) (any, error) {
	op := Operation{
		Verb: req.Verb,
		Run: func(ctx context.Context) (any, error) {
			return s.transport.PerformWrite(ctx, req)
		},
	}
	return s.HandleDataModification(ctx, op, req.Collection, req.RecordID)
}

func (s *Syncer) invalidateWritten(collection, recordID string) {
	if recordID != "" {
		s.store.Invalidate(s.keys.RecordKey(collection, recordID))
	}
	s.store.InvalidatePattern(s.keys.FamilyPattern(collection))
}

// flush drains the queue while online.
func (s *Syncer) flush() {
	if s.queue.Len() == 0 {
		return
	}

	n := s.queue.Drain(s.ctx, s.IsOnline, s.flushOne)
	vlog.Infof("vsyncer queue flushed | syncer: %s | operations: %d | remaining: %d", s.name, n, s.queue.Len())
}

// flushOne runs a queued operation. Failures are logged and dropped.
func (s *Syncer) flushOne(ctx context.Context, op PendingOperation) {
	_, err := s.runQueued(ctx, op)

	event := newEvent(EventWriteFlushed, op.Collection, op.RecordID, s.clock.Now())
	if err != nil {
		vlog.Warnf("vsyncer dropped queued write | syncer: %s | key: %s | err: %v", s.name, op.Key, err)
		event.Err = err
	} else {
		vlog.Debugf("vsyncer flushed queued write | syncer: %s | key: %s", s.name, op.Key)
		s.invalidateWritten(op.Collection, op.RecordID)
	}
	s.emit(event)
}

// runQueued retries network failures up to FlushRetries times.
func (s *Syncer) runQueued(ctx context.Context, op PendingOperation) (any, error) {
	for attempt := 0; ; attempt++ {
		result, err := runSafely(ctx, op.Run)
		if err == nil || !IsNetworkError(err) || attempt >= s.cfg.FlushRetries {
			return result, err
		}

		vlog.Warnf("vsyncer retrying queued write | syncer: %s | key: %s | attempt: %d | err: %v", s.name, op.Key, attempt+1, err)

		elapsed, cancel := vclock.After(s.scheduler, s.cfg.FlushRetryDelay)
		select {
		case <-ctx.Done():
			cancel()
			return nil, ctx.Err()
		case <-elapsed:
			cancel()
		}
	}
}

func runSafely(ctx context.Context, run func(context.Context) (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			vlog.Errorf("vsyncer queued write panic: %v | stack: %s", r, debug.Stack())
			err = errors.Errorf("queued write panic: %v", r)
		}
	}()
	return run(ctx)
}
