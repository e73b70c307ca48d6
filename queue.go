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
	"sync"
	"time"
)

// PendingOperation is a write deferred while offline.
type PendingOperation struct {
	// Key deduplicates operations; a newer operation with the same key
	// replaces the queued one.
	Key        string
	Collection string
	RecordID   string
	Run        func(ctx context.Context) (any, error)
	EnqueuedAt time.Time
}

// Queue is a FIFO of pending operations with last-write-wins per key.
type Queue struct {
	mu  sync.Mutex
	ops []PendingOperation

	drainMu sync.Mutex
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends op. An operation already queued under the same key is
// replaced in place and keeps its position; replaced reports that case.
func (q *Queue) Enqueue(op PendingOperation) (replaced bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.ops {
		if q.ops[i].Key == op.Key {
			q.ops[i] = op
			return true
		}
	}
	q.ops = append(q.ops, op)
	return false
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Keys returns the queued keys in flush order.
func (q *Queue) Keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys := make([]string, len(q.ops))
	for i, op := range q.ops {
		keys[i] = op.Key
	}
	return keys
}

func (q *Queue) pop() (PendingOperation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return PendingOperation{}, false
	}
	op := q.ops[0]
	q.ops[0] = PendingOperation{}
	q.ops = q.ops[1:]
	return op, true
}

// Drain hands queued operations to fn one at a time, in enqueue order, until
// the queue is empty, ctx is done or proceed returns false. Each operation is
// removed before fn runs, so it is consumed exactly once whatever fn does.
// Operations enqueued while draining are picked up by the same drain.
// Concurrent drains run one after the other. Drain returns how many
// operations it handed out.
func (q *Queue) Drain(ctx context.Context, proceed func() bool, fn func(ctx context.Context, op PendingOperation)) int {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	n := 0
	for ctx.Err() == nil && (proceed == nil || proceed()) {
		op, ok := q.pop()
		if !ok {
			break
		}
		fn(ctx, op)
		n++
	}
	return n
}
