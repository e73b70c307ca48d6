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

// Package registry routes events to the handlers subscribed to them.
package registry

import (
	"runtime/debug"
	"sync"

	"github.com/vogo/vogo/vlog"
)

// Handler receives one published event.
type Handler[E any] func(event E)

type subscription[K comparable, E any] struct {
	id      uint64
	all     bool
	kind    K
	handler Handler[E]
}

// Registry holds handlers keyed by event kind. Handlers are called in
// subscription order, outside the registry lock.
type Registry[K comparable, E any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []*subscription[K, E]
}

// New returns an empty registry.
func New[K comparable, E any]() *Registry[K, E] {
	return &Registry[K, E]{}
}

// Subscribe registers handler for events of kind. The returned function
// removes it and may be called more than once.
func (r *Registry[K, E]) Subscribe(kind K, handler Handler[E]) func() {
	return r.add(&subscription[K, E]{kind: kind, handler: handler})
}

// SubscribeAll registers handler for every kind.
func (r *Registry[K, E]) SubscribeAll(handler Handler[E]) func() {
	return r.add(&subscription[K, E]{all: true, handler: handler})
}

func (r *Registry[K, E]) add(sub *subscription[K, E]) func() {
	r.mu.Lock()
	r.nextID++
	sub.id = r.nextID
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	return func() {
		r.remove(sub.id)
	}
}

func (r *Registry[K, E]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, sub := range r.subs {
		if sub.id == id {
			subs := make([]*subscription[K, E], 0, len(r.subs)-1)
			subs = append(subs, r.subs[:i]...)
			r.subs = append(subs, r.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of live subscriptions.
func (r *Registry[K, E]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Publish delivers event to the handlers of kind and to catch-all handlers.
// A panicking handler is logged and does not stop delivery to the rest.
func (r *Registry[K, E]) Publish(kind K, event E) int {
	r.mu.RLock()
	subs := r.subs
	r.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if !sub.all && sub.kind != kind {
			continue
		}
		deliver(sub.handler, event)
		delivered++
	}
	return delivered
}

func deliver[E any](handler Handler[E], event E) {
	defer func() {
		if err := recover(); err != nil {
			vlog.Errorf("registry handler panic: %v | stack: %s", err, debug.Stack())
		}
	}()
	handler(event)
}
