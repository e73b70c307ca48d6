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

package vstore

import (
	"context"
	"time"
)

// RefreshHook produces a replacement value for an invalidated entry.
type RefreshHook[V any] func(ctx context.Context) (V, error)

// Entry is one cached value. Entries are replaced, never mutated.
type Entry[V any] struct {
	Data         V
	StoredAt     time.Time
	ExpiresAt    time.Time
	RefreshHooks []RefreshHook[V]
}

// Valid reports whether the entry may still be served at now.
func (e *Entry[V]) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// TTL is the lifetime the entry was stored with.
func (e *Entry[V]) TTL() time.Duration {
	return e.ExpiresAt.Sub(e.StoredAt)
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Size    int `json:"size"`
	Expired int `json:"expired"`
	Valid   int `json:"valid"`
}
