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

	"github.com/vogo/vsyncer/internal/uid"
)

// EventKind classifies a SyncEvent.
type EventKind string

const (
	EventCollectionUpdated   EventKind = "collection-updated"
	EventWriteQueued         EventKind = "write-queued"
	EventWriteFlushed        EventKind = "write-flushed"
	EventConnectivityChanged EventKind = "connectivity-changed"
)

// SyncEvent notifies subscribers of a change. Events are delivered once to
// the current subscribers and never replayed.
type SyncEvent struct {
	ID         string    `json:"id"`
	Kind       EventKind `json:"kind"`
	Collection string    `json:"collection,omitempty"`
	RecordID   string    `json:"record_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`

	// Online is the new state on connectivity-changed events.
	Online bool `json:"online,omitempty"`

	// Err is set on write-flushed events whose operation failed.
	Err error `json:"-"`

	// Source identifies the process that emitted the event.
	Source string `json:"source"`
}

func newEvent(kind EventKind, collection, recordID string, at time.Time) SyncEvent {
	return SyncEvent{
		ID:         uid.New(),
		Kind:       kind,
		Collection: collection,
		RecordID:   recordID,
		OccurredAt: at,
		Source:     uid.InstanceID,
	}
}
