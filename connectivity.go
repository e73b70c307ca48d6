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
	"runtime/debug"

	"github.com/vogo/vogo/vlog"
	"github.com/vogo/vogo/vsync/vrun"
)

// ConnectivitySource reports connectivity changes: true when the network is
// reachable, false when it is not.
type ConnectivitySource interface {
	Channel() <-chan bool

	// Close releases resources held by the source.
	Close() error
}

// OnOnline marks the syncer online. On an actual transition it emits
// connectivity-changed, then flushes the write queue and refreshes every
// collection read so far in the background.
func (s *Syncer) OnOnline() {
	if !s.setOnline(true) {
		return
	}

	vlog.Infof("vsyncer online | syncer: %s | pending: %d", s.name, s.queue.Len())
	s.emitConnectivity(true)

	if !s.begin() {
		return
	}
	go func() {
		defer s.wg.Done()
		s.flush()
		s.refreshTracked()
	}()
}

// OnOffline marks the syncer offline and emits connectivity-changed on an
// actual transition.
func (s *Syncer) OnOffline() {
	if !s.setOnline(false) {
		return
	}

	vlog.Infof("vsyncer offline | syncer: %s", s.name)
	s.emitConnectivity(false)
}

func (s *Syncer) setOnline(online bool) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.online == online {
		return false
	}
	s.online = online
	return true
}

func (s *Syncer) emitConnectivity(online bool) {
	event := newEvent(EventConnectivityChanged, "", "", s.clock.Now())
	event.Online = online
	s.emit(event)
}

// Watch feeds connectivity signals from source into the syncer until runner
// stops. The source is closed when the runner stops.
func (s *Syncer) Watch(runner *vrun.Runner, source ConnectivitySource) {
	runner.Defer(func() {
		if err := source.Close(); err != nil {
			vlog.Errorf("vsyncer error closing connectivity source | err: %v", err)
		}
	})

	ch := source.Channel()

	runner.Loop(func() {
		defer func() {
			if _err := recover(); _err != nil {
				vlog.Errorf("vsyncer connectivity loop panic: %v | stack: %s", _err, debug.Stack())
			}
		}()

		select {
		case online, ok := <-ch:
			if !ok {
				vlog.Infof("vsyncer connectivity channel closed | syncer: %s", s.name)
				ch = nil
				return
			}
			if online {
				s.OnOnline()
			} else {
				s.OnOffline()
			}
		case <-runner.C:
			vlog.Infof("vsyncer connectivity watch done | syncer: %s", s.name)
			return
		}
	})
}
