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

// Package vclock provides the time source and periodic scheduler used by the
// cache store and the sync coordinator, plus a virtual-time fake for tests.
package vclock

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/vogo/vogo/vlog"
	"github.com/vogo/vogo/vsync/vrun"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// CancelFunc stops a scheduled task. It is safe to call more than once.
type CancelFunc func()

// Scheduler runs fn every interval until the returned CancelFunc is called.
type Scheduler interface {
	Schedule(interval time.Duration, fn func()) CancelFunc
}

// System is the wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time {
	return time.Now()
}

// Ticker is a Scheduler backed by time.Ticker, one vrun.Runner per task.
type Ticker struct{}

// NewTicker returns a wall-clock scheduler.
func NewTicker() *Ticker {
	return &Ticker{}
}

// Schedule starts a runner loop that calls fn on every tick.
// A panicking fn is logged and the loop keeps going.
func (*Ticker) Schedule(interval time.Duration, fn func()) CancelFunc {
	if interval <= 0 {
		vlog.Warnf("vclock ignoring schedule with non-positive interval | interval: %v", interval)
		return func() {}
	}

	runner := vrun.New()
	ticker := time.NewTicker(interval)
	runner.Defer(ticker.Stop)

	runner.Loop(func() {
		select {
		case <-ticker.C:
			runSafely(fn)
		case <-runner.C:
		}
	})

	var once sync.Once
	return func() {
		once.Do(runner.Stop)
	}
}

// After returns a channel closed once d has passed on scheduler. The returned
// CancelFunc releases the underlying task and must be called once the channel
// is no longer awaited.
func After(scheduler Scheduler, d time.Duration) (<-chan struct{}, CancelFunc) {
	done := make(chan struct{})
	if d <= 0 {
		close(done)
		return done, func() {}
	}

	var once sync.Once
	cancel := scheduler.Schedule(d, func() {
		once.Do(func() { close(done) })
	})
	return done, cancel
}

func runSafely(fn func()) {
	defer func() {
		if err := recover(); err != nil {
			vlog.Errorf("vclock scheduled task panic: %v | stack: %s", err, debug.Stack())
		}
	}()
	fn()
}
