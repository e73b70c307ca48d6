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

package vclock

import (
	"sync"
	"time"
)

// Fake is a Clock and Scheduler whose time only moves when Advance is called.
// Due tasks run synchronously inside Advance, in due-time order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	tasks  map[int]*fakeTask
}

type fakeTask struct {
	id       int
	interval time.Duration
	next     time.Time
	fn       func()
}

// NewFake returns a fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{
		now:   start,
		tasks: make(map[int]*fakeTask),
	}
}

// Now returns the virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Schedule registers fn to run every interval of virtual time.
func (f *Fake) Schedule(interval time.Duration, fn func()) CancelFunc {
	if interval <= 0 {
		return func() {}
	}

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.tasks[id] = &fakeTask{
		id:       id,
		interval: interval,
		next:     f.now.Add(interval),
		fn:       fn,
	}
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.tasks, id)
		f.mu.Unlock()
	}
}

// Advance moves the clock forward by d, firing every task that falls due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		task := f.earliestDue(target)
		if task == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = task.next
		task.next = task.next.Add(task.interval)
		fn := task.fn
		f.mu.Unlock()

		fn()
	}
}

// Pending returns the number of scheduled tasks.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

// earliestDue must be called with f.mu held. Ties go to the task scheduled first.
func (f *Fake) earliestDue(target time.Time) *fakeTask {
	var due *fakeTask
	for _, t := range f.tasks {
		if t.next.After(target) {
			continue
		}
		if due == nil || t.next.Before(due.next) || (t.next.Equal(due.next) && t.id < due.id) {
			due = t
		}
	}
	return due
}
