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

package httptransport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/vogo/vogo/vlog"
	"github.com/vogo/vsyncer/vclock"
)

// Probe is a vsyncer.ConnectivitySource that polls a health URL. A 2xx
// reply counts as online. Only changes are reported.
type Probe struct {
	url    string
	client *http.Client
	cancel vclock.CancelFunc

	mu     sync.Mutex
	known  bool
	online bool
	closed bool
	ch     chan bool
}

// NewProbe checks healthURL every interval on scheduler.
func NewProbe(healthURL string, interval time.Duration, scheduler vclock.Scheduler) *Probe {
	p := &Probe{
		url:    healthURL,
		client: &http.Client{Timeout: 5 * time.Second},
		ch:     make(chan bool, 1),
	}

	p.cancel = scheduler.Schedule(interval, func() {
		p.Check(context.Background())
	})

	return p
}

// Check probes once and reports the result if it differs from the last one.
func (p *Probe) Check(ctx context.Context) bool {
	online := p.reachable(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || (p.known && p.online == online) {
		return online
	}
	p.known = true
	p.online = online

	vlog.Infof("httptransport probe | url: %s | online: %v", p.url, online)

	// Keep only the latest state when the reader falls behind.
	select {
	case p.ch <- online:
	default:
		select {
		case <-p.ch:
		default:
		}
		p.ch <- online
	}

	return online
}

func (p *Probe) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		vlog.Warnf("httptransport probe request | url: %s | err: %v", p.url, err)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Channel returns the connectivity signals.
func (p *Probe) Channel() <-chan bool {
	return p.ch
}

// Close stops polling and closes the channel.
func (p *Probe) Close() error {
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	return nil
}
