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

// Package httptransport implements vsyncer.Transport over a JSON REST API
// laid out as {base}/{collection} and {base}/{collection}/{id}.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vogo/vogo/vlog"
	"github.com/vogo/vsyncer"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 20 * time.Second

// maxBodySize caps how much of a response is read.
const maxBodySize = 32 << 20

// Transport talks to the REST API rooted at a base URL.
type Transport struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	headers http.Header
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) {
		t.client = client
	}
}

// WithTimeout sets the timeout of the default client.
func WithTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		t.timeout = timeout
	}
}

// WithRateLimit allows at most limit requests per second, with bursts of burst.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(t *Transport) {
		t.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(t *Transport) {
		t.headers.Add(key, value)
	}
}

// New creates a transport for baseURL.
func New(baseURL string, opts ...Option) (*Transport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "httptransport: parse base url %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("httptransport: unsupported scheme %q", u.Scheme)
	}

	t := &Transport{
		baseURL: strings.TrimRight(u.String(), "/"),
		timeout: DefaultTimeout,
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		t.client = &http.Client{Timeout: t.timeout}
	}

	return t, nil
}

// FetchCollection GETs {base}/{collection}.
func (t *Transport) FetchCollection(ctx context.Context, collection string) ([]byte, error) {
	return t.do(ctx, http.MethodGet, t.endpoint(collection, ""), nil)
}

// PerformWrite maps create to POST, update to PUT and delete to DELETE. A
// JSON object reply is returned as a vsyncer.Record.
func (t *Transport) PerformWrite(ctx context.Context, req vsyncer.WriteRequest) (any, error) {
	var method, endpoint string
	switch req.Verb {
	case vsyncer.VerbCreate:
		method, endpoint = http.MethodPost, t.endpoint(req.Collection, "")
	case vsyncer.VerbUpdate:
		method, endpoint = http.MethodPut, t.endpoint(req.Collection, req.RecordID)
	case vsyncer.VerbDelete:
		method, endpoint = http.MethodDelete, t.endpoint(req.Collection, req.RecordID)
	default:
		return nil, errors.Errorf("httptransport: unknown verb %q", req.Verb)
	}
	if req.Verb != vsyncer.VerbCreate && req.RecordID == "" {
		return nil, errors.Errorf("httptransport: %s requires a record id", req.Verb)
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errors.Wrap(err, "httptransport: encode body")
		}
		body = bytes.NewReader(data)
	}

	data, err := t.do(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}

	return decodeReply(data)
}

func (t *Transport) endpoint(collection, id string) string {
	endpoint := t.baseURL + "/" + url.PathEscape(collection)
	if id != "" {
		endpoint += "/" + url.PathEscape(id)
	}
	return endpoint
}

func (t *Transport) do(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	op := method + " " + endpoint

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "httptransport: rate limit")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, errors.Wrapf(err, "httptransport: build request %s", op)
	}
	for k, vs := range t.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, &vsyncer.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &vsyncer.NetworkError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	message := errorMessage(data, resp.Status)
	vlog.Debugf("httptransport request failed | op: %s | status: %d | message: %s", op, resp.StatusCode, message)

	if vsyncer.IsNetworkStatus(resp.StatusCode) {
		return nil, &vsyncer.NetworkError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(message)}
	}
	return nil, &vsyncer.ApplicationError{StatusCode: resp.StatusCode, Message: message}
}

// errorMessage extracts {"error": ...} or {"message": ...} from a reply.
func errorMessage(data []byte, status string) string {
	var reply struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &reply) == nil {
		if reply.Error != "" {
			return reply.Error
		}
		if reply.Message != "" {
			return reply.Message
		}
	}
	if text := strings.TrimSpace(string(data)); text != "" && len(text) < 512 {
		return text
	}
	return status
}

func decodeReply(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var reply any
	if err := dec.Decode(&reply); err != nil {
		return nil, errors.Wrap(err, "httptransport: decode reply")
	}
	if obj, ok := reply.(map[string]any); ok {
		return vsyncer.Record(obj), nil
	}
	return reply, nil
}
