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
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// Transport performs the network calls behind a Syncer.
type Transport interface {
	// FetchCollection returns the raw JSON listing of a collection.
	FetchCollection(ctx context.Context, collection string) ([]byte, error)

	// PerformWrite sends one mutation and returns the server's reply.
	PerformWrite(ctx context.Context, req WriteRequest) (any, error)
}

// Verb names a mutation.
type Verb string

const (
	VerbCreate Verb = "create"
	VerbUpdate Verb = "update"
	VerbDelete Verb = "delete"
)

// WriteRequest describes one mutation against a collection.
type WriteRequest struct {
	Verb       Verb
	Collection string
	RecordID   string
	Body       any
}

// NetworkError is a transient failure: the request may succeed once the
// network recovers.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("vsyncer network error | op: %s | status: %d | err: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("vsyncer network error | op: %s | err: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ApplicationError is a definitive rejection by the server, such as a
// validation or authorization failure. It is never queued for retry.
type ApplicationError struct {
	StatusCode int
	Message    string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("vsyncer application error | status: %d | message: %s", e.StatusCode, e.Message)
}

// IsNetworkStatus reports whether an HTTP status signals a transient failure.
func IsNetworkStatus(code int) bool {
	return code >= http.StatusInternalServerError ||
		code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout
}

var networkPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"network is unreachable",
	"no such host",
	"temporary failure",
	"dial tcp",
	"eof",
	"connection lost",
	"i/o timeout",
	"deadline exceeded",
}

// IsNetworkError reports whether err is network-class. Application errors
// and caller cancellation are not.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var opErr net.Error
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range networkPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}
