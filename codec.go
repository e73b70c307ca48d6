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
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// Record is one JSON object of a collection.
type Record map[string]any

// ID returns the record's "id" field as a string, or "" when absent.
func (r Record) ID() string {
	switch v := r["id"].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// MalformedResponseError is returned when a collection payload is not a JSON
// array of objects. Such payloads are never cached.
type MalformedResponseError struct {
	Collection string
	Err        error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("vsyncer malformed response | collection: %s | err: %v", e.Collection, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// normalizeCollection validates raw as an array of objects and returns its
// canonical encoding, so equal listings compare equal byte for byte.
func normalizeCollection(collection string, raw []byte) ([]byte, error) {
	records, err := decodeCollection(raw)
	if err != nil {
		return nil, &MalformedResponseError{Collection: collection, Err: err}
	}

	data, err := json.Marshal(records)
	if err != nil {
		return nil, &MalformedResponseError{Collection: collection, Err: err}
	}
	return data, nil
}

// decodeCollection returns a fresh copy of the records held in raw.
func decodeCollection(raw []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var records []Record
	if err := dec.Decode(&records); err != nil {
		return nil, errors.Wrap(err, "decode collection")
	}
	if dec.More() {
		return nil, errors.New("decode collection: trailing data")
	}
	if records == nil {
		return nil, errors.New("decode collection: expected an array")
	}
	for i, record := range records {
		if record == nil {
			return nil, errors.Errorf("decode collection: element %d is not an object", i)
		}
	}

	return records, nil
}
