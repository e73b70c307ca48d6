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
	"regexp"
	"strings"
)

// KeyScheme maps collections and records to store keys.
type KeyScheme interface {
	// ListKey is the key of a whole collection listing.
	ListKey(collection string) string

	// RecordKey is the key of a single record.
	RecordKey(collection, recordID string) string

	// FamilyPattern matches every key belonging to collection.
	FamilyPattern(collection string) *regexp.Regexp
}

// DefaultKeyScheme uses "<collection>_all" and "<collection>_detail_<id>".
type DefaultKeyScheme struct{}

func (DefaultKeyScheme) ListKey(collection string) string {
	return collection + "_all"
}

func (DefaultKeyScheme) RecordKey(collection, recordID string) string {
	return collection + "_detail_" + recordID
}

func (DefaultKeyScheme) FamilyPattern(collection string) *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(collection) + "_.*")
}

// OperationKey builds the dedup key of a pending operation, e.g.
// "update:animals:abc123".
func OperationKey(verb Verb, collection, recordID string) string {
	return strings.Join([]string{string(verb), collection, recordID}, ":")
}
