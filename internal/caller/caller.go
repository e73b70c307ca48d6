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

// Package caller derives stable default names from call sites.
package caller

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// Name returns "pkg.Func:file.go:line" for the frame skip levels above the
// caller of Name. It returns "" when the stack is not that deep.
func Name(skip int) string {
	pcs := make([]uintptr, 1)
	if runtime.Callers(skip+2, pcs) == 0 {
		return ""
	}

	frame, _ := runtime.CallersFrames(pcs).Next()
	if frame.PC == 0 {
		return ""
	}

	fn := filepath.Base(frame.Function)
	if fn == "" || fn == "." {
		fn = "unknown"
	}

	return fmt.Sprintf("%s:%s:%d", fn, filepath.Base(frame.File), frame.Line)
}

// Short trims the line number from a name produced by Name.
func Short(name string) string {
	if i := strings.LastIndexByte(name, ':'); i > 0 {
		return name[:i]
	}
	return name
}
