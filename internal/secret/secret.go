// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package secret holds values that must never leak into logs or error
// messages by accident: API keys, bearer tokens, and similar credentials.
package secret

const redacted = "<REDACTED>"

// String wraps a sensitive string value. Its String and GoString methods
// always render the redacted placeholder; only Expose returns the
// plaintext. This is a discipline enforced by convention, not by the
// type system — callers must not round-trip the value through
// fmt.Sprintf("%v") and expect it to stay secret forever, since Expose
// defeats that on purpose.
type String struct {
	value string
}

// New wraps a plaintext value.
func New(value string) String {
	return String{value: value}
}

// Expose returns the plaintext value. The only sanctioned way to read it.
func (s String) Expose() string {
	return s.value
}

// Empty reports whether the wrapped value is the empty string.
func (s String) Empty() bool {
	return s.value == ""
}

// String implements fmt.Stringer with redaction.
func (s String) String() string {
	return redacted
}

// GoString implements fmt.GoStringer so %#v also redacts.
func (s String) GoString() string {
	return redacted
}

// MarshalJSON redacts the value when a Secret is accidentally serialized.
func (s String) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}
