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

package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want bool
	}{
		{"network is retryable", NewNetworkError(errors.New("dial tcp: timeout")), true},
		{"timeout is retryable", NewTimeoutError(5000), true},
		{"model overloaded is retryable", NewModelOverloadedError("claude"), true},
		{"authentication failure is not retryable", NewAuthenticationFailedError(), false},
		{"rate limited is not retryable", NewRateLimitedError(30), false},
		{"unexpected response is not retryable", NewUnexpectedResponseError("bad shape"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Retryable())
		})
	}
}

func TestRateLimitedErrorDefaultsRetryAfter(t *testing.T) {
	err := NewRateLimitedError(0)
	assert.Equal(t, 60, err.RetryAfterSeconds)

	err = NewRateLimitedError(-5)
	assert.Equal(t, 60, err.RetryAfterSeconds)

	err = NewRateLimitedError(15)
	assert.Equal(t, 15, err.RetryAfterSeconds)
}

func TestErrorMessagesAreKindSpecific(t *testing.T) {
	assert.Equal(t, "timeout after 5000ms", NewTimeoutError(5000).Error())
	assert.Equal(t, "rate limited, retry after 30s", NewRateLimitedError(30).Error())
	assert.Equal(t, "model overloaded: claude-3", NewModelOverloadedError("claude-3").Error())
	assert.Equal(t, "authentication failed", NewAuthenticationFailedError().Error())
}

func TestErrorUnwrapsUnderlyingCause(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := NewNetworkError(cause)
	assert.ErrorIs(t, wrapped, cause)
}

func TestValidationErrorMessagesAreKindSpecific(t *testing.T) {
	missing := &ValidationError{Kind: ValidationMissingField, Field: "model"}
	assert.Equal(t, "missing field: model", missing.Error())

	invalid := &ValidationError{Kind: ValidationInvalidValue, Field: "max_tokens", Reason: "must be positive"}
	assert.Equal(t, "invalid value for max_tokens: must be positive", invalid.Error())

	generic := NewInvalidRequestError("request body empty")
	assert.Equal(t, "request body empty", generic.Error())
}
