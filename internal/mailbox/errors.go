// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mailbox

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a remote failure.
type Kind int

const (
	// Unclassified errors are treated as Permanent.
	Unknown Kind = iota

	// Rate limits, timeouts, and server or network trouble.  Worth
	// retrying.
	Transient

	// The request will fail the same way again.
	Permanent

	// The message does not exist (any more).
	NotFound

	// Credentials are missing, expired beyond refresh, or revoked.
	// Only an operator can fix this.
	Auth
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case NotFound:
		return "not found"
	case Auth:
		return "auth"
	}
	return "unknown"
}

// Error is a classified remote failure.
type Error struct {
	Kind Kind

	// The operation that failed: list, fetch, delete, labels.
	Op string

	// Message id, if the operation concerned one message.
	ID string

	Err error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.ID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err.  A deadline that expired on a single
// attempt is Transient.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Permanent
}

func IsTransient(err error) bool { return KindOf(err) == Transient }
func IsNotFound(err error) bool  { return KindOf(err) == NotFound }
func IsAuth(err error) bool      { return KindOf(err) == Auth }
