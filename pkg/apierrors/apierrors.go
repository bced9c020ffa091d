/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package apierrors implements an error taxonomy: every
// fallible operation in this module returns one of these kinds, wrapped
// around the underlying cause, so the HTTPGateway can map it to a status
// code without string-sniffing error messages.
package apierrors

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind string

const (
	// Validation covers unknown ops and malformed input.
	Validation Kind = "validation"
	// NotFound covers missing snapshot/node/pool ids where required.
	NotFound Kind = "not_found"
	// Inconsistent covers input that is well-formed but self-contradictory,
	// e.g. an empty target pool name after normalization.
	Inconsistent Kind = "inconsistent_input"
	// ExternalTransient covers recoverable failures of the price oracle or
	// the live cluster collector.
	ExternalTransient Kind = "external_transient"
	// Fatal covers a snapshot file that cannot be read, parsed or written.
	// LoadDir reports such files and skips them; boot fails only when the
	// baseline file is the one affected.
	Fatal Kind = "fatal"
)

// Error wraps a Kind and an underlying cause.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a Kind-tagged error from a format string.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

// Wrap tags an existing error with a Kind.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Cause: err}
}

// KindOf extracts the Kind from err, defaulting to Validation for untagged
// errors so the gateway never silently returns a 2xx on failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Validation
}
