// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"errors"
	"fmt"
)

// ValidationError reports a missing or malformed field in an envelope or
// payload. It isolates a single message: processing loops record it and
// move on to the next message.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message: field %q %s", e.Field, e.Reason)
}

// TypeMismatchError reports an envelope arriving with the wrong payload kind,
// e.g. a Feature B payload on the features_a topic. Same isolation policy
// as ValidationError.
type TypeMismatchError struct {
	Want PayloadKind
	Got  PayloadKind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("payload kind mismatch: want %s, got %s", e.Want, e.Got)
}

// IsMessageError returns true for errors that condemn a single message
// rather than the processing loop.
func IsMessageError(err error) bool {
	var ve *ValidationError
	var te *TypeMismatchError
	return errors.As(err, &ve) || errors.As(err, &te)
}
