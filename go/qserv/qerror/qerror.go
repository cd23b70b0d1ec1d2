/*
Copyright 2026 The Qserv Authors.

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

// Package qerror provides the error type used across the czar and the
// worker. Every error carries a Code so that callers can branch on the
// failure class without string matching, and so that the planner can
// report the first rule a query violated.
package qerror

import (
	"errors"
	"fmt"
)

// Code classifies an error.
type Code int

const (
	// OK is the zero Code. It is never attached to an error.
	OK Code = iota
	// Syntax: the statement failed the grammar.
	Syntax
	// ProhibitedDB: the query references a database outside the allow-list.
	ProhibitedDB
	// NoDBSelected: an unqualified reference with no default database.
	NoDBSelected
	// InvalidTable: a referenced table is not in the metadata catalog.
	InvalidTable
	// UnsupportedSyntax: the grammar accepts the statement but the
	// rewriter cannot transform it.
	UnsupportedSyntax
	// ResourceRefused: the memory manager cannot lock the required
	// tables right now. Retryable.
	ResourceRefused
	// Timeout: a task exceeded its scheduler's wall-clock budget.
	Timeout
	// Cancelled: the user query was cancelled.
	Cancelled
	// NoSuchKey: a metadata catalog key does not exist.
	NoSuchKey
	// Internal: an invariant violation. Indicates a bug, not user error.
	Internal
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Syntax:
		return "SYNTAX"
	case ProhibitedDB:
		return "PROHIBITED_DB"
	case NoDBSelected:
		return "NO_DB_SELECTED"
	case InvalidTable:
		return "INVALID_TABLE"
	case UnsupportedSyntax:
		return "UNSUPPORTED_SYNTAX"
	case ResourceRefused:
		return "RESOURCE_REFUSED"
	case Timeout:
		return "TIMEOUT"
	case Cancelled:
		return "CANCELLED"
	case NoSuchKey:
		return "NO_SUCH_KEY"
	case Internal:
		return "INTERNAL"
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

type codedError struct {
	code Code
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

// New returns an error with the given code and message.
func New(code Code, msg string) error {
	return &codedError{code: code, err: errors.New(msg)}
}

// Errorf returns a formatted error with the given code.
func Errorf(code Code, format string, args ...any) error {
	return &codedError{code: code, err: fmt.Errorf(format, args...)}
}

// Wrap annotates err with a message, keeping err's code if it has one.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &codedError{code: CodeOf(err), err: fmt.Errorf("%s: %w", msg, err)}
}

// Wrapf annotates err with a formatted message, keeping err's code.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// CodeOf returns the code attached to err, or Internal for a non-nil
// error with no code, or OK for nil.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return Internal
}

// IsRetryable reports whether the scheduler may retry after err.
func IsRetryable(err error) bool {
	return CodeOf(err) == ResourceRefused
}
