// Package cos provides the DES error taxonomy (spec §7) and small
// validation helpers shared across container, writer, reader, packer,
// and recovery. Adapted from aistore's cmn/cos/err.go: one struct, one
// constructor, one Is* predicate per error kind, rather than matching
// on message substrings.
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"
)

type (
	// ErrFormat: corrupted header/footer/index, unsupported version,
	// region overlap, truncated entry. Never retried.
	ErrFormat struct{ what string }

	// ErrNotFound: name absent, container absent, external side-object
	// missing. Surfaced as 404 upstream.
	ErrNotFound struct{ what string }

	// ErrTransient: object-store/DB/HTTP upstream error that is safe to
	// retry with backoff.
	ErrTransient struct {
		what string
		Err  error
	}

	// ErrLeaseLost: renew() failed; the caller must stop touching the
	// shard immediately.
	ErrLeaseLost struct{ shard uint32 }

	// ErrValidation: bad configuration, invalid name characters,
	// oversize metadata. Never retried.
	ErrValidation struct{ what string }

	// ErrCancelled: shutdown flag observed mid-loop.
	ErrCancelled struct{ what string }
)

func NewErrFormat(format string, a ...any) *ErrFormat { return &ErrFormat{fmt.Sprintf(format, a...)} }
func (e *ErrFormat) Error() string                    { return "format error: " + e.what }
func IsErrFormat(err error) bool                      { var t *ErrFormat; return errors.As(err, &t) }

func NewErrNotFound(format string, a ...any) *ErrNotFound {
	return &ErrNotFound{fmt.Sprintf(format, a...)}
}
func (e *ErrNotFound) Error() string { return e.what + " not found" }
func IsErrNotFound(err error) bool   { var t *ErrNotFound; return errors.As(err, &t) }

func NewErrTransient(cause error, format string, a ...any) *ErrTransient {
	return &ErrTransient{what: fmt.Sprintf(format, a...), Err: cause}
}
func (e *ErrTransient) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient error: %s: %v", e.what, e.Err)
	}
	return "transient error: " + e.what
}
func (e *ErrTransient) Unwrap() error { return e.Err }
func IsErrTransient(err error) bool  { var t *ErrTransient; return errors.As(err, &t) }

func NewErrLeaseLost(shard uint32) *ErrLeaseLost { return &ErrLeaseLost{shard: shard} }
func (e *ErrLeaseLost) Error() string            { return fmt.Sprintf("lease lost for shard %d", e.shard) }
func IsErrLeaseLost(err error) bool              { var t *ErrLeaseLost; return errors.As(err, &t) }

func NewErrValidation(format string, a ...any) *ErrValidation {
	return &ErrValidation{fmt.Sprintf(format, a...)}
}
func (e *ErrValidation) Error() string { return "validation error: " + e.what }
func IsErrValidation(err error) bool   { var t *ErrValidation; return errors.As(err, &t) }

func NewErrCancelled(what string) *ErrCancelled { return &ErrCancelled{what} }
func (e *ErrCancelled) Error() string           { return "cancelled: " + e.what }
func IsErrCancelled(err error) bool             { var t *ErrCancelled; return errors.As(err, &t) }

// Plural is a tiny formatting helper used in log lines with counts.
func Plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
