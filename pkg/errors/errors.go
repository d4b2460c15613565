// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package errors

import (
	stdliberrors "errors"
)

var (
	ErrUnsupported = stdliberrors.ErrUnsupported

	As     = stdliberrors.As
	Is     = stdliberrors.Is
	Join   = stdliberrors.Join
	New    = stdliberrors.New
	Unwrap = stdliberrors.Unwrap
)

// NewPrecondition returns an error marking a violated precondition: a
// state the caller was required to establish was found missing, so
// running again without intervention cannot succeed.
func NewPrecondition(text string) PreconditionError {
	return &preconditionError{text}
}

// Precondition reports whether any error in err's chain is a
// PreconditionError.
func Precondition(err error) bool {
	var perr PreconditionError
	return As(err, &perr)
}

type PreconditionError interface {
	error
	Precondition()
}

type preconditionError struct {
	text string
}

func (p *preconditionError) Error() string {
	return p.text
}

func (p *preconditionError) Precondition() {}
