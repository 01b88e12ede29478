// Copyright © 2023-2024 Wei Shen <shenwei356@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package matrix

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrEmptyMatrix means the matrix has no bins.
var ErrEmptyMatrix = errors.New("matrix: empty matrix")

// ErrInvalidBinSize means the bin size is not positive.
var ErrInvalidBinSize = errors.New("matrix: invalid bin size")

// ErrAsymmetric means a bin pair is given twice with different values.
var ErrAsymmetric = errors.New("matrix: asymmetric contacts")

// ErrInvalidValue means a contact value is negative, NaN or Inf.
var ErrInvalidValue = errors.New("matrix: negative or non-finite contact value")

// ErrBinOutOfRange means a contact refers to a bin beyond the matrix dimension.
var ErrBinOutOfRange = errors.New("matrix: bin index out of range")

// ErrMaskLength means a validity mask does not match the matrix dimension.
var ErrMaskLength = errors.New("matrix: length of validity mask mismatch")

// ErrInvalidFactor means a coarsening factor is smaller than 1.
var ErrInvalidFactor = errors.New("matrix: invalid coarsening factor")

// InputError is a malformed or unusable contact matrix.
// It aborts the processing of that matrix only.
type InputError struct {
	Chrom string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input matrix %s: %s", e.Chrom, e.Err)
}

// Unwrap returns the underlying error.
func (e *InputError) Unwrap() error { return e.Err }

// OutOfRangeError means a requested window does not fit in the matrix.
type OutOfRangeError struct {
	Row, Col, Radius int
	N                int // matrix dimension
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("matrix: window of radius %d at (%d, %d) out of range [0, %d)",
		e.Radius, e.Row, e.Col, e.N)
}
