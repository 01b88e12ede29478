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

// Package kernel holds the pattern templates used for detection.
package kernel

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/zeebo/wyhash"
	"gonum.org/v1/gonum/mat"
)

// ErrEmptyKernel means no values are given.
var ErrEmptyKernel = errors.New("kernel: empty kernel")

// ErrNotSquare means rows have different lengths or rows != cols.
var ErrNotSquare = errors.New("kernel: kernel is not square")

// ErrEvenSize means the side length is even and the kernel has no center.
var ErrEvenSize = errors.New("kernel: side length should be odd")

// ErrNonFinite means a value is NaN or Inf.
var ErrNonFinite = errors.New("kernel: non-finite value")

// ErrConstant means all values are equal, so no correlation can be computed.
var ErrConstant = errors.New("kernel: constant kernel")

// ErrTooLarge means the kernel is larger than the matrix.
var ErrTooLarge = errors.New("kernel: kernel larger than the matrix")

// ErrDuplicated means the same kernel values have been added to the library.
var ErrDuplicated = errors.New("kernel: duplicated kernel")

// InvalidKernelError is a malformed or unusable kernel.
// It aborts the detection with this kernel only.
type InvalidKernelError struct {
	Name string
	Err  error
}

func (e *InvalidKernelError) Error() string {
	return fmt.Sprintf("invalid kernel %s: %s", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *InvalidKernelError) Unwrap() error { return e.Err }

// Options contains the detection parameters bound to a kernel.
type Options struct {
	Resolution int  // bp, 0 for any resolution
	MinDist    int  // minimum genomic distance, bp
	MaxDist    int  // maximum genomic distance, bp, 0 for no limit
	Diagonal   bool // the pattern only occurs on the main diagonal

	PearsonThreshold float64 // 0 for the global setting
	MaxMissingFrac   float64 // 0 for the global setting
}

// Kernel is an immutable odd-sided square template.
type Kernel struct {
	id   int
	name string
	size int
	m    *mat.Dense
	opt  Options

	hash uint64
}

// New creates a kernel from rows of values.
func New(name string, rows [][]float64, opt *Options) (*Kernel, error) {
	n := len(rows)
	if n == 0 {
		return nil, &InvalidKernelError{Name: name, Err: ErrEmptyKernel}
	}
	data := make([]float64, 0, n*n)
	for i, row := range rows {
		if len(row) != n {
			return nil, &InvalidKernelError{Name: name,
				Err: errors.Wrapf(ErrNotSquare, "row %d has %d values, %d expected", i+1, len(row), n)}
		}
		data = append(data, row...)
	}
	return newKernel(name, mat.NewDense(n, n, data), opt)
}

// NewFromDense creates a kernel from a dense matrix, the values are copied.
func NewFromDense(name string, d *mat.Dense, opt *Options) (*Kernel, error) {
	if d == nil || d.IsEmpty() {
		return nil, &InvalidKernelError{Name: name, Err: ErrEmptyKernel}
	}
	r, c := d.Dims()
	if r != c {
		return nil, &InvalidKernelError{Name: name, Err: errors.Wrapf(ErrNotSquare, "%dx%d", r, c)}
	}
	return newKernel(name, mat.DenseCopyOf(d), opt)
}

func newKernel(name string, d *mat.Dense, opt *Options) (*Kernel, error) {
	n, _ := d.Dims()
	if n&1 == 0 {
		return nil, &InvalidKernelError{Name: name, Err: errors.Wrapf(ErrEvenSize, "%d", n)}
	}

	raw := d.RawMatrix()
	first := raw.Data[0]
	constant := true
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := raw.Data[i*raw.Stride+j]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &InvalidKernelError{Name: name,
					Err: errors.Wrapf(ErrNonFinite, "(%d, %d)", i, j)}
			}
			if v != first {
				constant = false
			}
		}
	}
	if constant {
		return nil, &InvalidKernelError{Name: name, Err: ErrConstant}
	}

	k := &Kernel{
		id:   -1,
		name: name,
		size: n,
		m:    d,
	}
	if opt != nil {
		k.opt = *opt
	}
	if k.opt.MinDist < 0 || k.opt.MaxDist < 0 || (k.opt.MaxDist > 0 && k.opt.MaxDist < k.opt.MinDist) {
		return nil, &InvalidKernelError{Name: name,
			Err: fmt.Errorf("invalid distance range: [%d, %d]", k.opt.MinDist, k.opt.MaxDist)}
	}
	if k.opt.MaxMissingFrac < 0 || k.opt.MaxMissingFrac > 1 {
		return nil, &InvalidKernelError{Name: name,
			Err: fmt.Errorf("invalid missing-bin tolerance: %f", k.opt.MaxMissingFrac)}
	}
	k.hash = fingerprint(k)
	return k, nil
}

// fingerprint hashes the side length and the values.
func fingerprint(k *Kernel) uint64 {
	buf := make([]byte, 8*k.size*k.size)
	var i int
	for r := 0; r < k.size; r++ {
		for c := 0; c < k.size; c++ {
			binary.LittleEndian.PutUint64(buf[i:], math.Float64bits(k.m.At(r, c)))
			i += 8
		}
	}
	return wyhash.Hash(buf, uint64(k.size))
}

// ID returns the index in the library, -1 if not added to a library.
func (k *Kernel) ID() int { return k.id }

// Name returns the pattern name.
func (k *Kernel) Name() string { return k.name }

// Size returns the side length.
func (k *Kernel) Size() int { return k.size }

// Radius returns the half side length.
func (k *Kernel) Radius() int { return k.size >> 1 }

// Options returns the detection parameters.
func (k *Kernel) Options() Options { return k.opt }

// Fingerprint returns a hash value of the kernel values.
func (k *Kernel) Fingerprint() uint64 { return k.hash }

// At returns the value at (i, j).
func (k *Kernel) At(i, j int) float64 { return k.m.At(i, j) }

// Values returns a row-major copy of the values.
func (k *Kernel) Values() []float64 {
	v := make([]float64, 0, k.size*k.size)
	for i := 0; i < k.size; i++ {
		v = append(v, mat.Row(nil, i, k.m)...)
	}
	return v
}

// Dense returns a copy of the values.
func (k *Kernel) Dense() *mat.Dense { return mat.DenseCopyOf(k.m) }

// IsSymmetric tells if the kernel equals its transpose.
func (k *Kernel) IsSymmetric() bool {
	return mat.Equal(k.m, k.m.T())
}

// withID returns a copy with the ID set.
func (k *Kernel) withID(id int) *Kernel {
	k2 := *k
	k2.id = id
	return &k2
}

func (k *Kernel) String() string {
	return fmt.Sprintf("%s(#%d, %dx%d)", k.name, k.id, k.size, k.size)
}
