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

package kernel

import "github.com/pkg/errors"

// Library is an ordered collection of kernels, IDs follow the insertion order.
type Library struct {
	kernels []*Kernel
	hashes  map[uint64]int
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{hashes: make(map[uint64]int, 8)}
}

// Add adds a kernel and returns the copy with its ID assigned.
func (l *Library) Add(k *Kernel) (*Kernel, error) {
	if k == nil {
		return nil, &InvalidKernelError{Err: ErrEmptyKernel}
	}
	if id, ok := l.hashes[k.hash]; ok {
		return nil, &InvalidKernelError{Name: k.name,
			Err: errors.Wrapf(ErrDuplicated, "same as %s", l.kernels[id].name)}
	}
	k2 := k.withID(len(l.kernels))
	l.hashes[k.hash] = k2.id
	l.kernels = append(l.kernels, k2)
	return k2, nil
}

// Len returns the number of kernels.
func (l *Library) Len() int { return len(l.kernels) }

// Kernels returns all kernels in ID order.
func (l *Library) Kernels() []*Kernel {
	ks := make([]*Kernel, len(l.kernels))
	copy(ks, l.kernels)
	return ks
}

// Get returns the kernel with the given ID.
func (l *Library) Get(id int) (*Kernel, bool) {
	if id < 0 || id >= len(l.kernels) {
		return nil, false
	}
	return l.kernels[id], true
}

// MinResizedSize and MaxResizedSize bound the side length of resized kernels.
var MinResizedSize, MaxResizedSize = 3, 21

// ForMatrix returns kernels usable for a matrix of n bins of binSize bp.
// Kernels with another native resolution are resized.
// Kernels that can not be used are reported as *InvalidKernelError.
func (l *Library) ForMatrix(binSize, n int) ([]*Kernel, []error) {
	ks := make([]*Kernel, 0, len(l.kernels))
	var errs []error
	var err error
	for _, k := range l.kernels {
		if res := k.opt.Resolution; res > 0 && res != binSize {
			k, err = Resize(k, float64(res)/float64(binSize), MinResizedSize, MaxResizedSize)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			k.opt.Resolution = binSize
		}
		if k.size > n {
			errs = append(errs, &InvalidKernelError{Name: k.name,
				Err: errors.Wrapf(ErrTooLarge, "%d > %d", k.size, n)})
			continue
		}
		ks = append(ks, k)
	}
	return ks, errs
}
