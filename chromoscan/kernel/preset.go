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

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// ErrUnknownPreset means no preset has the name.
var ErrUnknownPreset = errors.New("kernel: unknown preset")

var presets = map[string]func() (*Kernel, error){
	"loops":   loopKernel,
	"borders": borderKernel,
}

// PresetNames returns the names of built-in kernels.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preset returns a built-in kernel.
func Preset(name string) (*Kernel, error) {
	fn, ok := presets[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownPreset, name)
	}
	return fn()
}

// loopKernel is a 7x7 Gaussian spot, sigma 1.2 bins.
func loopKernel() (*Kernel, error) {
	const size = 7
	const sigma = 1.2
	c := size >> 1
	rows := make([][]float64, size)
	for i := range rows {
		rows[i] = make([]float64, size)
		for j := range rows[i] {
			d2 := float64((i-c)*(i-c) + (j-c)*(j-c))
			rows[i][j] = math.Exp(-d2 / (2 * sigma * sigma))
		}
	}
	return New("loops", rows, &Options{Resolution: 10000})
}

// borderKernel is a 7x7 corner of two adjacent domains on the diagonal.
func borderKernel() (*Kernel, error) {
	const size = 7
	c := size >> 1
	rows := make([][]float64, size)
	for i := range rows {
		rows[i] = make([]float64, size)
		for j := range rows[i] {
			switch {
			case i == c || j == c:
				rows[i][j] = 0.5
			case (i < c) == (j < c):
				rows[i][j] = 1
			}
		}
	}
	return New("borders", rows, &Options{Resolution: 10000, Diagonal: true})
}
