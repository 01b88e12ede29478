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

	"gonum.org/v1/gonum/mat"
)

// Resize zooms a kernel by a factor with bilinear interpolation.
// The new side length is odd and clamped to [minSize, maxSize].
// The ID and options are kept.
func Resize(k *Kernel, factor float64, minSize, maxSize int) (*Kernel, error) {
	if minSize&1 == 0 {
		minSize++
	}
	if maxSize&1 == 0 {
		maxSize--
	}
	size := int(float64(k.size) * factor)
	if size&1 == 0 {
		size--
	}
	if size > maxSize {
		size = maxSize
	}
	if size < minSize {
		size = minSize
	}
	if size == k.size {
		return k, nil
	}

	scale := float64(k.size) / float64(size)
	last := float64(k.size - 1)
	d := mat.NewDense(size, size, nil)
	for i := 0; i < size; i++ {
		y := clamp((float64(i)+0.5)*scale-0.5, 0, last)
		y0 := int(math.Floor(y))
		y1 := min(y0+1, k.size-1)
		fy := y - float64(y0)
		for j := 0; j < size; j++ {
			x := clamp((float64(j)+0.5)*scale-0.5, 0, last)
			x0 := int(math.Floor(x))
			x1 := min(x0+1, k.size-1)
			fx := x - float64(x0)

			v := (1-fy)*((1-fx)*k.m.At(y0, x0)+fx*k.m.At(y0, x1)) +
				fy*((1-fx)*k.m.At(y1, x0)+fx*k.m.At(y1, x1))
			d.Set(i, j, v)
		}
	}

	k2, err := newKernel(k.name, d, &k.opt)
	if err != nil {
		return nil, err
	}
	k2.id = k.id
	return k2, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
