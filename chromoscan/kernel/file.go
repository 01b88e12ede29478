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
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// kernelFile is the TOML form of a kernel.
// A file contains one kernel at the top level, or several [[kernel]] tables.
type kernelFile struct {
	Name             string      `toml:"name"`
	Resolution       int         `toml:"resolution"`
	MinDist          int         `toml:"min_dist"`
	MaxDist          int         `toml:"max_dist"`
	Diagonal         bool        `toml:"diagonal"`
	PearsonThreshold float64     `toml:"pearson_threshold"`
	MaxMissingFrac   float64     `toml:"max_missing"`
	Matrix           [][]float64 `toml:"matrix"`

	Kernels []kernelFile `toml:"kernel,omitempty"`
}

func (f *kernelFile) kernel(defaultName string) (*Kernel, error) {
	name := f.Name
	if name == "" {
		name = defaultName
	}
	return New(name, f.Matrix, &Options{
		Resolution:       f.Resolution,
		MinDist:          f.MinDist,
		MaxDist:          f.MaxDist,
		Diagonal:         f.Diagonal,
		PearsonThreshold: f.PearsonThreshold,
		MaxMissingFrac:   f.MaxMissingFrac,
	})
}

// Decode parses kernels from TOML data.
// Unnamed kernels are named after defaultName.
func Decode(data []byte, defaultName string) ([]*Kernel, error) {
	var f kernelFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parsing kernel file")
	}

	var ks []*Kernel
	if len(f.Matrix) > 0 {
		k, err := f.kernel(defaultName)
		if err != nil {
			return nil, err
		}
		ks = append(ks, k)
	}
	for i := range f.Kernels {
		k, err := f.Kernels[i].kernel(defaultName)
		if err != nil {
			return nil, err
		}
		ks = append(ks, k)
	}
	if len(ks) == 0 {
		return nil, &InvalidKernelError{Name: defaultName, Err: ErrEmptyKernel}
	}
	return ks, nil
}

// Read parses kernels from a reader.
func Read(r io.Reader, defaultName string) ([]*Kernel, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Decode(data, defaultName)
}

// LoadFile parses kernels from a TOML file.
func LoadFile(file string, defaultName string) ([]*Kernel, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "reading kernel file %s", file)
	}
	return Decode(data, defaultName)
}

// Encode returns the TOML form of a kernel.
func Encode(k *Kernel) ([]byte, error) {
	f := kernelFile{
		Name:             k.name,
		Resolution:       k.opt.Resolution,
		MinDist:          k.opt.MinDist,
		MaxDist:          k.opt.MaxDist,
		Diagonal:         k.opt.Diagonal,
		PearsonThreshold: k.opt.PearsonThreshold,
		MaxMissingFrac:   k.opt.MaxMissingFrac,
		Matrix:           make([][]float64, k.size),
	}
	vals := k.Values()
	for i := range f.Matrix {
		f.Matrix[i] = vals[i*k.size : (i+1)*k.size]
	}
	return toml.Marshal(f)
}
