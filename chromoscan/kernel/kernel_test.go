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
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	cases := []struct {
		name string
		rows [][]float64
		err  error
	}{
		{"empty", nil, ErrEmptyKernel},
		{"ragged", [][]float64{{1, 2, 3}, {1, 2}, {1, 2, 3}}, ErrNotSquare},
		{"even", [][]float64{{1, 2}, {3, 4}}, ErrEvenSize},
		{"constant", [][]float64{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}}, ErrConstant},
		{"ok", [][]float64{{0, 0, 0}, {0, 1, 0}, {0, 0, 0}}, nil},
	}
	for _, c := range cases {
		k, err := New(c.name, c.rows, nil)
		if c.err == nil {
			if err != nil {
				t.Errorf("%s: unexpected error: %s", c.name, err)
				continue
			}
			if k.Size() != 3 || k.Radius() != 1 || k.At(1, 1) != 1 || k.ID() != -1 {
				t.Errorf("%s: unexpected kernel: %s", c.name, k)
			}
			continue
		}
		var ke *InvalidKernelError
		if !errors.As(err, &ke) {
			t.Errorf("%s: expected InvalidKernelError, got %v", c.name, err)
			continue
		}
		if !errors.Is(err, c.err) {
			t.Errorf("%s: expected %s, got %s", c.name, c.err, err)
		}
	}
}

func point(size int) [][]float64 {
	rows := make([][]float64, size)
	for i := range rows {
		rows[i] = make([]float64, size)
	}
	rows[size>>1][size>>1] = 1
	return rows
}

func TestLibrary(t *testing.T) {
	lib := NewLibrary()
	a, _ := New("a", point(3), nil)
	b, _ := New("b", point(5), &Options{Resolution: 5000})
	c, _ := New("c", point(3), nil) // same values as a

	for i, k := range []*Kernel{a, b} {
		k2, err := lib.Add(k)
		if err != nil {
			t.Fatal(err)
		}
		if k2.ID() != i {
			t.Errorf("unexpected ID: %d != %d", k2.ID(), i)
		}
	}
	if _, err := lib.Add(c); !errors.Is(err, ErrDuplicated) {
		t.Errorf("duplicated kernel should be rejected, got %v", err)
	}
	if lib.Len() != 2 {
		t.Errorf("unexpected library size: %d", lib.Len())
	}
	if k, ok := lib.Get(1); !ok || k.Name() != "b" {
		t.Errorf("Get(1) failed")
	}
	if _, ok := lib.Get(2); ok {
		t.Errorf("Get(2) should fail")
	}

	// native resolution
	ks, errs := lib.ForMatrix(5000, 100)
	if len(ks) != 2 || len(errs) != 0 {
		t.Errorf("unexpected kernels: %d, errors: %v", len(ks), errs)
	}

	// b is resized to 5*5000/1000 = 25 -> clamped to 21, larger than 10 bins
	ks, errs = lib.ForMatrix(1000, 10)
	if len(ks) != 1 || ks[0].Name() != "a" {
		t.Errorf("unexpected kernels: %v", ks)
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrTooLarge) {
		t.Errorf("unexpected errors: %v", errs)
	}

	ks, _ = lib.ForMatrix(1000, 100)
	if len(ks) != 2 || ks[1].Size() != MaxResizedSize || ks[1].ID() != 1 {
		t.Errorf("unexpected resized kernel: %v", ks)
	}
}

func TestResize(t *testing.T) {
	k, _ := New("p", point(5), nil)

	cases := []struct {
		factor float64
		size   int
	}{
		{1, 5},
		{2, 9},    // 10 -> 9
		{0.5, 3},  // 2 -> 1 -> 3
		{10, 21},  // clamped
		{1.6, 7},  // 8 -> 7
		{0.01, 3}, // clamped
	}
	for _, c := range cases {
		k2, err := Resize(k, c.factor, 3, 21)
		if err != nil {
			t.Errorf("factor %f: %s", c.factor, err)
			continue
		}
		if k2.Size() != c.size {
			t.Errorf("factor %f: size %d != %d", c.factor, k2.Size(), c.size)
			continue
		}
		// the peak stays at the center
		r := k2.Radius()
		peak := k2.At(r, r)
		for i := 0; i < k2.Size(); i++ {
			for j := 0; j < k2.Size(); j++ {
				if (i != r || j != r) && k2.At(i, j) > peak {
					t.Errorf("factor %f: (%d, %d) %f > center %f", c.factor, i, j, k2.At(i, j), peak)
				}
			}
		}
		if !k2.IsSymmetric() {
			t.Errorf("factor %f: resized kernel should be symmetric", c.factor)
		}
	}
}

func TestDecode(t *testing.T) {
	data := []byte(`
name = "spot"
resolution = 10000
min_dist = 20000
matrix = [[0.0, 0.0, 0.0], [0.0, 1.0, 0.0], [0.0, 0.0, 0.0]]

[[kernel]]
name = "corner"
diagonal = true
matrix = [[1.0, 0.5, 0.0], [0.5, 0.5, 0.5], [0.0, 0.5, 1.0]]

[[kernel]]
matrix = [[1.0, 0.0, 0.0], [0.0, 1.0, 0.0], [0.0, 0.0, 1.0]]
`)
	ks, err := Decode(data, "noname")
	if err != nil {
		t.Fatal(err)
	}
	if len(ks) != 3 {
		t.Fatalf("unexpected number of kernels: %d", len(ks))
	}
	if ks[0].Name() != "spot" || ks[0].Options().Resolution != 10000 || ks[0].Options().MinDist != 20000 {
		t.Errorf("unexpected first kernel: %s %+v", ks[0], ks[0].Options())
	}
	if !ks[1].Options().Diagonal {
		t.Errorf("second kernel should be diagonal")
	}
	if ks[2].Name() != "noname" {
		t.Errorf("unexpected default name: %s", ks[2].Name())
	}

	if _, err = Decode([]byte(`matrix = [[1.0, 2.0], [3.0, 4.0]]`), "x"); !errors.Is(err, ErrEvenSize) {
		t.Errorf("even kernel should be rejected, got %v", err)
	}
	if _, err = Decode([]byte(`name = "x"`), "x"); !errors.Is(err, ErrEmptyKernel) {
		t.Errorf("empty file should be rejected, got %v", err)
	}

	// round trip of one kernel
	b, err := Encode(ks[1])
	if err != nil {
		t.Fatal(err)
	}
	ks2, err := Decode(b, "")
	if err != nil {
		t.Fatal(err)
	}
	if ks2[0].Fingerprint() != ks[1].Fingerprint() || ks2[0].Name() != "corner" {
		t.Errorf("encoded kernel differs")
	}
}

func TestPreset(t *testing.T) {
	for _, name := range PresetNames() {
		k, err := Preset(name)
		if err != nil {
			t.Errorf("%s: %s", name, err)
			continue
		}
		if k.Size()&1 == 0 || !k.IsSymmetric() {
			t.Errorf("%s: unexpected kernel", name)
		}
	}
	if _, err := Preset("stripes"); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("unknown preset should fail")
	}
}
