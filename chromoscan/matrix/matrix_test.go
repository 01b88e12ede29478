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
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
)

func denseContacts(n int, f func(i, j int) float64) []Contact {
	contacts := make([]Contact, 0, n*(n+1)/2)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := f(i, j)
			if v == 0 {
				continue
			}
			contacts = append(contacts, Contact{Row: i, Col: j, Value: v})
		}
	}
	return contacts
}

func TestNewAndValue(t *testing.T) {
	contacts := []Contact{
		{Row: 0, Col: 1, Value: 2},
		{Row: 3, Col: 1, Value: 5}, // lower triangle
		{Row: 1, Col: 3, Value: 5}, // same pair, same value
		{Row: 2, Col: 2, Value: 0}, // stored zero
	}
	m, err := New("chr1", 1000, 4, contacts)
	if err != nil {
		t.Fatal(err)
	}
	if m.NNZ() != 3 {
		t.Errorf("expected 3 stored entries, got %d", m.NNZ())
	}

	for _, p := range [][2]int{{0, 1}, {1, 3}} {
		a, ok1 := m.Value(p[0], p[1])
		b, ok2 := m.Value(p[1], p[0])
		if !ok1 || !ok2 || a != b {
			t.Errorf("asymmetric lookup at %v: %v %v", p, a, b)
		}
	}

	if v, ok := m.Value(2, 2); !ok || v != 0 {
		t.Errorf("stored zero should be present")
	}
	if _, ok := m.Value(0, 3); ok {
		t.Errorf("absent entry should be missing")
	}
	if _, ok := m.Value(0, 4); ok {
		t.Errorf("out of range entry should be missing")
	}
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		n        int
		binSize  int
		contacts []Contact
		err      error
	}{
		{0, 1000, nil, ErrEmptyMatrix},
		{3, 0, nil, ErrInvalidBinSize},
		{3, 1000, []Contact{{0, 1, 1}, {1, 0, 2}}, ErrAsymmetric},
		{3, 1000, []Contact{{0, 1, -1}}, ErrInvalidValue},
		{3, 1000, []Contact{{0, 1, math.NaN()}}, ErrInvalidValue},
		{3, 1000, []Contact{{0, 3, 1}}, ErrBinOutOfRange},
	}
	for i, test := range tests {
		_, err := New("chrX", test.binSize, test.n, test.contacts)
		if err == nil {
			t.Errorf("#%d: expected an error", i)
			continue
		}
		var ie *InputError
		if !errors.As(err, &ie) {
			t.Errorf("#%d: expected an InputError, got %T", i, err)
		}
		if !errors.Is(err, test.err) {
			t.Errorf("#%d: expected %v, got %v", i, test.err, err)
		}
	}
}

func TestNeighborhoodStoredZero(t *testing.T) {
	n := 5
	var contacts []Contact
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 1.0
			if i == 1 && j == 2 {
				v = 0
			}
			contacts = append(contacts, Contact{Row: i, Col: j, Value: v})
		}
	}
	m, err := New("chr1", 1000, n, contacts)
	if err != nil {
		t.Fatal(err)
	}
	w, err := m.Neighborhood(1, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := w.At(1, 1); !ok || v != 0 {
		t.Errorf("a stored zero should be observed: %v %v", v, ok)
	}
	if w.NumMissing != 0 || w.MissingFraction() != 0 {
		t.Errorf("no missing cells expected: %d", w.NumMissing)
	}
}

func TestNeighborhood(t *testing.T) {
	n := 10
	m, err := New("chr1", 1000, n, denseContacts(n, func(i, j int) float64 {
		if j-i == 3 {
			return 0 // absent
		}
		return float64(i + j)
	}))
	if err != nil {
		t.Fatal(err)
	}

	w, err := m.Neighborhood(4, 5, 1)
	if err != nil {
		t.Fatal(err)
	}
	if w.Size != 3 {
		t.Fatalf("expected size 3, got %d", w.Size)
	}
	// row 3..5, col 4..6
	if v, ok := w.At(0, 0); !ok || v != 7 {
		t.Errorf("unexpected value at (3,4): %v %v", v, ok)
	}
	if v, ok := w.At(2, 0); !ok || v != 9 { // (5,4) mirrored from (4,5)
		t.Errorf("unexpected value at (5,4): %v %v", v, ok)
	}
	if _, ok := w.At(0, 2); ok { // (3,6), distance 3
		t.Errorf("(3,6) should be missing")
	}
	if w.NumMissing != 1 {
		t.Errorf("expected 1 missing cell, got %d", w.NumMissing)
	}

	// windows crossing the edges
	for _, p := range [][3]int{{0, 5, 1}, {5, 9, 1}, {4, 4, 5}, {2, 3, -1}} {
		_, err = m.Neighborhood(p[0], p[1], p[2])
		var oe *OutOfRangeError
		if !errors.As(err, &oe) {
			t.Errorf("expected OutOfRangeError for %v, got %v", p, err)
		}
	}

	// invalid bins
	mask := m.ValidBins()
	mask[4] = false
	m2, err := m.WithValidity(mask)
	if err != nil {
		t.Fatal(err)
	}
	w, _ = m2.Neighborhood(4, 5, 1)
	if w.NumMissing != 6 { // row 4 (3 cells), column 4 (2 more cells) and (3,6)
		t.Errorf("expected 6 missing cells, got %d", w.NumMissing)
	}
	if m.IsValid(4, 5) == m2.IsValid(4, 5) {
		t.Errorf("validity masks should not be shared")
	}
}

func TestDiagonalBand(t *testing.T) {
	n := 20
	m, _ := New("chr1", 1000, n, denseContacts(n, func(i, j int) float64 { return 1 }))

	it := m.DiagonalBand(2, 4)
	count := func() int {
		var c int
		for {
			ct, ok := it.Next()
			if !ok {
				break
			}
			d := ct.Col - ct.Row
			if d < 2 || d > 4 {
				t.Errorf("contact out of band: %v", ct)
			}
			c++
		}
		return c
	}
	expected := (n - 2) + (n - 3) + (n - 4)
	if c := count(); c != expected {
		t.Errorf("expected %d contacts, got %d", expected, c)
	}
	if _, ok := it.Next(); ok {
		t.Errorf("iterator should be exhausted")
	}
	it.Reset()
	if c := count(); c != expected {
		t.Errorf("expected %d contacts after reset, got %d", expected, c)
	}

	if _, ok := m.DiagonalBand(5, 3).Next(); ok {
		t.Errorf("empty band should yield nothing")
	}
}

func TestDetectableBins(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	n := 200
	m, _ := New("chr1", 1000, n, denseContacts(n, func(i, j int) float64 {
		if i == 10 || j == 10 {
			return 0
		}
		if r.Float64() < 0.3 {
			return r.Float64()
		}
		return 0
	}))

	mask := m.DetectableBins(1, nil)
	if mask[10] {
		t.Errorf("bin 10 should be undetectable")
	}
	var good int
	for _, ok := range mask {
		if ok {
			good++
		}
	}
	if good < n/2 {
		t.Errorf("too few detectable bins: %d", good)
	}
}

func TestCoarsen(t *testing.T) {
	n := 5
	m, _ := New("chr1", 100, n, denseContacts(n, func(i, j int) float64 { return 1 }))
	mask := []bool{true, true, false, false, true}
	m, _ = m.WithValidity(mask)

	mc, err := m.Coarsen(2)
	if err != nil {
		t.Fatal(err)
	}
	if mc.Dim() != 3 || mc.BinSize() != 200 {
		t.Fatalf("unexpected coarse matrix: %d bins of %d bp", mc.Dim(), mc.BinSize())
	}
	// coarse (0,0) covers fine (0,0),(0,1),(1,0),(1,1)
	if v, _ := mc.Value(0, 0); v != 4 {
		t.Errorf("expected 4, got %v", v)
	}
	if v, _ := mc.Value(0, 1); v != 4 {
		t.Errorf("expected 4, got %v", v)
	}
	if v, _ := mc.Value(1, 2); v != 2 { // fine (2,4),(3,4)
		t.Errorf("expected 2, got %v", v)
	}
	if !mc.BinValid(0) || mc.BinValid(1) || !mc.BinValid(2) {
		t.Errorf("unexpected coarse validity: %v", mc.ValidBins())
	}

	if _, err = m.Coarsen(0); !errors.Is(err, ErrInvalidFactor) {
		t.Errorf("expected ErrInvalidFactor, got %v", err)
	}
}
