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

package expected

import (
	"math"
	"testing"

	"github.com/shenwei356/chromoscan/chromoscan/matrix"
)

// upper triangle of ones(3,3) + [1,2,3]
func lawMatrix(t *testing.T) *matrix.ContactMatrix {
	m, err := matrix.New("chr1", 1000, 3, []matrix.Contact{
		{Row: 0, Col: 0, Value: 2}, {Row: 0, Col: 1, Value: 3}, {Row: 0, Col: 2, Value: 4},
		{Row: 1, Col: 1, Value: 3}, {Row: 1, Col: 2, Value: 4},
		{Row: 2, Col: 2, Value: 4},
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-12 {
			return false
		}
	}
	return true
}

func TestDistanceLaw(t *testing.T) {
	m := lawMatrix(t)

	p := Compute(m, &Options{Aggregate: Mean})
	if !equalFloats(p, []float64{3, 3.5, 4}) {
		t.Errorf("unexpected distance law: %v", p)
	}

	p = Compute(m, &Options{Aggregate: Mean, Smooth: true})
	if !equalFloats(p, []float64{3.5, 3.5, 3.5}) {
		t.Errorf("smoothed distance law should not go up: %v", p)
	}

	p = Compute(m, &Options{Aggregate: Median})
	if !equalFloats(p, []float64{3, 3.5, 4}) {
		t.Errorf("unexpected median distance law: %v", p)
	}

	p = Compute(m, &Options{MaxDist: 1})
	if len(p) != 2 {
		t.Errorf("profile should stop at the maximum distance: %v", p)
	}
}

func TestDistanceLawMissing(t *testing.T) {
	// absent entries count as zeros, invalid bins are ignored
	m, _ := matrix.New("chr1", 1000, 4, []matrix.Contact{
		{Row: 0, Col: 0, Value: 4}, {Row: 1, Col: 1, Value: 4}, {Row: 2, Col: 2, Value: 100},
		{Row: 0, Col: 1, Value: 2},
	})
	p := Compute(m, nil)
	if !equalFloats(p[:2], []float64{27, 2.0 / 3}) {
		t.Errorf("unexpected distance law: %v", p)
	}

	m, _ = m.WithValidity([]bool{true, true, false, true})
	p = Compute(m, nil)
	if !equalFloats(p[:2], []float64{8.0 / 3, 2}) {
		t.Errorf("unexpected distance law with invalid bins: %v", p)
	}

	p = Compute(m, &Options{Aggregate: Median})
	if !equalFloats(p[:2], []float64{4, 2}) {
		t.Errorf("unexpected median distance law with invalid bins: %v", p)
	}
}

func TestIsotonicDecreasing(t *testing.T) {
	tests := []struct {
		y, fit []float64
	}{
		{[]float64{}, []float64{}},
		{[]float64{5, 4, 3}, []float64{5, 4, 3}},
		{[]float64{1, 3}, []float64{2, 2}},
		{[]float64{5, 1, 3, 2}, []float64{5, 2, 2, 2}},
	}
	for _, test := range tests {
		IsotonicDecreasing(test.y)
		if !equalFloats(test.y, test.fit) {
			t.Errorf("expected %v, got %v", test.fit, test.y)
		}
	}
}

func TestNormalizer(t *testing.T) {
	m, _ := matrix.New("chr1", 1000, 4, []matrix.Contact{
		{Row: 0, Col: 0, Value: 4}, {Row: 1, Col: 1, Value: 4}, {Row: 2, Col: 2, Value: 4}, {Row: 3, Col: 3, Value: 4},
		{Row: 0, Col: 1, Value: 2}, {Row: 1, Col: 2, Value: 2}, {Row: 2, Col: 3, Value: 2},
	})

	z := NewNormalizer(m, &Options{MinExpected: 1e-6})
	if v := z.Normalize(1, 1, 8); v != 2 {
		t.Errorf("expected 2, got %v", v)
	}
	if v := z.Normalize(2, 1, 1); v != 0.5 {
		t.Errorf("expected 0.5, got %v", v)
	}
	// no contacts at distance 2 and 3
	if v := z.Normalize(0, 2, 5); v != 0 {
		t.Errorf("expected the sentinel 0, got %v", v)
	}
	if z.Degenerate() != 2 {
		t.Errorf("expected 2 degenerate distances, got %d", z.Degenerate())
	}
	if v := z.Normalize(0, 100, 5); v != 0 {
		t.Errorf("expected the sentinel 0 beyond the profile, got %v", v)
	}

	z = NewNormalizer(m, &Options{Mode: LogRatio, MinExpected: 1e-6})
	if v := z.Normalize(0, 1, 8); v != 2 {
		t.Errorf("expected 2, got %v", v)
	}
	if v := z.Normalize(0, 1, 0); v != 0 {
		t.Errorf("expected the sentinel 0, got %v", v)
	}

	p := z.Profile()
	p[0] = -1
	if z.Expected(0) != 4 {
		t.Errorf("profile should not be modified by callers")
	}
}

func TestParse(t *testing.T) {
	if a, err := ParseAggregate("median"); err != nil || a != Median {
		t.Errorf("failed to parse median")
	}
	if _, err := ParseAggregate("max"); err == nil {
		t.Errorf("expected an error")
	}
	if m, err := ParseMode("log-ratio"); err != nil || m != LogRatio {
		t.Errorf("failed to parse log-ratio")
	}
	if _, err := ParseMode("zscore"); err == nil {
		t.Errorf("expected an error")
	}
}
