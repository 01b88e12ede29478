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

package detect

import (
	"github.com/twotwotwo/sorts"
)

// Candidate is a significant pixel, Row <= Col.
type Candidate struct {
	Row, Col int
	Score    float64
	PValue   float64
	QValue   float64
}

type candidates []Candidate

func (s candidates) Len() int { return len(s) }
func (s candidates) Less(i, j int) bool {
	if s[i].Row != s[j].Row {
		return s[i].Row < s[j].Row
	}
	if s[i].Col != s[j].Col {
		return s[i].Col < s[j].Col
	}
	return s[i].Score > s[j].Score
}
func (s candidates) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// Focus is a group of 8-connected candidates.
type Focus struct {
	Pixels []Candidate // sorted by (row, col)
	Best   int         // index of the representative pixel
}

// Size returns the number of pixels.
func (f *Focus) Size() int { return len(f.Pixels) }

// Rep returns the pixel with the highest score, the first one in
// (row, col) order for ties.
func (f *Focus) Rep() Candidate { return f.Pixels[f.Best] }

// Centroid returns the score-weighted center. Non-positive scores
// fall back to the unweighted center.
func (f *Focus) Centroid() (float64, float64) {
	var sw, sr, sc float64
	for _, p := range f.Pixels {
		if p.Score <= 0 {
			continue
		}
		sw += p.Score
		sr += p.Score * float64(p.Row)
		sc += p.Score * float64(p.Col)
	}
	if sw == 0 {
		for _, p := range f.Pixels {
			sr += float64(p.Row)
			sc += float64(p.Col)
		}
		sw = float64(len(f.Pixels))
	}
	return sr / sw, sc / sw
}

// dsu is a disjoint-set forest with path halving and union by rank.
type dsu struct {
	parent []int
	rank   []uint8
}

func newDSU(n int) *dsu {
	d := &dsu{parent: make([]int, n), rank: make([]uint8, n)}
	for i := range d.parent {
		d.parent[i] = i
	}
	return d
}

func (d *dsu) find(u int) int {
	for d.parent[u] != u {
		d.parent[u] = d.parent[d.parent[u]]
		u = d.parent[u]
	}
	return u
}

func (d *dsu) union(u, v int) {
	ru, rv := d.find(u), d.find(v)
	if ru == rv {
		return
	}
	if d.rank[ru] < d.rank[rv] {
		d.parent[ru] = rv
	} else {
		d.parent[rv] = ru
		if d.rank[ru] == d.rank[rv] {
			d.rank[ru]++
		}
	}
}

// Cluster groups 8-connected candidates. The input is not modified.
// Foci are returned in the order of their first pixel.
func Cluster(cands []Candidate) []*Focus {
	n := len(cands)
	if n == 0 {
		return nil
	}
	cs := make(candidates, n)
	copy(cs, cands)
	sorts.Quicksort(cs)

	// duplicated pixels are kept once, with the highest score
	j := 0
	for i := 1; i < n; i++ {
		if cs[i].Row == cs[j].Row && cs[i].Col == cs[j].Col {
			continue
		}
		j++
		cs[j] = cs[i]
	}
	cs = cs[:j+1]
	n = len(cs)

	d := newDSU(n)
	// rows are sorted, neighbors in the previous row are found with a
	// pointer to the start of that row.
	var prevStart, prevEnd, curStart int // [prevStart, prevEnd) is row r-1
	for i := 0; i < n; i++ {
		if i > 0 && cs[i].Row != cs[i-1].Row {
			if cs[i].Row == cs[i-1].Row+1 {
				prevStart, prevEnd = curStart, i
			} else {
				prevStart, prevEnd = i, i
			}
			curStart = i
		}
		// left neighbor in the same row
		if i > curStart && cs[i-1].Col == cs[i].Col-1 {
			d.union(i, i-1)
		}
		for k := prevStart; k < prevEnd; k++ {
			if dc := cs[k].Col - cs[i].Col; dc >= -1 && dc <= 1 {
				d.union(i, k)
			} else if dc > 1 {
				break
			}
		}
		// skip passed pixels of the previous row
		for prevStart < prevEnd && cs[prevStart].Col < cs[i].Col-1 {
			prevStart++
		}
	}

	index := make(map[int]int, n)
	var foci []*Focus
	for i := 0; i < n; i++ {
		r := d.find(i)
		k, ok := index[r]
		if !ok {
			k = len(foci)
			index[r] = k
			foci = append(foci, &Focus{})
		}
		f := foci[k]
		f.Pixels = append(f.Pixels, cs[i])
		if cs[i].Score > f.Pixels[f.Best].Score {
			f.Best = len(f.Pixels) - 1
		}
	}
	return foci
}

// FilterFoci removes foci smaller than minSize, and returns the number
// of removed ones.
func FilterFoci(foci []*Focus, minSize int) ([]*Focus, int) {
	j := 0
	for _, f := range foci {
		if f.Size() >= minSize {
			foci[j] = f
			j++
		}
	}
	return foci[:j], len(foci) - j
}
