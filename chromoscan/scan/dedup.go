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

package scan

import (
	"github.com/rdleal/intervalst/interval"
	"github.com/shenwei356/chromoscan/chromoscan/detect"
)

type dedupKey struct {
	region int
	kernel string
}

// dedupScales merges calls of all units. Scales are processed from the
// finest to the coarsest, a call overlapping a kept call of a finer scale
// with the same pattern name is dropped. Overlapping is checked on both
// anchors, extended by radius bins of the region.
func dedupScales(units []*unit, regions []Region, radius int) ([]*detect.PatternCall, int) {
	// group by region and pattern name, keeping scales in order
	groups := make(map[dedupKey][][]*detect.PatternCall, 8)
	var keys []dedupKey
	scaleIdx := make(map[dedupKey]map[int]int, 8)
	for _, u := range units {
		if len(u.calls) == 0 {
			continue
		}
		key := dedupKey{region: u.l.region, kernel: u.k.Name()}
		idx, ok := scaleIdx[key]
		if !ok {
			idx = make(map[int]int, 4)
			scaleIdx[key] = idx
			keys = append(keys, key)
		}
		i, ok := idx[u.l.scale]
		if !ok {
			i = len(groups[key])
			idx[u.l.scale] = i
			groups[key] = append(groups[key], nil)
		}
		groups[key][i] = append(groups[key][i], u.calls...)
	}

	var calls []*detect.PatternCall
	var dropped int
	cmpFn := func(x, y int) int { return x - y }
	for _, key := range keys {
		scales := groups[key]
		if len(scales) == 1 {
			calls = append(calls, scales[0]...)
			continue
		}

		pad := radius * regions[key.region].Matrix.BinSize()
		tree := interval.NewSearchTree[[2]int, int](cmpFn)
		spans := make(map[[2]int][]*detect.PatternCall, 64)

		// units are in the order of scales
		for _, group := range scales {
			var kept []*detect.PatternCall
			for _, c := range group {
				if overlapsKept(tree, spans, c) {
					dropped++
					continue
				}
				kept = append(kept, c)
			}
			for _, c := range kept {
				span := [2]int{c.Start1 - pad, c.End1 - 1 + pad}
				ext := *c
				ext.Start2 -= pad
				ext.End2 += pad
				if _, ok := spans[span]; !ok {
					tree.Insert(span[0], span[1], span)
				}
				spans[span] = append(spans[span], &ext)
			}
			calls = append(calls, kept...)
		}
	}
	return calls, dropped
}

// overlapsKept tells if a call overlaps a kept one on both anchors.
func overlapsKept(tree *interval.SearchTree[[2]int, int], spans map[[2]int][]*detect.PatternCall, c *detect.PatternCall) bool {
	hits, ok := tree.AllIntersections(c.Start1, c.End1-1)
	if !ok {
		return false
	}
	for _, span := range hits {
		for _, k := range spans[span] {
			if c.Start2 <= k.End2-1 && c.End2-1 >= k.Start2 {
				return true
			}
		}
	}
	return false
}
