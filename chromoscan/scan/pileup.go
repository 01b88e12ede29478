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
	"github.com/shenwei356/chromoscan/chromoscan/detect"
	"github.com/shenwei356/chromoscan/chromoscan/numeric"
	"github.com/twotwotwo/sorts"
)

type pileupKey struct {
	kernelID   int
	resolution int
}

// pileups piles up normalized windows around the final calls, one pileup
// per kernel and resolution. Windows have the size of the kernel used at
// that resolution and are collected in the order of units.
func pileups(units []*unit, calls []*detect.PatternCall, nb numeric.Backend) []*detect.Pileup {
	kept := make(map[*detect.PatternCall]struct{}, len(calls))
	for _, c := range calls {
		kept[c] = struct{}{}
	}

	type group struct {
		name    string
		size    int
		windows [][]float64
	}
	groups := make(map[pileupKey]*group, 8)
	var keys []pileupKey
	for _, u := range units {
		key := pileupKey{kernelID: u.k.ID(), resolution: u.l.m.BinSize()}
		for _, c := range u.calls {
			if _, ok := kept[c]; !ok {
				continue
			}
			// calls are only scored where kernel windows fit
			w, err := detect.PatternWindow(u.l.m, u.l.z, c.Row, c.Col, u.k.Radius())
			if err != nil {
				continue
			}
			g, ok := groups[key]
			if !ok {
				g = &group{name: u.k.Name(), size: u.k.Size()}
				groups[key] = g
				keys = append(keys, key)
			}
			g.windows = append(g.windows, w)
		}
	}

	ps := make([]*detect.Pileup, 0, len(keys))
	for _, key := range keys {
		g := groups[key]
		p := detect.NewPileup(g.name, key.resolution, g.size, g.windows, nb)
		p.KernelID = key.kernelID
		ps = append(ps, p)
	}
	sorts.Quicksort(pileupList(ps))
	return ps
}

type pileupList []*detect.Pileup

func (s pileupList) Len() int      { return len(s) }
func (s pileupList) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s pileupList) Less(i, j int) bool {
	a, b := s[i], s[j]
	if a.Kernel != b.Kernel {
		return a.Kernel < b.Kernel
	}
	if a.Resolution != b.Resolution {
		return a.Resolution < b.Resolution
	}
	return a.KernelID < b.KernelID
}
