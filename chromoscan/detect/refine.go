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

// Scorer scores arbitrary positions, ok is false for positions
// that can not be scored.
type Scorer interface {
	ScoreAt(row, col int) (score float64, ok bool)
}

// RefineOptions contains the options of hill climbing.
type RefineOptions struct {
	Radius  int // bins searched around the current position
	MaxIter int // maximum steps
}

// DefaultRefineOptions is the default value of RefineOptions.
var DefaultRefineOptions = RefineOptions{
	Radius:  2,
	MaxIter: 5,
}

// Refine moves a call to the best scoring position around it, step by step,
// until no position within the radius is strictly better.
// The call is kept where it is if nothing improves. It returns the number
// of steps.
func Refine(c *PatternCall, s Scorer, opt *RefineOptions) int {
	if opt == nil {
		opt = &DefaultRefineOptions
	}
	row, col, best := c.Row, c.Col, c.Score
	if v, ok := s.ScoreAt(row, col); ok {
		best = v
	}

	var steps int
	var v float64
	var ok bool
	for steps < opt.MaxIter {
		br, bc, bv := row, col, best
		for r := row - opt.Radius; r <= row+opt.Radius; r++ {
			for cc := col - opt.Radius; cc <= col+opt.Radius; cc++ {
				if r > cc || (r == row && cc == col) {
					continue
				}
				if v, ok = s.ScoreAt(r, cc); !ok {
					continue
				}
				// scanning order is (row, col), so ties keep the smaller one
				if v > bv {
					br, bc, bv = r, cc, v
				}
			}
		}
		if br == row && bc == col {
			break
		}
		row, col, best = br, bc, bv
		steps++
	}

	if steps > 0 {
		c.Row, c.Col, c.Score = row, col, best
		c.Refined = true
		c.locate()
	}
	return steps
}
