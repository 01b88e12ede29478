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

import "fmt"

// PatternCall is a called pattern.
type PatternCall struct {
	Chrom      string
	Row, Col   int // bins at Resolution, Row <= Col
	Resolution int // bin size of the matrix it is called from, bp

	// genomic coordinates of the two anchors, bp
	Start1, End1 int
	Start2, End2 int

	// score-weighted center of the focus, bins
	CenterRow, CenterCol float64

	Kernel   string
	KernelID int

	Score  float64
	PValue float64
	QValue float64
	Size   int // pixels of the focus

	Refined bool
}

// NewCall creates a call from the representative pixel of a focus.
func NewCall(chrom string, f *Focus, kernel string, kernelID, binSize int) *PatternCall {
	rep := f.Rep()
	c := &PatternCall{
		Chrom:      chrom,
		Row:        rep.Row,
		Col:        rep.Col,
		Resolution: binSize,
		Kernel:     kernel,
		KernelID:   kernelID,
		Score:      rep.Score,
		PValue:     rep.PValue,
		QValue:     rep.QValue,
		Size:       f.Size(),
	}
	c.CenterRow, c.CenterCol = f.Centroid()
	c.locate()
	return c
}

func (c *PatternCall) locate() {
	c.Start1 = c.Row * c.Resolution
	c.End1 = c.Start1 + c.Resolution
	c.Start2 = c.Col * c.Resolution
	c.End2 = c.Start2 + c.Resolution
}

func (c *PatternCall) String() string {
	return fmt.Sprintf("%s:%d-%d x %d-%d %s %.4f", c.Chrom, c.Start1, c.End1, c.Start2, c.End2, c.Kernel, c.Score)
}
