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
	"fmt"
	"io"
	"strconv"

	"github.com/shenwei356/chromoscan/chromoscan/detect"
	"github.com/twotwotwo/sorts"
)

type callList []*detect.PatternCall

func (s callList) Len() int      { return len(s) }
func (s callList) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s callList) Less(i, j int) bool {
	a, b := s[i], s[j]
	if a.Chrom != b.Chrom {
		return a.Chrom < b.Chrom
	}
	if a.Start1 != b.Start1 {
		return a.Start1 < b.Start1
	}
	if a.Start2 != b.Start2 {
		return a.Start2 < b.Start2
	}
	if a.Kernel != b.Kernel {
		return a.Kernel < b.Kernel
	}
	if a.Resolution != b.Resolution {
		return a.Resolution < b.Resolution
	}
	return a.KernelID < b.KernelID
}

// SortCalls sorts calls by chromosome, start1, start2, kernel name,
// resolution and kernel ID.
func SortCalls(calls []*detect.PatternCall) {
	sorts.Quicksort(callList(calls))
}

// CallsHeader is the header line of the call table.
const CallsHeader = "chrom1\tstart1\tend1\tchrom2\tstart2\tend2\tscore\tkernel\tpvalue\tqvalue\tsize\tresolution\n"

// WriteCalls writes calls in a BEDPE-like tab-delimited format with a header line.
func WriteCalls(w io.Writer, calls []*detect.PatternCall) error {
	if _, err := io.WriteString(w, CallsHeader); err != nil {
		return err
	}
	for _, c := range calls {
		_, err := fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%d\t%d\t%s\t%s\t%s\t%s\t%d\t%d\n",
			c.Chrom, c.Start1, c.End1, c.Chrom, c.Start2, c.End2,
			strconv.FormatFloat(c.Score, 'f', 6, 64), c.Kernel,
			strconv.FormatFloat(c.PValue, 'e', 4, 64),
			strconv.FormatFloat(c.QValue, 'e', 4, 64),
			c.Size, c.Resolution)
		if err != nil {
			return err
		}
	}
	return nil
}

// PileupsHeader is the header line of the pileup table.
const PileupsHeader = "kernel\tresolution\twindows\trow\tcol\tvalue\n"

// WritePileups writes pileups in a long tab-delimited format, one cell
// per line. Rows and columns are offsets to the center of the window,
// cells missing in all windows are written as NaN.
func WritePileups(w io.Writer, pileups []*detect.Pileup) error {
	if _, err := io.WriteString(w, PileupsHeader); err != nil {
		return err
	}
	for _, p := range pileups {
		r := p.Size >> 1
		for i := 0; i < p.Size; i++ {
			for j := 0; j < p.Size; j++ {
				_, err := fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n",
					p.Kernel, p.Resolution, p.Windows, i-r, j-r,
					strconv.FormatFloat(p.At(i, j), 'g', 6, 64))
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}
