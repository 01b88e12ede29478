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

// Package scan runs pattern detection over chromosomes, scales and kernels.
package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shenwei356/chromoscan/chromoscan/conv"
	"github.com/shenwei356/chromoscan/chromoscan/detect"
	"github.com/shenwei356/chromoscan/chromoscan/expected"
	"github.com/shenwei356/chromoscan/chromoscan/kernel"
	"github.com/shenwei356/chromoscan/chromoscan/matrix"
	"github.com/shenwei356/chromoscan/chromoscan/numeric"
)

// ErrNoUnits means no unit of work finished successfully.
var ErrNoUnits = errors.New("scan: no unit finished successfully")

// Region is a chromosome, or a part of it, to scan.
type Region struct {
	Chrom  string // the matrix name is used if empty
	Matrix *matrix.ContactMatrix
}

// RunOptions contains optional hooks of Run.
type RunOptions struct {
	Backend numeric.Backend

	// UnitsReady is called once with the number of units before scanning.
	UnitsReady func(total int)
	// UnitDone is called after each unit, possibly from different goroutines.
	UnitDone func(elapsed time.Duration)
}

// UnitError is the failure of a unit.
type UnitError struct {
	Chrom  string
	Kernel string
	Scale  int
	Err    error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("%s, kernel %s, scale %d: %s", e.Chrom, e.Kernel, e.Scale, e.Err)
}

// Unwrap returns the underlying error.
func (e *UnitError) Unwrap() error { return e.Err }

// Summary records what has been done and skipped.
type Summary struct {
	Regions      int
	RegionErrors []error // *matrix.InputError mostly
	KernelErrors []error // *UnitError wrapping *kernel.InvalidKernelError

	Units        int
	UnitsDone    int
	UnitsSkipped int // timed out
	UnitsFailed  int
	UnitErrors   []error

	PositionsTested   int
	PositionsSkipped  int // too many missing cells
	PositionsBoundary int // windows out of the matrix

	DegenerateWindows   int // flat windows scored 0
	DegenerateDistances int // distances with too small expected values

	Threshold         float64 // p-value threshold, -1 for none
	SignificantPixels int
	Foci              int
	FociDropped       int // smaller than min_cluster_size
	CallsRefined      int
	CallsMerged       int // refined to the same pixel
	CallsDeduplicated int // overlapping calls of finer scales
	Calls             int
}

// Result holds the calls, the pileups of calls and the summary.
type Result struct {
	Calls   []*detect.PatternCall
	Pileups []*detect.Pileup // sorted by kernel name, resolution and kernel ID
	Summary *Summary
}

// layer is a region at one scale.
type layer struct {
	region int
	chrom  string
	scale  int
	m      *matrix.ContactMatrix
	z      *expected.Normalizer
	ks     []*kernel.Kernel
	err    error
	kerrs  []error
}

// unit is a layer scanned with one kernel.
type unit struct {
	l *layer
	k *kernel.Kernel

	sm      *conv.ScoreMap
	e       *conv.Engine // kept for refinement, released after calling
	err     error
	timeout bool

	calls []*detect.PatternCall
}

// Run detects patterns in all regions, at all scales, with all kernels.
// Failures of single regions, kernels or units are recorded in the summary.
// ErrNoUnits is returned along with the result if nothing succeeds.
func Run(ctx context.Context, regions []Region, lib *kernel.Library, cfg *Config, opt *RunOptions) (*Result, error) {
	if opt == nil {
		opt = &RunOptions{}
	}
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}
	if err := CheckConfig(cfg); err != nil {
		return nil, err
	}
	nb := numeric.Or(opt.Backend)

	sum := &Summary{Regions: len(regions), Threshold: -1}
	res := &Result{Summary: sum}

	// -------------------------------------------------------------
	// layers: coarsening, masking and expected values

	layers := make([]*layer, 0, len(regions)*len(cfg.Scales))
	for i, r := range regions {
		chrom := r.Chrom
		if chrom == "" && r.Matrix != nil {
			chrom = r.Matrix.Chrom()
		}
		if r.Matrix == nil {
			sum.RegionErrors = append(sum.RegionErrors, &matrix.InputError{Chrom: chrom, Err: matrix.ErrEmptyMatrix})
			continue
		}
		for _, s := range cfg.Scales {
			layers = append(layers, &layer{region: i, chrom: chrom, scale: s, m: r.Matrix})
		}
	}

	var wg sync.WaitGroup
	tokens := make(chan int, cfg.Threads)
	for _, l := range layers {
		wg.Add(1)
		tokens <- 1
		go func(l *layer) {
			defer func() {
				wg.Done()
				<-tokens
			}()
			prepareLayer(l, lib, cfg, nb)
		}(l)
	}
	wg.Wait()

	var units []*unit
	for _, l := range layers {
		for _, err := range l.kerrs {
			sum.KernelErrors = append(sum.KernelErrors, &UnitError{Chrom: l.chrom, Kernel: kernelName(err), Scale: l.scale, Err: err})
		}
		if l.err != nil {
			sum.RegionErrors = append(sum.RegionErrors, l.err)
			continue
		}
		sum.DegenerateDistances += l.z.Degenerate()
		for _, k := range l.ks {
			units = append(units, &unit{l: l, k: k})
		}
	}
	sum.Units = len(units)
	if opt.UnitsReady != nil {
		opt.UnitsReady(len(units))
	}

	// -------------------------------------------------------------
	// scanning

	for _, u := range units {
		if err := ctx.Err(); err != nil {
			break
		}
		wg.Add(1)
		tokens <- 1
		go func(u *unit) {
			defer func() {
				wg.Done()
				<-tokens
			}()
			t := time.Now()
			scanUnit(ctx, u, cfg, nb)
			if opt.UnitDone != nil {
				opt.UnitDone(time.Since(t))
			}
		}(u)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// collected in the order of units
	maps := make([]*conv.ScoreMap, 0, len(units))
	done := make([]*unit, 0, len(units))
	for _, u := range units {
		switch {
		case u.timeout:
			sum.UnitsSkipped++
			sum.UnitErrors = append(sum.UnitErrors, &UnitError{Chrom: u.l.chrom, Kernel: u.k.Name(), Scale: u.l.scale, Err: u.err})
		case u.err != nil:
			sum.UnitsFailed++
			sum.UnitErrors = append(sum.UnitErrors, &UnitError{Chrom: u.l.chrom, Kernel: u.k.Name(), Scale: u.l.scale, Err: u.err})
		default:
			sum.UnitsDone++
			sum.PositionsTested += u.sm.Tested
			sum.PositionsSkipped += u.sm.Skipped
			sum.PositionsBoundary += u.sm.Boundary
			sum.DegenerateWindows += u.sm.Degenerate
			maps = append(maps, u.sm)
			done = append(done, u)
		}
	}
	if sum.UnitsDone == 0 {
		return res, ErrNoUnits
	}

	// -------------------------------------------------------------
	// significance over all maps

	dopt := cfg.detectOptions()
	dopt.Backend = nb
	sig := detect.Test(maps, dopt)
	sum.Threshold = sig.Threshold
	sum.SignificantPixels = sig.Significant

	// -------------------------------------------------------------
	// clustering and refinement

	var mu sync.Mutex
	for i, u := range done {
		wg.Add(1)
		tokens <- 1
		go func(i int, u *unit) {
			defer func() {
				wg.Done()
				<-tokens
			}()
			foci, dropped, refined, merged := callUnit(i, u, sig, cfg)
			mu.Lock()
			sum.Foci += foci
			sum.FociDropped += dropped
			sum.CallsRefined += refined
			sum.CallsMerged += merged
			mu.Unlock()
		}(i, u)
	}
	wg.Wait()

	// -------------------------------------------------------------
	// deduplication across scales and sorting

	var calls []*detect.PatternCall
	calls, sum.CallsDeduplicated = dedupScales(done, regions, cfg.DedupRadius)
	SortCalls(calls)
	res.Calls = calls
	sum.Calls = len(calls)

	res.Pileups = pileups(done, calls, nb)

	return res, nil
}

func kernelName(err error) string {
	var ke *kernel.InvalidKernelError
	if errors.As(err, &ke) {
		return ke.Name
	}
	return ""
}

// prepareLayer coarsens the matrix, masks bins with few contacts,
// selects usable kernels and computes the expected profile.
func prepareLayer(l *layer, lib *kernel.Library, cfg *Config, nb numeric.Backend) {
	var err error
	m := l.m
	if l.scale > 1 {
		if m, err = m.Coarsen(l.scale); err != nil {
			l.err = &matrix.InputError{Chrom: l.chrom, Err: errors.Wrapf(err, "scale %d", l.scale)}
			return
		}
	}

	if cfg.NMADs > 0 {
		mask := m.DetectableBins(cfg.NMADs, nb)
		for i := range mask {
			mask[i] = mask[i] && m.BinValid(i)
		}
		if m, err = m.WithValidity(mask); err != nil {
			l.err = &matrix.InputError{Chrom: l.chrom, Err: err}
			return
		}
	}
	l.m = m

	l.ks, l.kerrs = lib.ForMatrix(m.BinSize(), m.Dim())
	if len(l.ks) == 0 {
		err = errors.New("no kernel usable")
		if len(l.kerrs) > 0 {
			err = errors.Wrap(l.kerrs[0], "matrix too small for any kernel")
		}
		l.err = &matrix.InputError{Chrom: l.chrom, Err: errors.Wrapf(err, "scale %d", l.scale)}
		return
	}

	// the profile covers every cell of windows in the band
	maxDist := cfg.maxDistBins(m.BinSize())
	if maxDist > 0 {
		var r int
		for _, k := range l.ks {
			r = max(r, k.Radius())
		}
		maxDist += r << 1
	}
	l.z = expected.NewNormalizer(m, cfg.expectedOptions(maxDist))
}

// scanUnit computes the score map of a unit.
func scanUnit(ctx context.Context, u *unit, cfg *Config, nb numeric.Backend) {
	copt := cfg.convOptions(u.l.m.BinSize())
	copt.Backend = nb

	uctx := ctx
	if cfg.UnitTimeout.Duration > 0 {
		var cancel context.CancelFunc
		uctx, cancel = context.WithTimeout(ctx, cfg.UnitTimeout.Duration)
		defer cancel()
	}

	e, err := conv.NewEngine(u.l.m, u.l.z, u.k, copt)
	if err != nil {
		u.err = err
		return
	}
	sm, err := e.Run(uctx)
	if err != nil {
		u.err = err
		// partial maps are discarded
		u.timeout = errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
		return
	}
	u.sm = sm
	if cfg.Refine && cfg.RefineMaxIter > 0 {
		u.e = e
	}
}

// callUnit clusters candidates of the i-th map into calls.
func callUnit(i int, u *unit, sig *detect.Significance, cfg *Config) (nFoci, dropped, refined, merged int) {
	defer func() { u.e = nil }()

	pearson := cfg.PearsonThreshold
	if v := u.k.Options().PearsonThreshold; v != 0 {
		pearson = v
	}
	cands := sig.Candidates(i, u.sm, pearson)
	if len(cands) == 0 {
		return
	}
	foci := detect.Cluster(cands)
	nFoci = len(foci)
	foci, dropped = detect.FilterFoci(foci, cfg.MinClusterSize)
	if len(foci) == 0 {
		return
	}

	calls := make([]*detect.PatternCall, 0, len(foci))
	for _, f := range foci {
		calls = append(calls, detect.NewCall(u.l.chrom, f, u.k.Name(), u.k.ID(), u.l.m.BinSize()))
	}

	if u.e != nil {
		calls, refined, merged = refineCalls(calls, u.e.Scorer(), sig, i, u.sm, cfg.refineOptions())
	}

	u.calls = calls
	return
}

// refineCalls moves calls to better positions nearby. A moved call takes
// the score, p-value and q-value of its new pixel. Calls ending on the same
// pixel are merged into the first one, summing the sizes.
func refineCalls(calls []*detect.PatternCall, scorer detect.Scorer, sig *detect.Significance, i int,
	sm *conv.ScoreMap, ropt *detect.RefineOptions) (_ []*detect.PatternCall, refined, merged int) {

	for _, c := range calls {
		if detect.Refine(c, scorer, ropt) == 0 {
			continue
		}
		refined++
		if p, q, ok := sig.At(i, sm, c.Row, c.Col); ok {
			c.PValue, c.QValue = p, q
		}
	}

	seen := make(map[[2]int]*detect.PatternCall, len(calls))
	j := 0
	for _, c := range calls {
		key := [2]int{c.Row, c.Col}
		if c0, ok := seen[key]; ok {
			c0.Size += c.Size
			merged++
			continue
		}
		seen[key] = c
		calls[j] = c
		j++
	}
	return calls[:j], refined, merged
}
