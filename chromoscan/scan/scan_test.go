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
	"bytes"
	"context"
	"math"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shenwei356/chromoscan/chromoscan/conv"
	"github.com/shenwei356/chromoscan/chromoscan/detect"
	"github.com/shenwei356/chromoscan/chromoscan/kernel"
	"github.com/shenwei356/chromoscan/chromoscan/matrix"
	"github.com/shenwei356/chromoscan/chromoscan/util"
)

func denseMatrix(t *testing.T, chrom string, n int, f func(i, j int) float64) *matrix.ContactMatrix {
	contacts := make([]matrix.Contact, 0, n*(n+1)/2)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			contacts = append(contacts, matrix.Contact{Row: i, Col: j, Value: f(i, j)})
		}
	}
	m, err := matrix.New(chrom, 1000, n, contacts)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func library(t *testing.T, ks ...*kernel.Kernel) *kernel.Library {
	lib := kernel.NewLibrary()
	for _, k := range ks {
		if _, err := lib.Add(k); err != nil {
			t.Fatal(err)
		}
	}
	return lib
}

func pointKernel(t *testing.T) *kernel.Kernel {
	k, err := kernel.New("loops", [][]float64{{0, 0, 0}, {0, 1, 0}, {0, 0, 0}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func gaussKernel(t *testing.T, name string) *kernel.Kernel {
	const size, sigma = 7, 1.2
	rows := make([][]float64, size)
	for i := range rows {
		rows[i] = make([]float64, size)
		for j := range rows[i] {
			d2 := float64((i-3)*(i-3) + (j-3)*(j-3))
			rows[i][j] = math.Exp(-d2 / (2 * sigma * sigma))
		}
	}
	k, err := kernel.New(name, rows, nil)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestSingleBlock(t *testing.T) {
	// a 3x3 block of high values at (50, 50) over a uniform background
	m := denseMatrix(t, "chr1", 100, func(i, j int) float64 {
		if i >= 49 && i <= 51 && j >= 49 && j <= 51 {
			return 10
		}
		return 1
	})

	cfg := DefaultConfig()
	cfg.MinSeparation = 1
	cfg.PearsonThreshold = 0.2
	cfg.Threads = 2

	for _, agg := range []string{"mean", "median"} {
		cfg.ExpectedAggregate = agg
		res, err := Run(context.Background(), []Region{{Matrix: m}}, library(t, pointKernel(t)), &cfg, nil)
		if err != nil {
			t.Fatalf("%s: %s", agg, err)
		}
		if res.Summary.UnitsDone != 1 {
			t.Errorf("%s: unexpected units: %+v", agg, res.Summary)
		}
		if len(res.Calls) != 1 {
			t.Fatalf("%s: one call expected, %d returned", agg, len(res.Calls))
		}
		c := res.Calls[0]
		if util.Chebyshev(c.Row, c.Col, 50, 50) > 1 {
			t.Errorf("%s: call not near (50, 50): %s", agg, c)
		}
		if c.Chrom != "chr1" || c.QValue > cfg.FDR || c.Size < 2 {
			t.Errorf("%s: unexpected call: %+v", agg, c)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	block := denseMatrix(t, "chr1", 100, func(i, j int) float64 {
		if i >= 49 && i <= 51 && j >= 49 && j <= 51 {
			return 10
		}
		return 1
	})
	cross, err := kernel.New("loops", [][]float64{{0, 0.5, 0}, {0.5, 1, 0.5}, {0, 0.5, 0}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	res, err := Run(context.Background(), []Region{{Matrix: block}}, library(t, cross), &cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Calls) != 1 {
		t.Fatalf("one call expected, %d returned: %+v", len(res.Calls), res.Summary)
	}
	c := res.Calls[0]
	if util.Chebyshev(c.Row, c.Col, 50, 50) > 1 || c.QValue > cfg.FDR {
		t.Errorf("unexpected call: %s", c)
	}

	// the pileup of the only call is its own window
	if len(res.Pileups) != 1 {
		t.Fatalf("one pileup expected, %d returned", len(res.Pileups))
	}
	p := res.Pileups[0]
	if p.Kernel != "loops" || p.Windows != 1 || p.Size != 3 || p.Resolution != 1000 {
		t.Errorf("unexpected pileup: %+v", p)
	}
	if p.At(1, 1) <= 1 {
		t.Errorf("the center of the pileup should be enriched: %v", p.Values)
	}
	var buf bytes.Buffer
	if err = WritePileups(&buf, res.Pileups); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), PileupsHeader) || strings.Count(buf.String(), "\n") != 10 {
		t.Errorf("unexpected pileup table:\n%s", buf.String())
	}

	// a single significant pixel away from the diagonal
	spot := denseMatrix(t, "chr1", 100, func(i, j int) float64 {
		if i == 30 && j == 60 {
			return 10
		}
		return 1
	})
	res, err = Run(context.Background(), []Region{{Matrix: spot}}, library(t, pointKernel(t)), &cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Calls) != 1 || res.Calls[0].Row != 30 || res.Calls[0].Col != 60 || res.Calls[0].Size != 1 {
		t.Errorf("one call at (30, 60) expected: %v", res.Calls)
	}
	if res.Summary.FociDropped != 0 {
		t.Errorf("no focus should be dropped: %+v", res.Summary)
	}

	// isolated pixels are dropped on request
	cfg.MinClusterSize = 2
	res, err = Run(context.Background(), []Region{{Matrix: spot}}, library(t, pointKernel(t)), &cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Calls) != 0 || res.Summary.FociDropped != 1 {
		t.Errorf("the isolated pixel should be dropped: %+v", res.Summary)
	}
}

func TestUnitTimeout(t *testing.T) {
	m := denseMatrix(t, "chr1", 600, func(i, j int) float64 { return 100 / float64(j-i+1) })
	cfg := DefaultConfig()
	cfg.UnitTimeout = Duration{time.Nanosecond}

	res, err := Run(context.Background(), []Region{{Matrix: m}}, library(t, gaussKernel(t, "loops")), &cfg, nil)
	if !errors.Is(err, ErrNoUnits) {
		t.Fatalf("expected ErrNoUnits, got %v", err)
	}
	if res.Summary.UnitsSkipped != 1 || res.Summary.UnitsFailed != 0 || len(res.Summary.UnitErrors) != 1 {
		t.Fatalf("unexpected summary: %+v", res.Summary)
	}
	var ue *UnitError
	if !errors.As(res.Summary.UnitErrors[0], &ue) || ue.Kernel != "loops" || ue.Chrom != "chr1" ||
		!errors.Is(ue, context.DeadlineExceeded) {
		t.Errorf("unexpected unit error: %v", res.Summary.UnitErrors[0])
	}

	// a kernel with nothing to scan finishes before checking the deadline
	far, err := kernel.New("far", [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		&kernel.Options{MinDist: 10000000})
	if err != nil {
		t.Fatal(err)
	}
	res, err = Run(context.Background(), []Region{{Matrix: m}}, library(t, gaussKernel(t, "loops"), far), &cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.UnitsDone != 1 || res.Summary.UnitsSkipped != 1 || len(res.Calls) != 0 {
		t.Errorf("unexpected summary: %+v", res.Summary)
	}
}

type peakScorer map[[2]int]float64

func (s peakScorer) ScoreAt(row, col int) (float64, bool) {
	v, ok := s[[2]int{row, col}]
	return v, ok
}

func TestRefineCalls(t *testing.T) {
	sm := &conv.ScoreMap{Pixels: []conv.Pixel{
		{Row: 10, Col: 20, Score: 0.5},
		{Row: 10, Col: 21, Score: 0.9},
		{Row: 10, Col: 22, Score: 0.6},
		{Row: 30, Col: 40, Score: 0.7},
	}}
	sig := &detect.Significance{
		PValues: [][]float64{{0.01, 0.001, 0.02, 0.005}},
		QValues: [][]float64{{0.03, 0.004, 0.05, 0.02}},
	}
	scorer := make(peakScorer, len(sm.Pixels))
	for _, p := range sm.Pixels {
		scorer[[2]int{p.Row, p.Col}] = p.Score
	}

	a := mkCall(10, 20, 1000)
	a.Score, a.PValue, a.QValue, a.Size = 0.5, 0.01, 0.03, 2
	b := mkCall(10, 22, 1000)
	b.Score, b.PValue, b.QValue, b.Size = 0.6, 0.02, 0.05, 3
	c := mkCall(30, 40, 1000)
	c.Score, c.PValue, c.QValue, c.Size = 0.7, 0.005, 0.02, 1

	calls, refined, merged := refineCalls([]*detect.PatternCall{a, b, c}, scorer, sig, 0, sm, &detect.DefaultRefineOptions)
	if len(calls) != 2 || refined != 2 || merged != 1 {
		t.Fatalf("unexpected refinement: %d calls, %d refined, %d merged", len(calls), refined, merged)
	}
	r := calls[0]
	if r.Row != 10 || r.Col != 21 || r.Size != 5 || !r.Refined {
		t.Errorf("unexpected refined call: %+v", r)
	}
	// values of the new pixel
	if r.Score != 0.9 || r.PValue != 0.001 || r.QValue != 0.004 {
		t.Errorf("refined call should take values of its pixel: %+v", r)
	}
	if calls[1] != c || c.Refined || c.PValue != 0.005 {
		t.Errorf("unexpected call: %+v", calls[1])
	}
}

func TestAllZero(t *testing.T) {
	lib := library(t, pointKernel(t), gaussKernel(t, "spots"))

	empty, err := matrix.New("chr1", 1000, 60, nil)
	if err != nil {
		t.Fatal(err)
	}
	zeros := denseMatrix(t, "chr2", 60, func(i, j int) float64 { return 0 })

	for _, nMADs := range []float64{5, 0} {
		cfg := DefaultConfig()
		cfg.NMADs = nMADs
		cfg.PearsonThreshold = -1
		res, err := Run(context.Background(), []Region{{Matrix: empty}, {Matrix: zeros}}, lib, &cfg, nil)
		if err != nil {
			t.Fatalf("n_mads %f: %s", nMADs, err)
		}
		if len(res.Calls) != 0 {
			t.Errorf("n_mads %f: no calls expected, %d returned", nMADs, len(res.Calls))
		}
		if res.Summary.UnitsDone != 4 {
			t.Errorf("n_mads %f: unexpected units: %d", nMADs, res.Summary.UnitsDone)
		}
		if res.Summary.PositionsSkipped == 0 {
			t.Errorf("n_mads %f: positions without contacts should be skipped", nMADs)
		}
	}
}

type loop struct {
	row, col int
}

// loopMatrix simulates a distance-decaying matrix with noise and Gaussian spots.
func loopMatrix(t *testing.T, r *rand.Rand, n, nLoops int) (*matrix.ContactMatrix, []loop) {
	loops := make([]loop, 0, nLoops)
	for len(loops) < nLoops {
		row := 20 + r.Intn(n-95)
		col := row + 10 + r.Intn(41)
		ok := true
		for _, l := range loops {
			if util.Chebyshev(row, col, l.row, l.col) < 15 {
				ok = false
				break
			}
		}
		if ok {
			loops = append(loops, loop{row, col})
		}
	}

	const sigma = 1.2
	m := denseMatrix(t, "chr1", n, func(i, j int) float64 {
		v := 100 / float64(j-i+1)
		var g float64
		for _, l := range loops {
			d2 := float64((i-l.row)*(i-l.row) + (j-l.col)*(j-l.col))
			if d2 < 25 {
				g += math.Exp(-d2 / (2 * sigma * sigma))
			}
		}
		return v * (1 + 5*g) * math.Exp(0.2*r.NormFloat64()-0.02)
	})
	return m, loops
}

func TestFDR(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	lib := library(t, gaussKernel(t, "loops"))
	cfg := DefaultConfig()
	cfg.MaxDistKb = 60
	cfg.Threads = 4
	// scores of noise windows rarely reach 0.6
	cfg.PearsonThreshold = 0.6
	cfg.MinClusterSize = 2

	var nCalls, nFalse, nLoops, nFound int
	for trial := 0; trial < 5; trial++ {
		m, loops := loopMatrix(t, r, 200, 8)
		res, err := Run(context.Background(), []Region{{Matrix: m}}, lib, &cfg, nil)
		if err != nil {
			t.Fatal(err)
		}

		found := make([]bool, len(loops))
		for _, c := range res.Calls {
			nCalls++
			hit := false
			for i, l := range loops {
				if util.Chebyshev(c.Row, c.Col, l.row, l.col) <= 3 {
					hit = true
					found[i] = true
				}
			}
			if !hit {
				nFalse++
			}
		}
		nLoops += len(loops)
		for _, f := range found {
			if f {
				nFound++
			}
		}
	}

	if nCalls == 0 {
		t.Fatalf("no calls")
	}
	if fdr := float64(nFalse) / float64(nCalls); fdr > cfg.FDR+0.05 {
		t.Errorf("false discovery rate too high: %d/%d", nFalse, nCalls)
	}
	if recall := float64(nFound) / float64(nLoops); recall < 0.8 {
		t.Errorf("recall too low: %d/%d", nFound, nLoops)
	}
}

func TestDeterminism(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	m1, _ := loopMatrix(t, r, 150, 5)
	m2, _ := loopMatrix(t, r, 120, 4)
	m2, _ = matrix.New("chr2", 1000, 120, contactsOf(m2))
	regions := []Region{{Matrix: m1}, {Matrix: m2}}
	lib := library(t, gaussKernel(t, "loops"), pointKernel(t))

	cfg := DefaultConfig()
	cfg.MaxDistKb = 60
	cfg.Scales = []int{1, 2}

	var outputs [2]bytes.Buffer
	for i, threads := range []int{1, 8} {
		cfg.Threads = threads
		res, err := Run(context.Background(), regions, lib, &cfg, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err = WriteCalls(&outputs[i], res.Calls); err != nil {
			t.Fatal(err)
		}
	}
	if !bytes.Equal(outputs[0].Bytes(), outputs[1].Bytes()) {
		t.Errorf("outputs differ:\n%s\n%s", outputs[0].String(), outputs[1].String())
	}
	if !strings.HasPrefix(outputs[0].String(), CallsHeader) {
		t.Errorf("header missing")
	}
}

func contactsOf(m *matrix.ContactMatrix) []matrix.Contact {
	var cs []matrix.Contact
	it := m.DiagonalBand(0, m.Dim()-1)
	for {
		c, ok := it.Next()
		if !ok {
			break
		}
		cs = append(cs, c)
	}
	return cs
}

func TestMultiScale(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	m, _ := loopMatrix(t, r, 200, 8)
	lib := library(t, gaussKernel(t, "loops"))

	cfg := DefaultConfig()
	cfg.MaxDistKb = 60
	cfg.Scales = []int{2, 1}
	res, err := Run(context.Background(), []Region{{Matrix: m}}, lib, &cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.Units != 2 {
		t.Errorf("unexpected units: %d", res.Summary.Units)
	}

	for _, c := range res.Calls {
		if c.Resolution != 2000 {
			continue
		}
		for _, f := range res.Calls {
			if f.Resolution == 1000 && f.Start1 <= c.End1 && f.End1 >= c.Start1 &&
				f.Start2 <= c.End2 && f.End2 >= c.Start2 {
				t.Errorf("coarse call overlaps a fine one: %s, %s", c, f)
			}
		}
	}
}

func mkCall(row, col, res int) *detect.PatternCall {
	return &detect.PatternCall{
		Chrom: "chr1", Row: row, Col: col, Resolution: res,
		Start1: row * res, End1: (row + 1) * res,
		Start2: col * res, End2: (col + 1) * res,
		Kernel: "loops",
	}
}

func TestDedupScales(t *testing.T) {
	m, _ := matrix.New("chr1", 1000, 100, nil)
	regions := []Region{{Matrix: m}}
	k := pointKernel(t)
	l1 := &layer{region: 0, scale: 1}
	l2 := &layer{region: 0, scale: 2}

	for _, c := range []struct {
		radius  int
		kept    int
		dropped int
	}{
		{1, 3, 1},
		{2, 2, 2},
	} {
		units := []*unit{
			{l: l1, k: k, calls: []*detect.PatternCall{mkCall(10, 20, 1000)}},
			{l: l2, k: k, calls: []*detect.PatternCall{
				mkCall(5, 10, 2000), // overlapping
				mkCall(5, 11, 2000), // next to it
				mkCall(20, 40, 2000),
			}},
		}
		calls, dropped := dedupScales(units, regions, c.radius)
		if len(calls) != c.kept || dropped != c.dropped {
			t.Errorf("radius %d: %d kept, %d dropped", c.radius, len(calls), dropped)
		}
		if calls[0].Resolution != 1000 {
			t.Errorf("radius %d: the fine call should be kept", c.radius)
		}
	}

	// other pattern names are not compared
	k2, _ := kernel.New("borders", [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, nil)
	units := []*unit{
		{l: l1, k: k, calls: []*detect.PatternCall{mkCall(10, 20, 1000)}},
		{l: l2, k: k2, calls: []*detect.PatternCall{mkCall(5, 10, 2000)}},
	}
	if calls, dropped := dedupScales(units, regions, 1); len(calls) != 2 || dropped != 0 {
		t.Errorf("calls of different patterns should be kept")
	}
}

func TestErrors(t *testing.T) {
	small, _ := matrix.New("small", 1000, 5, []matrix.Contact{{Row: 0, Col: 2, Value: 1}})
	cfg := DefaultConfig()

	// the only region is too small for the kernel
	res, err := Run(context.Background(), []Region{{Matrix: small}}, library(t, gaussKernel(t, "loops")), &cfg, nil)
	if !errors.Is(err, ErrNoUnits) {
		t.Fatalf("expected ErrNoUnits, got %v", err)
	}
	if len(res.Summary.RegionErrors) != 1 || len(res.Summary.KernelErrors) != 1 {
		t.Errorf("unexpected errors: %v, %v", res.Summary.RegionErrors, res.Summary.KernelErrors)
	}
	var ie *matrix.InputError
	if !errors.As(res.Summary.RegionErrors[0], &ie) || ie.Chrom != "small" {
		t.Errorf("unexpected region error: %v", res.Summary.RegionErrors[0])
	}

	// one region fails, the other one runs
	big := denseMatrix(t, "big", 40, func(i, j int) float64 { return 1 / float64(j-i+1) })
	var ready, done int64
	res, err = Run(context.Background(), []Region{{Matrix: small}, {Matrix: big}, {Chrom: "nil"}},
		library(t, gaussKernel(t, "loops")), &cfg, &RunOptions{
			UnitsReady: func(total int) { ready = int64(total) },
			UnitDone:   func(time.Duration) { atomic.AddInt64(&done, 1) },
		})
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.UnitsDone != 1 || len(res.Summary.RegionErrors) != 2 {
		t.Errorf("unexpected summary: %+v", res.Summary)
	}
	if ready != 1 || done != 1 {
		t.Errorf("unexpected progress: %d/%d", done, ready)
	}

	// cancelled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err = Run(ctx, []Region{{Matrix: big}}, library(t, pointKernel(t)), &cfg, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	// invalid config
	cfg.FDR = 0
	if _, err = Run(context.Background(), []Region{{Matrix: big}}, library(t, pointKernel(t)), &cfg, nil); err == nil {
		t.Errorf("invalid config should be rejected")
	}
}

func TestConfig(t *testing.T) {
	cfg, err := DecodeConfig([]byte(`
pearson_threshold = 0.4
scales = [4, 1, 2, 2]
expected_mode = "log-ratio"
unit_timeout = "1m30s"
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PearsonThreshold != 0.4 || cfg.FDR != 0.05 || cfg.MinClusterSize != 1 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if len(cfg.Scales) != 3 || cfg.Scales[0] != 1 || cfg.Scales[2] != 4 {
		t.Errorf("unexpected scales: %v", cfg.Scales)
	}
	if cfg.UnitTimeout.Duration != 90*time.Second {
		t.Errorf("unexpected timeout: %s", cfg.UnitTimeout)
	}

	for _, bad := range []string{
		`fdr_target = 2.0`,
		`expected_aggregate = "max"`,
		`scales = [0]`,
		`unknown_key = 1`,
		`win_fmt = -0.1`,
	} {
		if _, err = DecodeConfig([]byte(bad)); err == nil {
			t.Errorf("config should be rejected: %s", bad)
		}
	}

	b, err := cfg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	cfg2, err := DecodeConfig(b)
	if err != nil {
		t.Fatal(err)
	}
	if cfg2.UnitTimeout != cfg.UnitTimeout || cfg2.ExpectedMode != "log-ratio" {
		t.Errorf("encoded config differs")
	}
}
