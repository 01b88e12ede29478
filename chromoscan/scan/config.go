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
	"fmt"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/shenwei356/chromoscan/chromoscan/conv"
	"github.com/shenwei356/chromoscan/chromoscan/detect"
	"github.com/shenwei356/chromoscan/chromoscan/expected"
)

// Duration is a time.Duration written as a string like "1m30s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config contains all parameters of a detection run.
type Config struct {
	PearsonThreshold float64 `toml:"pearson_threshold"` // minimum score of a candidate pixel
	FDR              float64 `toml:"fdr_target"`        // target false discovery rate
	MinSeparation    int     `toml:"min_separation"`    // minimum distance to the diagonal, bins
	MaxDistKb        int     `toml:"max_dist_kb"`       // maximum distance to scan, kb, 0 for no limit
	MaxMissingFrac   float64 `toml:"win_fmt"`           // tolerated fraction of missing cells in a window
	NMADs            float64 `toml:"n_mads"`            // bins with too few contacts are masked, 0 for no masking
	Threads          int     `toml:"n_jobs"`            // number of workers

	Scales []int `toml:"scales"` // coarsening factors

	ExpectedAggregate string  `toml:"expected_aggregate"` // mean or median
	ExpectedMode      string  `toml:"expected_mode"`      // ratio or log-ratio
	SmoothExpected    bool    `toml:"smooth_expected"`    // isotonic smoothing of the expected profile
	MinExpected       float64 `toml:"min_expected"`

	MinStratumSize int     `toml:"min_stratum_size"`
	MinScale       float64 `toml:"min_scale"`
	MinClusterSize int     `toml:"min_cluster_size"` // 2 drops isolated significant pixels

	Refine        bool `toml:"refine"`
	RefineRadius  int  `toml:"refine_radius"`
	RefineMaxIter int  `toml:"refine_max_iter"`

	DedupRadius int `toml:"dedup_radius"` // bins of the finest scale

	UnitTimeout Duration `toml:"unit_timeout"` // 0 for no limit
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PearsonThreshold: 0.3,
		FDR:              0.05,
		MinSeparation:    2,
		MaxDistKb:        2000,
		MaxMissingFrac:   0.1,
		NMADs:            5,
		Threads:          runtime.NumCPU(),

		Scales: []int{1},

		ExpectedAggregate: "mean",
		ExpectedMode:      "ratio",
		MinExpected:       1e-9,

		MinStratumSize: 30,
		MinScale:       1e-6,
		MinClusterSize: 1,

		Refine:        true,
		RefineRadius:  2,
		RefineMaxIter: 5,

		DedupRadius: 1,
	}
}

// CheckConfig checks the values, and sorts and deduplicates the scales.
func CheckConfig(cfg *Config) error {
	if cfg.PearsonThreshold < -1 || cfg.PearsonThreshold > 1 {
		return fmt.Errorf("invalid pearson_threshold: %f, valid range: [-1, 1]", cfg.PearsonThreshold)
	}
	if cfg.FDR <= 0 || cfg.FDR > 1 {
		return fmt.Errorf("invalid fdr_target: %f, valid range: (0, 1]", cfg.FDR)
	}
	if cfg.MinSeparation < 0 {
		return fmt.Errorf("invalid min_separation: %d, should be >= 0", cfg.MinSeparation)
	}
	if cfg.MaxDistKb < 0 {
		return fmt.Errorf("invalid max_dist_kb: %d, should be >= 0", cfg.MaxDistKb)
	}
	if cfg.MaxMissingFrac < 0 || cfg.MaxMissingFrac > 1 {
		return fmt.Errorf("invalid win_fmt: %f, valid range: [0, 1]", cfg.MaxMissingFrac)
	}
	if cfg.NMADs < 0 {
		return fmt.Errorf("invalid n_mads: %f, should be >= 0", cfg.NMADs)
	}
	if cfg.Threads < 1 {
		return fmt.Errorf("invalid n_jobs: %d, should be >= 1", cfg.Threads)
	}

	if len(cfg.Scales) == 0 {
		cfg.Scales = []int{1}
	}
	for _, s := range cfg.Scales {
		if s < 1 {
			return fmt.Errorf("invalid scale: %d, should be >= 1", s)
		}
	}
	sort.Ints(cfg.Scales)
	j := 0
	for i := 1; i < len(cfg.Scales); i++ {
		if cfg.Scales[i] != cfg.Scales[j] {
			j++
			cfg.Scales[j] = cfg.Scales[i]
		}
	}
	cfg.Scales = cfg.Scales[:j+1]

	if _, err := expected.ParseAggregate(cfg.ExpectedAggregate); err != nil {
		return err
	}
	if _, err := expected.ParseMode(cfg.ExpectedMode); err != nil {
		return err
	}
	if cfg.MinExpected < 0 {
		return fmt.Errorf("invalid min_expected: %f, should be >= 0", cfg.MinExpected)
	}

	if cfg.MinStratumSize < 1 {
		return fmt.Errorf("invalid min_stratum_size: %d, should be >= 1", cfg.MinStratumSize)
	}
	if cfg.MinScale <= 0 {
		return fmt.Errorf("invalid min_scale: %f, should be > 0", cfg.MinScale)
	}
	if cfg.MinClusterSize < 1 {
		return fmt.Errorf("invalid min_cluster_size: %d, should be >= 1", cfg.MinClusterSize)
	}
	if cfg.RefineRadius < 1 || cfg.RefineMaxIter < 0 {
		return fmt.Errorf("invalid refine_radius (%d) or refine_max_iter (%d)", cfg.RefineRadius, cfg.RefineMaxIter)
	}
	if cfg.DedupRadius < 0 {
		return fmt.Errorf("invalid dedup_radius: %d, should be >= 0", cfg.DedupRadius)
	}
	if cfg.UnitTimeout.Duration < 0 {
		return fmt.Errorf("invalid unit_timeout: %s", cfg.UnitTimeout)
	}
	return nil
}

// LoadConfig reads a TOML file, missing keys keep the default values.
func LoadConfig(file string) (*Config, error) {
	file, err := homedir.Expand(file)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", file)
	}
	return DecodeConfig(data)
}

// DecodeConfig parses a TOML config, missing keys keep the default values.
func DecodeConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	d := toml.NewDecoder(bytes.NewReader(data))
	d.DisallowUnknownFields()
	if err := d.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	if err := CheckConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Encode returns the TOML form of the config.
func (cfg *Config) Encode() ([]byte, error) {
	return toml.Marshal(cfg)
}

func (cfg *Config) expectedOptions(maxDist int) *expected.Options {
	agg, _ := expected.ParseAggregate(cfg.ExpectedAggregate)
	mode, _ := expected.ParseMode(cfg.ExpectedMode)
	return &expected.Options{
		Aggregate:   agg,
		Mode:        mode,
		Smooth:      cfg.SmoothExpected,
		MaxDist:     maxDist,
		MinExpected: cfg.MinExpected,
	}
}

// maxDistBins returns the maximum distance in bins, 0 for no limit.
func (cfg *Config) maxDistBins(binSize int) int {
	if cfg.MaxDistKb <= 0 {
		return 0
	}
	return max(1, cfg.MaxDistKb*1000/binSize)
}

func (cfg *Config) convOptions(binSize int) *conv.Options {
	return &conv.Options{
		MinSeparation:  cfg.MinSeparation,
		MaxDist:        cfg.maxDistBins(binSize),
		MaxMissingFrac: cfg.MaxMissingFrac,
	}
}

func (cfg *Config) detectOptions() *detect.Options {
	return &detect.Options{
		FDR:              cfg.FDR,
		PearsonThreshold: cfg.PearsonThreshold,
		MinStratumSize:   cfg.MinStratumSize,
		MinScale:         cfg.MinScale,
		MinClusterSize:   cfg.MinClusterSize,
	}
}

func (cfg *Config) refineOptions() *detect.RefineOptions {
	return &detect.RefineOptions{
		Radius:  cfg.RefineRadius,
		MaxIter: cfg.RefineMaxIter,
	}
}
