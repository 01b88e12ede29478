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

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shenwei356/chromoscan/chromoscan/scan"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect patterns in a contact map",
	Long: `Detect patterns in a contact map

Input:
  1. Contacts in the bg2 format, which could be exported with "cooler dump --join".
     Only intra-chromosomal contacts are used. Input should be balanced if needed.

       chrom1  start1  end1  chrom2  start2  end2  value

  2. Kernels (-k/--kernel), preset names (loops, borders) or TOML files:

       name = "loops"
       resolution = 10000    # bp, kernels are resized for other resolutions
       min_dist = 20000      # bp
       max_dist = 2000000    # bp, 0 for no limit
       diagonal = false      # patterns only occur on the main diagonal
       matrix = [[0.0, 0.5, 0.0], [0.5, 1.0, 0.5], [0.0, 0.5, 0.0]]

     A file could contain multiple kernels as [[kernel]] tables.

Parameters:
  Parameters can be given in a TOML file (-c/--config), flags override them.
  Use --dump-config to view all of them.

Output format:
  Tab-delimited format with 12 columns, positions are 0-based.

    1.  chrom1,     Chromosome.
    2.  start1,     Start of the first anchor.
    3.  end1,       End of the first anchor.
    4.  chrom2,     Chromosome.
    5.  start2,     Start of the second anchor.
    6.  end2,       End of the second anchor.
    7.  score,      Pearson correlation with the kernel.
    8.  kernel,     Kernel name.
    9.  pvalue,     P-value of the score.
    10. qvalue,     Adjusted p-value (Benjamini-Hochberg).
    11. size,       Number of significant pixels of the pattern.
    12. resolution, Bin size of the matrix of the call.

  Pileups (-P/--pileup-file), cell-wise medians of normalized windows around
  patterns, are written in a long format: kernel, resolution, windows, row, col, value.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}

		outputLog := opt.Verbose || opt.Log2File
		verbose := opt.Verbose

		timeStart := time.Now()
		defer func() {
			if outputLog {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
				log.Info()
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		var err error

		// ---------------------------------------------------------------
		// flags

		binSize := getFlagPositiveInt(cmd, "bin-size")
		outFile := getFlagString(cmd, "out-file")
		pileupFile := getFlagString(cmd, "pileup-file")
		fileSizes := getFlagString(cmd, "chrom-sizes")
		chroms := getFlagStringSlice(cmd, "chroms")
		kernelNames := getFlagStringSlice(cmd, "kernel")
		kernelDir := getFlagString(cmd, "kernel-dir")
		dumpConfig := getFlagBool(cmd, "dump-config")

		cfg, err := configFromFlags(cmd, opt)
		checkError(err)

		if dumpConfig {
			data, err := cfg.Encode()
			checkError(err)
			os.Stdout.Write(data)
			return
		}

		if len(args) != 1 {
			checkError(fmt.Errorf("one contact file needed"))
		}
		file, err := expandPath(args[0])
		checkError(err)

		// ---------------------------------------------------------------
		// kernels

		lib, kerrs, err := loadKernels(kernelNames, kernelDir, opt.NumCPUs)
		for _, err := range kerrs {
			log.Warningf("kernel skipped: %s", err)
		}
		checkError(err)
		if outputLog {
			log.Infof("%d kernel(s) loaded:", lib.Len())
			for _, k := range lib.Kernels() {
				log.Infof("  %s", k)
			}
		}

		// ---------------------------------------------------------------
		// contacts

		var sizes map[string]int
		if fileSizes != "" {
			sizes, err = readChromSizes(fileSizes)
			checkError(err)
		}
		var only map[string]bool
		if len(chroms) > 0 {
			only = make(map[string]bool, len(chroms))
			for _, c := range chroms {
				only[c] = true
			}
		}

		if outputLog {
			log.Infof("reading contacts from %s ...", file)
		}
		regions, stats, rerrs, err := readContacts(file, binSize, sizes, only)
		checkError(err)
		for _, err := range rerrs {
			log.Warningf("chromosome skipped: %s", err)
		}
		if outputLog {
			log.Infof("  %s lines, %s intra-chromosomal contacts, %s inter-chromosomal contacts ignored",
				humanize.Comma(int64(stats.Lines)), humanize.Comma(int64(stats.Intra)), humanize.Comma(int64(stats.Inter)))
			for _, r := range regions {
				log.Infof("  %s: %s bins, %s non-zero pixels", r.Chrom,
					humanize.Comma(int64(r.Matrix.Dim())), humanize.Comma(int64(r.Matrix.NNZ())))
			}
		}
		if len(regions) == 0 {
			checkError(fmt.Errorf("no valid contacts in %s", file))
		}

		// ---------------------------------------------------------------
		// scanning

		var pbs *mpb.Progress
		var bar *mpb.Bar
		var chDuration chan time.Duration
		var doneDuration chan int

		ropt := &scan.RunOptions{}
		if verbose {
			ropt.UnitsReady = func(total int) {
				if total == 0 {
					return
				}
				pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
				bar = pbs.AddBar(int64(total),
					mpb.PrependDecorators(
						decor.Name("scanned units: ", decor.WC{W: len("scanned units: "), C: decor.DindentRight}),
						decor.Name("", decor.WCSyncSpaceR),
						decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
					),
					mpb.AppendDecorators(
						decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
						decor.EwmaETA(decor.ET_STYLE_GO, 3),
						decor.OnComplete(decor.Name(""), ". done"),
					),
				)

				chDuration = make(chan time.Duration, opt.NumCPUs)
				doneDuration = make(chan int)
				go func() {
					for t := range chDuration {
						bar.EwmaIncrBy(1, t)
					}
					doneDuration <- 1
				}()
			}
			ropt.UnitDone = func(t time.Duration) {
				if chDuration != nil {
					chDuration <- t
				}
			}
		}

		if outputLog {
			log.Infof("scanning %d chromosome(s) at %d scale(s) with %d thread(s) ...",
				len(regions), len(cfg.Scales), cfg.Threads)
		}
		res, err := scan.Run(context.Background(), regions, lib, cfg, ropt)
		if chDuration != nil {
			close(chDuration)
			<-doneDuration
			if !bar.Completed() {
				bar.Abort(false)
			}
			pbs.Wait()
		}
		if res != nil && outputLog {
			logSummary(res.Summary)
		}
		checkError(err)

		// ---------------------------------------------------------------
		// output

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		checkError(scan.WriteCalls(outfh, res.Calls))

		if outputLog {
			log.Infof("%s pattern(s) saved to %s", humanize.Comma(int64(len(res.Calls))), outFile)
		}

		if pileupFile != "" {
			pfh, pgw, pw, err := outStream(pileupFile, strings.HasSuffix(pileupFile, ".gz"), opt.CompressionLevel)
			checkError(err)
			checkError(scan.WritePileups(pfh, res.Pileups))
			pfh.Flush()
			if pgw != nil {
				pgw.Close()
			}
			pw.Close()

			if outputLog {
				log.Infof("%d pileup(s) saved to %s", len(res.Pileups), pileupFile)
			}
		}
	},
}

func logSummary(s *scan.Summary) {
	log.Infof("summary:")
	log.Infof("  units: %d done, %d skipped (timeout), %d failed, %d in total",
		s.UnitsDone, s.UnitsSkipped, s.UnitsFailed, s.Units)
	for _, err := range s.RegionErrors {
		log.Warningf("  chromosome skipped: %s", err)
	}
	for _, err := range s.KernelErrors {
		log.Warningf("  kernel skipped: %s", err)
	}
	for _, err := range s.UnitErrors {
		log.Warningf("  unit failed: %s", err)
	}
	log.Infof("  positions: %s tested, %s skipped for missing data, %s flat",
		humanize.Comma(int64(s.PositionsTested)), humanize.Comma(int64(s.PositionsSkipped)),
		humanize.Comma(int64(s.DegenerateWindows)))
	if s.DegenerateDistances > 0 {
		log.Infof("  distances without expected values: %d", s.DegenerateDistances)
	}
	log.Infof("  significant pixels: %s (p-value threshold: %.4e)",
		humanize.Comma(int64(s.SignificantPixels)), s.Threshold)
	log.Infof("  foci: %d, %d dropped as too small; calls: %d refined, %d merged, %d duplicated across scales",
		s.Foci, s.FociDropped, s.CallsRefined, s.CallsMerged, s.CallsDeduplicated)
}

// configFromFlags reads the config file and overrides values with flags
// given in the command line.
func configFromFlags(cmd *cobra.Command, opt *Options) (*scan.Config, error) {
	var cfg *scan.Config
	var err error
	if file := getFlagString(cmd, "config"); file != "" {
		if cfg, err = scan.LoadConfig(file); err != nil {
			return nil, err
		}
	} else {
		c := scan.DefaultConfig()
		cfg = &c
	}

	flags := cmd.Flags()
	if flags.Changed("threads") || getFlagString(cmd, "config") == "" {
		cfg.Threads = opt.NumCPUs
	}
	if flags.Changed("pearson") {
		cfg.PearsonThreshold = getFlagFloat64(cmd, "pearson")
	}
	if flags.Changed("fdr") {
		cfg.FDR = getFlagFloat64(cmd, "fdr")
	}
	if flags.Changed("min-separation") {
		cfg.MinSeparation = getFlagNonNegativeInt(cmd, "min-separation")
	}
	if flags.Changed("max-dist") {
		cfg.MaxDistKb = getFlagNonNegativeInt(cmd, "max-dist")
	}
	if flags.Changed("win-fmt") {
		cfg.MaxMissingFrac = getFlagNonNegativeFloat64(cmd, "win-fmt")
	}
	if flags.Changed("n-mads") {
		cfg.NMADs = getFlagNonNegativeFloat64(cmd, "n-mads")
	}
	if flags.Changed("scales") {
		cfg.Scales = getFlagIntSlice(cmd, "scales")
	}
	if flags.Changed("expected-aggregate") {
		cfg.ExpectedAggregate = getFlagString(cmd, "expected-aggregate")
	}
	if flags.Changed("expected-mode") {
		cfg.ExpectedMode = getFlagString(cmd, "expected-mode")
	}
	if flags.Changed("smooth-expected") {
		cfg.SmoothExpected = getFlagBool(cmd, "smooth-expected")
	}
	if flags.Changed("min-cluster-size") {
		cfg.MinClusterSize = getFlagPositiveInt(cmd, "min-cluster-size")
	}
	if flags.Changed("no-refine") {
		cfg.Refine = !getFlagBool(cmd, "no-refine")
	}
	if flags.Changed("unit-timeout") {
		cfg.UnitTimeout = scan.Duration{Duration: getFlagDuration(cmd, "unit-timeout")}
	}

	return cfg, scan.CheckConfig(cfg)
}

func init() {
	RootCmd.AddCommand(detectCmd)

	defaults := scan.DefaultConfig()

	detectCmd.Flags().IntP("bin-size", "b", 10000,
		formatFlagUsage(`Bin size (resolution) of the contact matrix.`))

	detectCmd.Flags().StringP("chrom-sizes", "s", "",
		formatFlagUsage(`A two-column tab-delimited file of chromosome names and sizes. `+
			`By default, matrix sizes are decided by the largest bins in the input.`))

	detectCmd.Flags().StringSliceP("chroms", "C", []string{},
		formatFlagUsage(`Only scan these chromosomes.`))

	detectCmd.Flags().StringSliceP("kernel", "k", []string{"loops"},
		formatFlagUsage(`Preset kernel names (loops, borders) or kernel files in TOML format.`))

	detectCmd.Flags().StringP("kernel-dir", "K", "",
		formatFlagUsage(`Directory containing kernel files with a ".toml" suffix.`))

	detectCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports a ".gz" suffix ("-" for stdout).`))

	detectCmd.Flags().StringP("pileup-file", "P", "",
		formatFlagUsage(`Write the median window around patterns of each kernel and resolution to this file. `+
			`Values are normalized by expected values, rows and columns are offsets to the pattern.`))

	detectCmd.Flags().StringP("config", "c", "",
		formatFlagUsage(`Config file in TOML format. Flags given in the command line override its values.`))

	detectCmd.Flags().BoolP("dump-config", "", false,
		formatFlagUsage(`Print the final config in TOML format and exit.`))

	detectCmd.Flags().Float64P("pearson", "p", defaults.PearsonThreshold,
		formatFlagUsage(`Minimum Pearson correlation of a candidate pixel.`))

	detectCmd.Flags().Float64P("fdr", "f", defaults.FDR,
		formatFlagUsage(`Target false discovery rate.`))

	detectCmd.Flags().IntP("min-separation", "m", defaults.MinSeparation,
		formatFlagUsage(`Minimum distance (bins) to the main diagonal.`))

	detectCmd.Flags().IntP("max-dist", "M", defaults.MaxDistKb,
		formatFlagUsage(`Maximum distance (kb) to scan, 0 for no limit.`))

	detectCmd.Flags().Float64P("win-fmt", "w", defaults.MaxMissingFrac,
		formatFlagUsage(`Maximum fraction of missing cells in a window.`))

	detectCmd.Flags().Float64P("n-mads", "n", defaults.NMADs,
		formatFlagUsage(`Bins with contact sums lower than median - n * MAD are masked, 0 for no masking.`))

	detectCmd.Flags().IntSliceP("scales", "S", defaults.Scales,
		formatFlagUsage(`Coarsening factors for multi-scale detection, e.g., 1,2,4.`))

	detectCmd.Flags().StringP("expected-aggregate", "", defaults.ExpectedAggregate,
		formatFlagUsage(`Aggregating function of expected values: mean, median.`))

	detectCmd.Flags().StringP("expected-mode", "", defaults.ExpectedMode,
		formatFlagUsage(`Normalization by expected values: ratio, log-ratio.`))

	detectCmd.Flags().BoolP("smooth-expected", "", false,
		formatFlagUsage(`Force expected values to be non-increasing with distance.`))

	detectCmd.Flags().IntP("min-cluster-size", "z", defaults.MinClusterSize,
		formatFlagUsage(`Minimum number of significant pixels of a pattern, 2 drops isolated pixels.`))

	detectCmd.Flags().BoolP("no-refine", "", false,
		formatFlagUsage(`Do not refine positions of patterns.`))

	detectCmd.Flags().DurationP("unit-timeout", "", 0,
		formatFlagUsage(`Timeout of scanning a chromosome with a kernel at a scale, 0 for no limit.`))

	detectCmd.SetUsageTemplate(usageTemplate("[-k <kernel>] [-c <config.toml>] -b <bin size> <contacts.bg2.gz> [-o calls.tsv.gz]"))
}
