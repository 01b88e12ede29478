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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shenwei356/chromoscan/chromoscan/expected"
	"github.com/shenwei356/chromoscan/chromoscan/numeric"
	"github.com/spf13/cobra"
)

var expectedCmd = &cobra.Command{
	Use:   "expected",
	Short: "Compute expected contact values by distance",
	Long: `Compute expected contact values by distance

Bins with too few contacts are masked before computing, the same as "detect".
Cells absent in the input are counted as zeros.

Output format:
  Tab-delimited format with 4 columns.

    1. chrom,    Chromosome.
    2. distance, Distance in bp.
    3. bins,     Distance in bins.
    4. expected, Expected contact value.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}

		outputLog := opt.Verbose || opt.Log2File

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

		binSize := getFlagPositiveInt(cmd, "bin-size")
		outFile := getFlagString(cmd, "out-file")
		fileSizes := getFlagString(cmd, "chrom-sizes")
		maxDistKb := getFlagNonNegativeInt(cmd, "max-dist")
		nMADs := getFlagNonNegativeFloat64(cmd, "n-mads")
		smooth := getFlagBool(cmd, "smooth")

		agg, err := expected.ParseAggregate(getFlagString(cmd, "aggregate"))
		checkError(err)

		if len(args) != 1 {
			checkError(fmt.Errorf("one contact file needed"))
		}
		file, err := expandPath(args[0])
		checkError(err)

		var sizes map[string]int
		if fileSizes != "" {
			sizes, err = readChromSizes(fileSizes)
			checkError(err)
		}

		regions, _, rerrs, err := readContacts(file, binSize, sizes, nil)
		checkError(err)
		for _, err := range rerrs {
			log.Warningf("chromosome skipped: %s", err)
		}

		var maxDist int
		if maxDistKb > 0 {
			maxDist = max(1, maxDistKb*1000/binSize)
		}
		eopt := &expected.Options{
			Aggregate:   agg,
			Mode:        expected.Ratio,
			Smooth:      smooth,
			MaxDist:     maxDist,
			MinExpected: expected.DefaultOptions.MinExpected,
		}

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		fmt.Fprintln(outfh, "chrom\tdistance\tbins\texpected")
		for _, r := range regions {
			m := r.Matrix
			if nMADs > 0 {
				mask := m.DetectableBins(nMADs, numeric.Default)
				m, err = m.WithValidity(mask)
				if err != nil {
					log.Warningf("chromosome skipped: %s", err)
					continue
				}
			}
			if outputLog {
				log.Infof("%s: %d of %d bins valid", r.Chrom, m.NumValidBins(), m.Dim())
			}

			profile := expected.Compute(m, eopt)
			for d, e := range profile {
				fmt.Fprintf(outfh, "%s\t%d\t%d\t%s\n", r.Chrom, d*binSize, d,
					strconv.FormatFloat(e, 'g', 8, 64))
			}
		}
	},
}

func init() {
	RootCmd.AddCommand(expectedCmd)

	expectedCmd.Flags().IntP("bin-size", "b", 10000,
		formatFlagUsage(`Bin size (resolution) of the contact matrix.`))

	expectedCmd.Flags().StringP("chrom-sizes", "s", "",
		formatFlagUsage(`A two-column tab-delimited file of chromosome names and sizes.`))

	expectedCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports a ".gz" suffix ("-" for stdout).`))

	expectedCmd.Flags().StringP("aggregate", "a", "mean",
		formatFlagUsage(`Aggregating function: mean, median.`))

	expectedCmd.Flags().BoolP("smooth", "", false,
		formatFlagUsage(`Force expected values to be non-increasing with distance.`))

	expectedCmd.Flags().IntP("max-dist", "M", 2000,
		formatFlagUsage(`Maximum distance (kb), 0 for no limit.`))

	expectedCmd.Flags().Float64P("n-mads", "n", 5,
		formatFlagUsage(`Bins with contact sums lower than median - n * MAD are masked, 0 for no masking.`))

	expectedCmd.SetUsageTemplate(usageTemplate("-b <bin size> <contacts.bg2.gz> [-o expected.tsv]"))
}
