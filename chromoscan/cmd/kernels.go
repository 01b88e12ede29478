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
	"strings"

	"github.com/shenwei356/chromoscan/chromoscan/kernel"
	"github.com/spf13/cobra"
)

var kernelsCmd = &cobra.Command{
	Use:   "kernels",
	Short: "List preset kernels or print kernels in TOML format",
	Long: `List preset kernels or print kernels in TOML format

Examples:
  1. List preset kernels:
       chromoscan kernels
  2. Print a preset kernel, the output could be edited and used as a kernel file:
       chromoscan kernels -k loops
  3. Print kernels resized for a resolution:
       chromoscan kernels -k loops -k my-kernel.toml -b 5000

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		names := getFlagStringSlice(cmd, "kernel")
		dir := getFlagString(cmd, "kernel-dir")
		binSize := getFlagNonNegativeInt(cmd, "bin-size")
		outFile := getFlagString(cmd, "out-file")

		if len(names) == 0 && dir == "" {
			for _, name := range kernel.PresetNames() {
				k, err := kernel.Preset(name)
				checkError(err)
				fmt.Printf("%s\t%dx%d\t%d bp\n", name, k.Size(), k.Size(), k.Options().Resolution)
			}
			return
		}

		lib, errs, err := loadKernels(names, dir, opt.NumCPUs)
		for _, err := range errs {
			log.Warningf("kernel skipped: %s", err)
		}
		checkError(err)

		kernels := lib.Kernels()
		if binSize > 0 {
			var rerrs []error
			kernels, rerrs = lib.ForMatrix(binSize, 1<<30)
			for _, err := range rerrs {
				log.Warningf("kernel skipped: %s", err)
			}
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

		for i, k := range kernels {
			data, err := kernel.Encode(k)
			checkError(err)
			if i > 0 {
				outfh.WriteString("\n")
			}
			fmt.Fprintf(outfh, "# %s\n", k)
			outfh.Write(data)
		}
	},
}

func init() {
	RootCmd.AddCommand(kernelsCmd)

	kernelsCmd.Flags().StringSliceP("kernel", "k", []string{},
		formatFlagUsage(`Preset kernel names or kernel files in TOML format.`))

	kernelsCmd.Flags().StringP("kernel-dir", "K", "",
		formatFlagUsage(`Directory containing kernel files with a ".toml" suffix.`))

	kernelsCmd.Flags().IntP("bin-size", "b", 0,
		formatFlagUsage(`Resize kernels for this bin size.`))

	kernelsCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports a ".gz" suffix ("-" for stdout).`))

	kernelsCmd.SetUsageTemplate(usageTemplate("[-k <kernel>] [-b <bin size>]"))
}
