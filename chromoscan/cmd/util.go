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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/iafan/cwalk"
	"github.com/klauspost/pgzip"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"
	"github.com/twotwotwo/sorts"
)

// Options contains the global flags
type Options struct {
	NumCPUs int
	Verbose bool

	LogFile  string
	Log2File bool

	CompressionLevel int
}

func getOptions(cmd *cobra.Command) *Options {
	threads := getFlagNonNegativeInt(cmd, "threads")
	if threads == 0 {
		threads = runtime.NumCPU()
	}

	sorts.MaxProcs = threads
	runtime.GOMAXPROCS(threads)

	logfile := getFlagString(cmd, "log")
	return &Options{
		NumCPUs: threads,
		Verbose: !getFlagBool(cmd, "quiet"),

		LogFile:  logfile,
		Log2File: logfile != "",

		CompressionLevel: -1,
	}
}

func isStdin(file string) bool {
	return file == "-"
}

// expandPath expands "~" and checks if the file exists.
func expandPath(file string) (string, error) {
	file, err := homedir.Expand(file)
	if err != nil {
		return "", err
	}
	if isStdin(file) {
		return file, nil
	}
	ok, err := pathutil.Exists(file)
	if err != nil {
		return "", errors.Wrap(err, file)
	}
	if !ok {
		return "", fmt.Errorf("file not found: %s", file)
	}
	return file, nil
}

// outStream returns a buffered writer, with a gzip writer for .gz files.
func outStream(file string, gzipped bool, level int) (*bufio.Writer, io.WriteCloser, *os.File, error) {
	var w *os.File
	if isStdin(file) {
		w = os.Stdout
	} else {
		dir := filepath.Dir(file)
		fi, err := os.Stat(dir)
		if err == nil && !fi.IsDir() {
			return nil, nil, nil, fmt.Errorf("can not write file into a non-directory path: %s", dir)
		}
		if os.IsNotExist(err) {
			if err = os.MkdirAll(dir, 0755); err != nil {
				return nil, nil, nil, err
			}
		}
		w, err = os.Create(file)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("fail to write %s: %s", file, err)
		}
	}

	if gzipped {
		gw, err := pgzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, nil, nil, err
		}
		return bufio.NewWriterSize(gw, os.Getpagesize()), gw, w, nil
	}
	return bufio.NewWriterSize(w, os.Getpagesize()), nil, w, nil
}

func getFileListFromDir(path string, pattern *regexp.Regexp, threads int) ([]string, error) {
	files := make([]string, 0, 64)
	ch := make(chan string, threads)
	done := make(chan int)
	go func() {
		for file := range ch {
			files = append(files, file)
		}
		done <- 1
	}()

	cwalk.NumWorkers = threads
	err := cwalk.WalkWithSymlinks(path, func(_path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && pattern.MatchString(info.Name()) {
			ch <- filepath.Join(path, _path)
		}
		return nil
	})
	close(ch)
	<-done
	if err != nil {
		return nil, err
	}

	// the walking order is random
	sort.Strings(files)
	return files, nil
}

var defaultExts = []string{".gz", ".xz", ".zst", ".bz"}

func filepathTrimExtension(file string, suffixes []string) (string, string, string) {
	if suffixes == nil {
		suffixes = defaultExts
	}

	var e, e1, e2 string
	f := strings.ToLower(file)
	for _, s := range suffixes {
		e = s
		if strings.HasSuffix(f, e) {
			e2 = e
			file = file[0 : len(file)-len(e)]
			break
		}
	}

	e1 = filepath.Ext(file)
	name := file[0 : len(file)-len(e1)]

	return name, e1, e2
}

func stringSplitNByByte(s string, sep byte, n int, a *[]string) {
	if a == nil {
		tmp := make([]string, n)
		a = &tmp
	}

	n--
	i := 0
	for i < n {
		m := strings.IndexByte(s, sep)
		if m < 0 {
			break
		}
		(*a)[i] = s[:m]
		s = s[m+1:]
		i++
	}
	(*a)[i] = s

	(*a) = (*a)[:i+1]
}

// readChromSizes reads a two-column file of chromosome names and sizes.
func readChromSizes(file string) (map[string]int, error) {
	kvs, err := readKVs(file, false)
	if err != nil {
		return nil, err
	}
	sizes := make(map[string]int, len(kvs))
	for chrom, v := range kvs {
		size, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || size <= 0 {
			return nil, fmt.Errorf("invalid size of %s in %s: %s", chrom, file, v)
		}
		sizes[chrom] = size
	}
	return sizes, nil
}

func readKVs(file string, ignoreCase bool) (map[string]string, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, err
	}

	m := make(map[string]string, 64)

	items := make([]string, 2)
	scanner := bufio.NewScanner(fh)
	var line string
	for scanner.Scan() {
		line = strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" || line[0] == '#' {
			continue
		}

		stringSplitNByByte(line, '\t', 2, &items)
		if len(items) < 2 {
			continue
		}

		if ignoreCase {
			m[strings.ToLower(items[0])] = items[1]
		} else {
			m[items[0]] = items[1]
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, err
	}

	return m, fh.Close()
}

func getFlagString(cmd *cobra.Command, flag string) string {
	value, err := cmd.Flags().GetString(flag)
	checkError(err)
	return value
}

func getFlagStringSlice(cmd *cobra.Command, flag string) []string {
	value, err := cmd.Flags().GetStringSlice(flag)
	checkError(err)
	return value
}

func getFlagIntSlice(cmd *cobra.Command, flag string) []int {
	value, err := cmd.Flags().GetIntSlice(flag)
	checkError(err)
	return value
}

func getFlagBool(cmd *cobra.Command, flag string) bool {
	value, err := cmd.Flags().GetBool(flag)
	checkError(err)
	return value
}

func getFlagPositiveInt(cmd *cobra.Command, flag string) int {
	value, err := cmd.Flags().GetInt(flag)
	checkError(err)
	if value <= 0 {
		checkError(fmt.Errorf("value of flag --%s should be greater than 0", flag))
	}
	return value
}

func getFlagNonNegativeInt(cmd *cobra.Command, flag string) int {
	value, err := cmd.Flags().GetInt(flag)
	checkError(err)
	if value < 0 {
		checkError(fmt.Errorf("value of flag --%s should be greater than or equal to 0", flag))
	}
	return value
}

func getFlagFloat64(cmd *cobra.Command, flag string) float64 {
	value, err := cmd.Flags().GetFloat64(flag)
	checkError(err)
	return value
}

func getFlagNonNegativeFloat64(cmd *cobra.Command, flag string) float64 {
	value, err := cmd.Flags().GetFloat64(flag)
	checkError(err)
	if value < 0 {
		checkError(fmt.Errorf("value of flag --%s should be greater than or equal to 0", flag))
	}
	return value
}

func getFlagDuration(cmd *cobra.Command, flag string) time.Duration {
	value, err := cmd.Flags().GetDuration(flag)
	checkError(err)
	return value
}
