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
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/chromoscan/chromoscan/kernel"
	"github.com/shenwei356/chromoscan/chromoscan/matrix"
	"github.com/shenwei356/chromoscan/chromoscan/scan"
	"github.com/shenwei356/xopen"
)

// ContactStats records numbers of lines in a contact file.
type ContactStats struct {
	Lines   int
	Intra   int
	Inter   int // inter-chromosomal contacts are ignored
	Skipped int // contacts of unselected chromosomes
}

// readContacts reads contacts in the bg2 format, which could be dumped
// with "cooler dump --join":
//
//	chrom1  start1  end1  chrom2  start2  end2  value
//
// Only intra-chromosomal contacts are kept. The matrix size of a chromosome
// is computed from its size if given, or the largest bin.
// Chromosomes with invalid data are reported in errs.
func readContacts(file string, binSize int, sizes map[string]int, only map[string]bool) (regions []scan.Region, stats *ContactStats, errs []error, err error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, nil, nil, err
	}
	defer fh.Close()

	stats = &ContactStats{}
	data := make(map[string][]matrix.Contact, 32)
	maxBins := make(map[string]int, 32)
	var chroms []string

	items := make([]string, 8)
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<20)
	var line, chrom string
	var start1, start2, row, col int
	var value float64
	var ok bool
	for scanner.Scan() {
		stats.Lines++
		line = strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" || line[0] == '#' {
			continue
		}

		stringSplitNByByte(line, '\t', 8, &items)
		if len(items) < 7 {
			return nil, nil, nil, fmt.Errorf("%s: line %d: 7 columns expected: %s", file, stats.Lines, line)
		}
		if items[0] == "chrom1" { // header line
			continue
		}
		if items[0] != items[3] {
			stats.Inter++
			continue
		}
		chrom = items[0]
		if only != nil && !only[chrom] {
			stats.Skipped++
			continue
		}

		start1, err = strconv.Atoi(items[1])
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s: line %d: invalid start1: %s", file, stats.Lines, items[1])
		}
		start2, err = strconv.Atoi(items[4])
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s: line %d: invalid start2: %s", file, stats.Lines, items[4])
		}
		value, err = strconv.ParseFloat(strings.TrimSpace(items[6]), 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s: line %d: invalid value: %s", file, stats.Lines, items[6])
		}

		row, col = start1/binSize, start2/binSize
		if _, ok = data[chrom]; !ok {
			chroms = append(chroms, chrom)
		}
		data[chrom] = append(data[chrom], matrix.Contact{Row: row, Col: col, Value: value})
		maxBins[chrom] = max(maxBins[chrom], row, col)
		stats.Intra++
	}
	if err = scanner.Err(); err != nil {
		return nil, nil, nil, err
	}

	var m *matrix.ContactMatrix
	var n, size int
	for _, chrom = range chroms {
		n = maxBins[chrom] + 1
		if size, ok = sizes[chrom]; ok {
			n = (size + binSize - 1) / binSize
		}
		m, err = matrix.New(chrom, binSize, n, data[chrom])
		delete(data, chrom)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		regions = append(regions, scan.Region{Chrom: chrom, Matrix: m})
	}
	return regions, stats, errs, nil
}

var reKernelFile = regexp.MustCompile(`\.toml$`)

// loadKernels creates a library from preset names, TOML files and
// TOML files in a directory. Invalid kernels are reported in errs.
func loadKernels(names []string, dir string, threads int) (lib *kernel.Library, errs []error, err error) {
	var files []string
	if dir != "" {
		if dir, err = expandPath(dir); err != nil {
			return nil, nil, err
		}
		if files, err = getFileListFromDir(dir, reKernelFile, threads); err != nil {
			return nil, nil, errors.Wrapf(err, "walking %s", dir)
		}
	}

	lib = kernel.NewLibrary()
	add := func(k *kernel.Kernel) {
		if _, err := lib.Add(k); err != nil {
			errs = append(errs, err)
		}
	}

	var ks []*kernel.Kernel
	for _, name := range names {
		if k, err := kernel.Preset(name); err == nil {
			add(k)
			continue
		} else if !errors.Is(err, kernel.ErrUnknownPreset) {
			return nil, nil, err
		}

		file, err := expandPath(name)
		if err != nil {
			return nil, nil, fmt.Errorf("neither a preset kernel (%s) nor an existing file: %s",
				strings.Join(kernel.PresetNames(), ", "), name)
		}
		files = append(files, file)
	}

	var base string
	for _, file := range files {
		base, _, _ = filepathTrimExtension(filepath.Base(file), nil)
		ks, err = kernel.LoadFile(file, base)
		if err != nil {
			errs = append(errs, errors.Wrap(err, file))
			continue
		}
		for _, k := range ks {
			add(k)
		}
	}

	if lib.Len() == 0 {
		return nil, errs, fmt.Errorf("no valid kernels given")
	}
	return lib, errs, nil
}
