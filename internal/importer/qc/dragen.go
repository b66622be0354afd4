package qc

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// readCSV returns all non-empty records of a DRAGEN CSV report. Lines starting
// with '#' are comments.
func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV: %w", err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		records = append(records, rec)
	}
}

// parseDragenMetrics reads the common "section,sample,name,value[,percent]"
// layout shared by most DRAGEN metric reports. A second column other than the
// sample name (e.g. a read group) is folded into the section.
func parseDragenMetrics(r io.Reader, in Input) (*Result, error) {
	records, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	sample := in.sample()
	res := &Result{}
	for i, rec := range records {
		if len(rec) < 4 {
			return nil, fmt.Errorf("line %d: expected at least 4 columns, got %d", i+1, len(rec))
		}
		section := strings.TrimSpace(rec[0])
		if sub := strings.TrimSpace(rec[1]); sub != "" && sub != sample.FileName {
			section += "/" + sub
		}
		var percent *float64
		if len(rec) > 4 {
			percent = parsePercent(rec[4])
		}
		res.metric(sample.Name, section, rec[2], rec[3], percent)
	}
	return res, nil
}

// parseDragenHetHomRatio reads per-contig het/hom ratios. The ratio is the
// last column and the contig the one before; header rows are skipped.
func parseDragenHetHomRatio(r io.Reader, in Input) (*Result, error) {
	records, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	for _, rec := range records {
		if len(rec) < 2 {
			continue
		}
		raw := rec[len(rec)-1]
		if _, ok := parseNumber(raw); !ok {
			continue
		}
		res.metric(in.sample().Name, "HET/HOM RATIO", rec[len(rec)-2], raw, nil)
	}
	return res, nil
}

// parseDragenCoverageHist reads the coarse coverage histogram, e.g.
// "PCT of bases in wgs with coverage [100x:inf),0.01".
func parseDragenCoverageHist(r io.Reader, in Input) (*Result, error) {
	records, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	hist := res.histogram(in.sample().Name, "")
	for i, rec := range records {
		if len(rec) != 2 {
			return nil, fmt.Errorf("line %d: expected 2 columns, got %d", i+1, len(rec))
		}
		value, ok := parseNumber(rec[1])
		if !ok {
			return nil, fmt.Errorf("line %d: invalid value %q", i+1, rec[1])
		}
		key := strings.TrimSpace(rec[0])
		if start := strings.LastIndex(key, "["); start >= 0 {
			key = key[start:]
		}
		hist.Keys = append(hist.Keys, key)
		hist.Values = append(hist.Values, value)
	}
	return res, nil
}

// parseDragenFineHist reads the per-depth histogram with a "Depth,Overall"
// header. The last bin may be open ended, e.g. "1000+".
func parseDragenFineHist(r io.Reader, in Input) (*Result, error) {
	records, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	hist := res.histogram(in.sample().Name, "")
	for i, rec := range records {
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: expected 2 columns, got %d", i+1, len(rec))
		}
		value, ok := parseNumber(rec[1])
		if !ok {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("line %d: invalid count %q", i+1, rec[1])
		}
		hist.Keys = append(hist.Keys, strings.TrimSpace(rec[0]))
		hist.Values = append(hist.Values, value)
	}
	return res, nil
}

// parseDragenOverallMeanCov reads "Average alignment coverage over <region>,<value>".
func parseDragenOverallMeanCov(r io.Reader, in Input) (*Result, error) {
	records, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	for i, rec := range records {
		if len(rec) != 2 {
			return nil, fmt.Errorf("line %d: expected 2 columns, got %d", i+1, len(rec))
		}
		res.metric(in.sample().Name, "MEAN COVERAGE", rec[0], rec[1], nil)
	}
	return res, nil
}

// parseDragenContigMeanCov reads "contig,aligned bases,mean coverage" rows.
func parseDragenContigMeanCov(r io.Reader, in Input) (*Result, error) {
	records, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	for i, rec := range records {
		if len(rec) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 columns, got %d", i+1, len(rec))
		}
		res.metric(in.sample().Name, "CONTIG MEAN COVERAGE", rec[0], rec[2], nil)
		res.metric(in.sample().Name, "CONTIG ALIGNED BASES", rec[0], rec[1], nil)
	}
	return res, nil
}

// parseDragenFragmentLengthHist demultiplexes the fragment length histogram.
// Each sample block starts with "#Sample: <name>" followed by a
// "FragmentLength,Count" header; blocks of unknown samples are ignored.
func parseDragenFragmentLengthHist(r io.Reader, in Input) (*Result, error) {
	res := &Result{}
	scanner := bufio.NewScanner(r)
	var (
		sample string
		known  bool
		line   int
	)
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		switch {
		case text == "":
			continue
		case strings.HasPrefix(text, "#Sample:"):
			sample, known = in.byFileName(strings.TrimSpace(strings.TrimPrefix(text, "#Sample:")))
			continue
		case strings.HasPrefix(text, "#"), !known:
			continue
		}

		key, raw, ok := strings.Cut(text, ",")
		if !ok {
			return nil, fmt.Errorf("line %d: expected 2 columns", line)
		}
		value, ok := parseNumber(raw)
		if !ok {
			// column header
			continue
		}
		hist := res.histogram(sample, "")
		hist.Keys = append(hist.Keys, strings.TrimSpace(key))
		hist.Values = append(hist.Values, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading fragment length histogram: %w", err)
	}
	return res, nil
}
