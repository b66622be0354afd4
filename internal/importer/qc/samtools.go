package qc

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// scanLines calls fn with the tab separated fields of every non-empty line.
// Comment lines go to comment instead, if it is not nil.
func scanLines(r io.Reader, comment func(fields []string), fn func(line int, fields []string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			if comment != nil {
				comment(strings.Split(text, "\t"))
			}
			continue
		}
		if err := fn(line, strings.Split(text, "\t")); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// parseSamtoolsStats reads the summary numbers (SN), the insert size
// histogram (IS) and the coverage histogram (COV) of "samtools stats".
func parseSamtoolsStats(r io.Reader, in Input) (*Result, error) {
	sample := in.sample().Name
	res := &Result{}
	err := scanLines(r, nil, func(line int, f []string) error {
		switch f[0] {
		case "SN":
			if len(f) < 3 {
				return fmt.Errorf("line %d: short SN record", line)
			}
			res.metric(sample, "SN", strings.TrimSuffix(f[1], ":"), f[2], nil)
		case "IS":
			if len(f) < 3 {
				return fmt.Errorf("line %d: short IS record", line)
			}
			if err := appendBin(res, sample, "insert-size", f[1], f[2]); err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
		case "COV":
			if len(f) < 4 {
				return fmt.Errorf("line %d: short COV record", line)
			}
			if err := appendBin(res, sample, "coverage", f[1], f[3]); err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading samtools stats: %w", err)
	}
	return res, nil
}

func appendBin(res *Result, sample, sub, key, raw string) error {
	value, ok := parseNumber(raw)
	if !ok {
		return fmt.Errorf("invalid count %q", raw)
	}
	hist := res.histogram(sample, sub)
	hist.Keys = append(hist.Keys, key)
	hist.Values = append(hist.Values, value)
	return nil
}

// "900 + 10 mapped (90.00% : N/A)"
var flagstatLine = regexp.MustCompile(`^(\d+) \+ (\d+) ([^(]+?)\s*(?:\(([^)]*)\))?$`)

// parseSamtoolsFlagstat reads the default text output of "samtools flagstat".
// Passed and failed counts are stored in separate sections.
func parseSamtoolsFlagstat(r io.Reader, in Input) (*Result, error) {
	sample := in.sample().Name
	res := &Result{}
	err := scanLines(r, nil, func(line int, f []string) error {
		text := strings.TrimSpace(strings.Join(f, " "))
		m := flagstatLine.FindStringSubmatch(text)
		if m == nil {
			return fmt.Errorf("line %d: unexpected flagstat line %q", line, text)
		}
		name := m[3]
		var passedPct, failedPct *float64
		if m[4] != "" {
			passed, failed, _ := strings.Cut(m[4], ":")
			passedPct = parsePercent(passed)
			failedPct = parsePercent(failed)
			if passedPct == nil && failedPct == nil {
				// e.g. "(mapQ>=5)" distinguishes two otherwise equal lines
				name += " (" + m[4] + ")"
			}
		}
		res.metric(sample, "QC-passed", name, m[1], passedPct)
		res.metric(sample, "QC-failed", name, m[2], failedPct)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading samtools flagstat: %w", err)
	}
	return res, nil
}

// parseSamtoolsIdxstats reads "contig, length, mapped, unmapped" rows.
func parseSamtoolsIdxstats(r io.Reader, in Input) (*Result, error) {
	sample := in.sample().Name
	res := &Result{}
	err := scanLines(r, nil, func(line int, f []string) error {
		if len(f) != 4 {
			return fmt.Errorf("line %d: expected 4 columns, got %d", line, len(f))
		}
		res.metric(sample, "mapped", f[0], f[2], nil)
		res.metric(sample, "unmapped", f[0], f[3], nil)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading samtools idxstats: %w", err)
	}
	return res, nil
}
