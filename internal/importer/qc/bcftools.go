package qc

import (
	"fmt"
	"io"
	"regexp"
	"strings"
)

var bcftoolsColumn = regexp.MustCompile(`^\[\d+\]`)

// default PSC columns after "PSC, id, sample"
var pscColumns = []string{
	"nRefHom", "nNonRefHom", "nHets", "nTransitions", "nTransversions", "nIndels",
	"average depth", "nSingletons", "nHapRef", "nHapAlt", "nMissing",
}

// parseBcftoolsStats reads "bcftools stats" output of a multi-sample VCF. The
// summary numbers (SN) and the depth distribution (DP) describe the whole file
// and are stored without a sample; per-sample counts (PSC) are attributed to
// the pedigree members and rows of unknown samples are dropped.
func parseBcftoolsStats(r io.Reader, in Input) (*Result, error) {
	res := &Result{}
	columns := pscColumns

	record := func(line int, f []string) error {
		switch f[0] {
		case "SN":
			if len(f) < 4 {
				return fmt.Errorf("line %d: short SN record", line)
			}
			res.metric("", "SN", strings.TrimSuffix(f[2], ":"), f[3], nil)
		case "DP":
			if len(f) < 4 {
				return fmt.Errorf("line %d: short DP record", line)
			}
			if err := appendBin(res, "", "depth", f[2], f[3]); err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
		case "PSC":
			if len(f) < 4 {
				return fmt.Errorf("line %d: short PSC record", line)
			}
			sample, ok := in.byFileName(f[2])
			if !ok {
				return nil
			}
			for i, raw := range f[3:] {
				if i >= len(columns) {
					break
				}
				res.metric(sample, "PSC", columns[i], raw, nil)
			}
		}
		return nil
	}

	header := func(h []string) {
		// "# PSC	[2]id	[3]sample	[4]nRefHom	..."
		if len(h) > 3 && strings.TrimSpace(strings.TrimPrefix(h[0], "#")) == "PSC" {
			columns = make([]string, 0, len(h)-3)
			for _, c := range h[3:] {
				columns = append(columns, bcftoolsColumn.ReplaceAllString(strings.TrimSpace(c), ""))
			}
		}
	}
	if err := scanLines(r, header, record); err != nil {
		return nil, fmt.Errorf("reading bcftools stats: %w", err)
	}
	return res, nil
}
