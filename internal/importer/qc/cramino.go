package qc

import (
	"fmt"
	"io"
	"strings"
)

// parseCramino reads the "key<TAB>value" summary of cramino. Values that are
// not numbers, like the file name, are kept as text.
func parseCramino(r io.Reader, in Input) (*Result, error) {
	sample := in.sample().Name
	res := &Result{}
	err := scanLines(r, nil, func(line int, f []string) error {
		if len(f) < 2 {
			return fmt.Errorf("line %d: expected key and value", line)
		}
		res.metric(sample, "cramino", f[0], strings.Join(f[1:], "\t"), nil)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading cramino output: %w", err)
	}
	return res, nil
}
