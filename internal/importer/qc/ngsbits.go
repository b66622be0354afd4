package qc

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// parseNGSBitsMappingQC reads the qcML document written by ngs-bits MappingQC.
// Each qualityParameter element becomes one metric, sectioned by its
// accession (e.g. "QC:2000025").
func parseNGSBitsMappingQC(r io.Reader, in Input) (*Result, error) {
	sample := in.sample().Name
	res := &Result{}
	decoder := xml.NewDecoder(r)
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading qcML: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "qualityParameter" {
			continue
		}
		var id, name, value string
		for _, attr := range start.Attr {
			switch attr.Name.Local {
			case "ID":
				id = attr.Value
			case "name":
				name = attr.Value
			case "value":
				value = attr.Value
			}
		}
		if name == "" {
			continue
		}
		res.metric(sample, id, name, value, nil)
	}
	return res, nil
}
