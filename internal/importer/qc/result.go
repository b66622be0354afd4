package qc

import (
	"math"
	"strconv"
	"strings"

	"github.com/varfish-case-importer/internal/domain"
)

// Sample is an individual as named in the pedigree and inside a QC file.
type Sample struct {
	Name     string
	FileName string
}

// Input are the samples a parser may attribute rows to. Per-individual parsers
// receive exactly one sample.
type Input struct {
	Samples []Sample
}

// sample returns the single sample of a per-individual input.
func (in Input) sample() Sample {
	if len(in.Samples) == 0 {
		return Sample{}
	}
	return in.Samples[0]
}

// byFileName maps a file-local sample name back to the pedigree name.
func (in Input) byFileName(name string) (string, bool) {
	for _, s := range in.Samples {
		if s.FileName == name {
			return s.Name, true
		}
	}
	return "", false
}

// Result holds the rows parsed from one file. Category and region are filled
// in by the importer; a histogram Category, if set, is appended to the file
// category to tell several histograms of one file apart.
type Result struct {
	Metrics    []domain.QCMetric
	Histograms []domain.QCHistogram
}

func (r *Result) metric(sample, section, name, raw string, percent *float64) {
	value, text := parseValue(raw)
	r.Metrics = append(r.Metrics, domain.QCMetric{
		Sample:  sample,
		Section: section,
		Name:    strings.TrimSpace(name),
		Value:   value,
		Percent: percent,
		Text:    text,
	})
}

// histogram returns the histogram for (sample, sub), creating it on first use.
func (r *Result) histogram(sample, sub string) *domain.QCHistogram {
	for i := range r.Histograms {
		if r.Histograms[i].Sample == sample && r.Histograms[i].Category == sub {
			return &r.Histograms[i]
		}
	}
	r.Histograms = append(r.Histograms, domain.QCHistogram{
		Sample:   sample,
		Category: sub,
		Keys:     domain.StringList{},
		Values:   domain.FloatList{},
	})
	return &r.Histograms[len(r.Histograms)-1]
}

// parseValue returns raw as a number, or as text if it is not a finite number.
func parseValue(raw string) (*float64, string) {
	raw = strings.TrimSpace(raw)
	if f, ok := parseNumber(raw); ok {
		return &f, ""
	}
	return nil, raw
}

func parseNumber(raw string) (float64, bool) {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "%")
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func parsePercent(raw string) *float64 {
	if f, ok := parseNumber(raw); ok {
		return &f
	}
	return nil
}
