package qc

import (
	"io"
	"strings"
)

// DetailedType is the "x-" suffix of a QC file MIME type, naming the tool and
// report that produced the file.
type DetailedType string

const (
	DragenCNVMetrics            DetailedType = "x-dragen-cnv-metrics"
	DragenFragmentLengthHist    DetailedType = "x-dragen-fragment-length-hist"
	DragenMappingMetrics        DetailedType = "x-dragen-mapping-metrics"
	DragenPloidyEstimation      DetailedType = "x-dragen-ploidy-estimation-metrics"
	DragenROHMetrics            DetailedType = "x-dragen-roh-metrics"
	DragenSVMetrics             DetailedType = "x-dragen-sv-metrics"
	DragenVCHetHomRatio         DetailedType = "x-dragen-vc-hethom-ratio-metrics"
	DragenVCMetrics             DetailedType = "x-dragen-vc-metrics"
	DragenWGSCoverageMetrics    DetailedType = "x-dragen-wgs-coverage-metrics"
	DragenWGSHist               DetailedType = "x-dragen-wgs-hist"
	DragenWGSFineHist           DetailedType = "x-dragen-wgs-fine-hist"
	DragenWGSOverallMeanCov     DetailedType = "x-dragen-wgs-overall-mean-cov"
	DragenWGSContigMeanCov      DetailedType = "x-dragen-wgs-contig-mean-cov"
	DragenRegionCoverageMetrics DetailedType = "x-dragen-region-coverage-metrics"
	DragenRegionHist            DetailedType = "x-dragen-region-hist"
	DragenRegionFineHist        DetailedType = "x-dragen-region-fine-hist"
	DragenRegionOverallMeanCov  DetailedType = "x-dragen-region-overall-mean-cov"
	DragenRegionContigMeanCov   DetailedType = "x-dragen-region-contig-mean-cov"
	SamtoolsStats               DetailedType = "x-samtools-stats"
	SamtoolsFlagstat            DetailedType = "x-samtools-flagstat"
	SamtoolsIdxstats            DetailedType = "x-samtools-idxstats"
	BcftoolsStats               DetailedType = "x-bcftools-stats"
	Cramino                     DetailedType = "x-cramino"
	NGSBitsMappingQC            DetailedType = "x-ngsbits-mappingqc"
)

// ParseDetailedType extracts the detailed type from a MIME type of the form
// "<base>+<x-detailed-type>". It returns "" if there is none.
func ParseDetailedType(mimeType string) DetailedType {
	i := strings.LastIndex(mimeType, "+")
	if i < 0 {
		return ""
	}
	suffix := strings.TrimSpace(mimeType[i+1:])
	if !strings.HasPrefix(suffix, "x-") {
		return ""
	}
	return DetailedType(suffix)
}

// Category is the name QC rows of this type are stored under.
func (t DetailedType) Category() string {
	return strings.TrimPrefix(string(t), "x-")
}

// scope tells which samples a parser gets to see.
type scope int

const (
	// perIndividual parsers read a file holding one sample.
	perIndividual scope = iota
	// perPedigree parsers demultiplex files holding several samples.
	perPedigree
)

type parseFunc func(r io.Reader, in Input) (*Result, error)

type handler struct {
	scope scope
	// regional rows are stored under the region named by the file.
	regional bool
	parse    parseFunc
}

// handlers maps every supported detailed type to its parser. Types not listed
// here are skipped by the importer.
var handlers = map[DetailedType]handler{
	DragenCNVMetrics:            {scope: perIndividual, parse: parseDragenMetrics},
	DragenFragmentLengthHist:    {scope: perPedigree, parse: parseDragenFragmentLengthHist},
	DragenMappingMetrics:        {scope: perIndividual, parse: parseDragenMetrics},
	DragenPloidyEstimation:      {scope: perIndividual, parse: parseDragenMetrics},
	DragenROHMetrics:            {scope: perIndividual, parse: parseDragenMetrics},
	DragenSVMetrics:             {scope: perIndividual, parse: parseDragenMetrics},
	DragenVCHetHomRatio:         {scope: perIndividual, parse: parseDragenHetHomRatio},
	DragenVCMetrics:             {scope: perIndividual, parse: parseDragenMetrics},
	DragenWGSCoverageMetrics:    {scope: perIndividual, parse: parseDragenMetrics},
	DragenWGSHist:               {scope: perIndividual, parse: parseDragenCoverageHist},
	DragenWGSFineHist:           {scope: perIndividual, parse: parseDragenFineHist},
	DragenWGSOverallMeanCov:     {scope: perIndividual, parse: parseDragenOverallMeanCov},
	DragenWGSContigMeanCov:      {scope: perIndividual, parse: parseDragenContigMeanCov},
	DragenRegionCoverageMetrics: {scope: perIndividual, regional: true, parse: parseDragenMetrics},
	DragenRegionHist:            {scope: perIndividual, regional: true, parse: parseDragenCoverageHist},
	DragenRegionFineHist:        {scope: perIndividual, regional: true, parse: parseDragenFineHist},
	DragenRegionOverallMeanCov:  {scope: perIndividual, regional: true, parse: parseDragenOverallMeanCov},
	DragenRegionContigMeanCov:   {scope: perIndividual, regional: true, parse: parseDragenContigMeanCov},
	SamtoolsStats:               {scope: perIndividual, parse: parseSamtoolsStats},
	SamtoolsFlagstat:            {scope: perIndividual, parse: parseSamtoolsFlagstat},
	SamtoolsIdxstats:            {scope: perIndividual, parse: parseSamtoolsIdxstats},
	BcftoolsStats:               {scope: perPedigree, parse: parseBcftoolsStats},
	Cramino:                     {scope: perIndividual, parse: parseCramino},
	NGSBitsMappingQC:            {scope: perIndividual, parse: parseNGSBitsMappingQC},
}

// Supported reports whether the importer has a parser for t.
func Supported(t DetailedType) bool {
	_, ok := handlers[t]
	return ok
}
