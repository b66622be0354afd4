package qc

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varfish-case-importer/internal/domain"
)

var zaphod = Input{Samples: []Sample{{Name: "Zaphod", FileName: "Z-01"}}}

var family = Input{Samples: []Sample{
	{Name: "Zaphod", FileName: "Z-01"},
	{Name: "Heinrich", FileName: "H-02"},
}}

// flat renders metrics as "sample|section|name=value" for comparison.
func flat(metrics []domain.QCMetric) []string {
	var out []string
	for _, m := range metrics {
		v := m.Text
		if m.Value != nil {
			v = strconv.FormatFloat(*m.Value, 'f', -1, 64)
		}
		out = append(out, m.Sample+"|"+m.Section+"|"+m.Name+"="+v)
	}
	return out
}

func TestParseDetailedType(t *testing.T) {
	assert.Equal(t, DragenMappingMetrics, ParseDetailedType("text/csv+x-dragen-mapping-metrics"))
	assert.Equal(t, DetailedType("x-variant-call-format"), ParseDetailedType("text/plain+x-bgzip+x-variant-call-format"))
	assert.Equal(t, DetailedType(""), ParseDetailedType("text/csv"))
	assert.Equal(t, DetailedType(""), ParseDetailedType("text/plain+gzip"))
	assert.Equal(t, "samtools-stats", SamtoolsStats.Category())
	assert.True(t, Supported(Cramino))
	assert.False(t, Supported("x-future-report"))
}

func TestParseDragenMetrics(t *testing.T) {
	data := `MAPPING/ALIGNING SUMMARY,,Total input reads,800000,100.00
MAPPING/ALIGNING SUMMARY,,Mapped reads,790000,98.75
MAPPING/ALIGNING PER RG,Z-01,Total reads in RG,800000,100.00
MAPPING/ALIGNING PER RG,RG_2,Total reads in RG,400000,50.00
PLOIDY ESTIMATION,,Ploidy estimation,XY
`
	res, err := parseDragenMetrics(strings.NewReader(data), zaphod)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Zaphod|MAPPING/ALIGNING SUMMARY|Total input reads=800000",
		"Zaphod|MAPPING/ALIGNING SUMMARY|Mapped reads=790000",
		"Zaphod|MAPPING/ALIGNING PER RG|Total reads in RG=800000",
		"Zaphod|MAPPING/ALIGNING PER RG/RG_2|Total reads in RG=400000",
		"Zaphod|PLOIDY ESTIMATION|Ploidy estimation=XY",
	}, flat(res.Metrics))
	require.NotNil(t, res.Metrics[1].Percent)
	assert.Equal(t, 98.75, *res.Metrics[1].Percent)
	assert.Nil(t, res.Metrics[4].Percent)

	_, err = parseDragenMetrics(strings.NewReader("COVERAGE SUMMARY,,Aligned bases\n"), zaphod)
	assert.Error(t, err)
}

func TestParseDragenHetHomRatio(t *testing.T) {
	res, err := parseDragenHetHomRatio(strings.NewReader("Contig,Het/Hom Ratio\nchr1,1.62\nchrX,0.01\n"), zaphod)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Zaphod|HET/HOM RATIO|chr1=1.62",
		"Zaphod|HET/HOM RATIO|chrX=0.01",
	}, flat(res.Metrics))
}

func TestParseDragenCoverageHist(t *testing.T) {
	data := `PCT of bases in wgs with coverage [100x:inf),0.01
PCT of bases in wgs with coverage [50x:100x),10.5
PCT of bases in wgs with coverage [0x:1x),0.8
`
	res, err := parseDragenCoverageHist(strings.NewReader(data), zaphod)
	require.NoError(t, err)
	require.Len(t, res.Histograms, 1)
	hist := res.Histograms[0]
	assert.Equal(t, "Zaphod", hist.Sample)
	assert.Equal(t, domain.StringList{"[100x:inf)", "[50x:100x)", "[0x:1x)"}, hist.Keys)
	assert.Equal(t, domain.FloatList{0.01, 10.5, 0.8}, hist.Values)

	_, err = parseDragenCoverageHist(strings.NewReader("PCT,abc\n"), zaphod)
	assert.Error(t, err)
}

func TestParseDragenFineHist(t *testing.T) {
	res, err := parseDragenFineHist(strings.NewReader("Depth,Overall\n0,1200\n1,300\n1000+,2\n"), zaphod)
	require.NoError(t, err)
	require.Len(t, res.Histograms, 1)
	assert.Equal(t, domain.StringList{"0", "1", "1000+"}, res.Histograms[0].Keys)
	assert.Equal(t, domain.FloatList{1200, 300, 2}, res.Histograms[0].Values)
}

func TestParseDragenMeanCov(t *testing.T) {
	res, err := parseDragenOverallMeanCov(strings.NewReader("Average alignment coverage over wgs,43.13\n"), zaphod)
	require.NoError(t, err)
	assert.Equal(t, []string{"Zaphod|MEAN COVERAGE|Average alignment coverage over wgs=43.13"}, flat(res.Metrics))

	res, err = parseDragenContigMeanCov(strings.NewReader("chr1,10733945000,43.12\nchrM,1900000,114.68\n"), zaphod)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Zaphod|CONTIG MEAN COVERAGE|chr1=43.12",
		"Zaphod|CONTIG ALIGNED BASES|chr1=10733945000",
		"Zaphod|CONTIG MEAN COVERAGE|chrM=114.68",
		"Zaphod|CONTIG ALIGNED BASES|chrM=1900000",
	}, flat(res.Metrics))
}

func TestParseDragenFragmentLengthHist(t *testing.T) {
	data := `#Sample: Z-01
FragmentLength,Count
1,0
2,10
#Sample: UNKNOWN
FragmentLength,Count
1,99
#Sample: H-02
FragmentLength,Count
1,5
`
	res, err := parseDragenFragmentLengthHist(strings.NewReader(data), family)
	require.NoError(t, err)
	require.Len(t, res.Histograms, 2)
	assert.Equal(t, "Zaphod", res.Histograms[0].Sample)
	assert.Equal(t, domain.StringList{"1", "2"}, res.Histograms[0].Keys)
	assert.Equal(t, domain.FloatList{0, 10}, res.Histograms[0].Values)
	assert.Equal(t, "Heinrich", res.Histograms[1].Sample)
	assert.Equal(t, domain.FloatList{5}, res.Histograms[1].Values)
}

func TestParseSamtoolsStats(t *testing.T) {
	data := "# This file was produced by samtools stats\n" +
		"SN\traw total sequences:\t1000\t# excluding supplementary\n" +
		"SN\taverage length:\t150\n" +
		"IS\t100\t5\t5\t0\t0\n" +
		"IS\t101\t7\t7\t0\t0\n" +
		"COV\t[1-1]\t1\t20\n" +
		"COV\t[2-2]\t2\t30\n" +
		"RL\t150\t1000\n"
	res, err := parseSamtoolsStats(strings.NewReader(data), zaphod)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Zaphod|SN|raw total sequences=1000",
		"Zaphod|SN|average length=150",
	}, flat(res.Metrics))
	require.Len(t, res.Histograms, 2)
	assert.Equal(t, "insert-size", res.Histograms[0].Category)
	assert.Equal(t, domain.FloatList{5, 7}, res.Histograms[0].Values)
	assert.Equal(t, "coverage", res.Histograms[1].Category)
	assert.Equal(t, domain.StringList{"[1-1]", "[2-2]"}, res.Histograms[1].Keys)
	assert.Equal(t, domain.FloatList{20, 30}, res.Histograms[1].Values)
}

func TestParseSamtoolsFlagstat(t *testing.T) {
	data := `1000 + 5 in total (QC-passed reads + QC-failed reads)
900 + 0 mapped (90.00% : N/A)
10 + 0 with mate mapped to a different chr
4 + 0 with mate mapped to a different chr (mapQ>=5)
`
	res, err := parseSamtoolsFlagstat(strings.NewReader(data), zaphod)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Zaphod|QC-passed|in total (QC-passed reads + QC-failed reads)=1000",
		"Zaphod|QC-failed|in total (QC-passed reads + QC-failed reads)=5",
		"Zaphod|QC-passed|mapped=900",
		"Zaphod|QC-failed|mapped=0",
		"Zaphod|QC-passed|with mate mapped to a different chr=10",
		"Zaphod|QC-failed|with mate mapped to a different chr=0",
		"Zaphod|QC-passed|with mate mapped to a different chr (mapQ>=5)=4",
		"Zaphod|QC-failed|with mate mapped to a different chr (mapQ>=5)=0",
	}, flat(res.Metrics))
	require.NotNil(t, res.Metrics[2].Percent)
	assert.Equal(t, 90.0, *res.Metrics[2].Percent)
	assert.Nil(t, res.Metrics[3].Percent)

	_, err = parseSamtoolsFlagstat(strings.NewReader("not flagstat\n"), zaphod)
	assert.Error(t, err)
}

func TestParseSamtoolsIdxstats(t *testing.T) {
	res, err := parseSamtoolsIdxstats(strings.NewReader("chr1\t248956422\t1000\t3\n*\t0\t0\t12\n"), zaphod)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Zaphod|mapped|chr1=1000",
		"Zaphod|unmapped|chr1=3",
		"Zaphod|mapped|*=0",
		"Zaphod|unmapped|*=12",
	}, flat(res.Metrics))
}

func TestParseBcftoolsStats(t *testing.T) {
	data := "# SN\t[2]id\t[3]key\t[4]value\n" +
		"SN\t0\tnumber of samples:\t3\n" +
		"SN\t0\tnumber of records:\t5000\n" +
		"# PSC\t[2]id\t[3]sample\t[4]nRefHom\t[5]nNonRefHom\t[6]nHets\n" +
		"PSC\t0\tZ-01\t100\t20\t30\n" +
		"PSC\t0\tX-99\t1\t2\t3\n" +
		"PSC\t0\tH-02\t110\t21\t31\n" +
		"DP\t0\t1\t10\t0.1\t0\t0\n" +
		"DP\t0\t2\t20\t0.2\t0\t0\n"
	res, err := parseBcftoolsStats(strings.NewReader(data), family)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"|SN|number of samples=3",
		"|SN|number of records=5000",
		"Zaphod|PSC|nRefHom=100",
		"Zaphod|PSC|nNonRefHom=20",
		"Zaphod|PSC|nHets=30",
		"Heinrich|PSC|nRefHom=110",
		"Heinrich|PSC|nNonRefHom=21",
		"Heinrich|PSC|nHets=31",
	}, flat(res.Metrics))
	require.Len(t, res.Histograms, 1)
	assert.Equal(t, "depth", res.Histograms[0].Category)
	assert.Equal(t, domain.FloatList{10, 20}, res.Histograms[0].Values)
}

func TestParseCramino(t *testing.T) {
	data := "File name\tzaphod.cram\nNumber of alignments\t123456\nYield [Gb]\t2.5\n"
	res, err := parseCramino(strings.NewReader(data), zaphod)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Zaphod|cramino|File name=zaphod.cram",
		"Zaphod|cramino|Number of alignments=123456",
		"Zaphod|cramino|Yield [Gb]=2.5",
	}, flat(res.Metrics))
}

func TestParseNGSBitsMappingQC(t *testing.T) {
	data := `<?xml version="1.0" encoding="ISO-8859-1"?>
<qcML version="0.0.8" xmlns="http://www.prime-xs.eu/ms/qcml">
  <runQuality ID="rq0001">
    <qualityParameter ID="QC:2000019" name="mapped read percentage" value="99.54" cvRef="QC"/>
    <qualityParameter ID="QC:2000025" name="target region read depth" value="120.3" cvRef="QC"/>
    <qualityParameter ID="QC:2000038" name="insert size" value="n/a" cvRef="QC"/>
  </runQuality>
</qcML>`
	res, err := parseNGSBitsMappingQC(strings.NewReader(data), zaphod)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Zaphod|QC:2000019|mapped read percentage=99.54",
		"Zaphod|QC:2000025|target region read depth=120.3",
		"Zaphod|QC:2000038|insert size=n/a",
	}, flat(res.Metrics))

	_, err = parseNGSBitsMappingQC(strings.NewReader("<qcML><runQuality>"), zaphod)
	assert.Error(t, err)
}
