package app

import (
	"strings"
	"time"

	"github.com/wrfhydro/snoweval/internal/discovery"
)

// ReadProduct is one way of reading model and reference snow fields.
type ReadProduct struct {
	Point  bool
	Basin  bool
	Snodas bool
	Kind   string
}

// NeedsMask reports whether the read aggregates to basins.
func (p ReadProduct) NeedsMask() bool { return p.Basin }

// NeedsObservations reports whether the read samples the model at observation points.
func (p ReadProduct) NeedsObservations() bool { return p.Point }

var readProducts = map[int]ReadProduct{
	1: {Point: true, Kind: "SNOW_POINT_MODEL"},
	2: {Point: true, Snodas: true, Kind: "SNOW_POINT_MODEL_SNODAS"},
	3: {Point: true, Basin: true, Kind: "SNOW_BASIN_MODEL"},
	4: {Point: true, Basin: true, Snodas: true, Kind: "SNOW_BASIN_MODEL_SNODAS"},
	5: {Basin: true, Kind: "SNOW_BASIN_ONLY_MODEL"},
	6: {Basin: true, Snodas: true, Kind: "SNOW_BASIN_ONLY_MODEL_SNODAS"},
}

// LookupRead returns the read product for flag 1 through 6.
func LookupRead(flag int) (ReadProduct, bool) {
	p, ok := readProducts[flag]
	return p, ok
}

// AnalysisProduct is one snow analysis of previously read datasets.
type AnalysisProduct struct {
	Kind   string
	Point  bool
	Region bool
	Plot   bool
	// Needs is the read product kind the analysis consumes.
	Needs string
	// Stream analyses also consume a streamflow read file.
	Stream bool
}

// Streamflow read file kinds, in the order they are tried.
var streamKinds = []string{"FRXST", "CHRTOUT"}

var analysisProducts = map[int]AnalysisProduct{
	1:  {Kind: "PT_SNOW_STAT", Point: true, Needs: "SNOW_POINT_MODEL"},
	3:  {Kind: "PT_SNOW_SNODAS_STAT", Point: true, Needs: "SNOW_POINT_MODEL_SNODAS"},
	5:  {Kind: "PT_SNOW_BAS_STAT", Point: true, Region: true, Needs: "SNOW_BASIN_MODEL"},
	7:  {Kind: "PT_SNOW_SNODAS_BAS_STAT", Point: true, Region: true, Needs: "SNOW_BASIN_MODEL_SNODAS"},
	9:  {Kind: "SNOW_SNODAS_BAS_STAT", Region: true, Needs: "SNOW_BASIN_MODEL_SNODAS"},
	11: {Kind: "SNOW_SNODAS_BAS_STREAM_STAT", Region: true, Needs: "SNOW_BASIN_MODEL_SNODAS", Stream: true},
}

// LookupAnalysis returns the analysis for flag 1 through 12. Even flags are the odd
// analysis below them with plotting turned on.
func LookupAnalysis(flag int) (AnalysisProduct, bool) {
	if flag < 1 || flag > 12 {
		return AnalysisProduct{}, false
	}
	p, ok := analysisProducts[flag-(1-flag%2)]
	if !ok {
		return AnalysisProduct{}, false
	}
	p.Plot = flag%2 == 0
	return p, true
}

// productTags are the file name tags of a product for a set of project aliases.
func productTags(aliases []string, kind string) []string {
	return append(append([]string(nil), aliases...), strings.Split(kind, "_")...)
}

// productName names a read or statistics file for the analysis window.
func productName(start, end time.Time, aliases []string, kind string) string {
	return discovery.Name(start, end, productTags(aliases, kind), discovery.DefaultExt)
}
