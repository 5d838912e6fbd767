// Package runtime hands an evaluation run to the external statistical runtime. Run
// parameters are written as one typed document, JSON by default or MessagePack on request,
// and the runtime command receives the path of that document.
package runtime

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Format is the encoding of a parameter file.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat accepts "json", "msgpack" or "" (JSON).
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatMsgpack:
		return FormatMsgpack, nil
	default:
		return "", fmt.Errorf("unknown parameter format %q. Use 'json' or 'msgpack'", s)
	}
}

// Ext returns the file extension for f.
func (f Format) Ext() string {
	if f == FormatMsgpack {
		return ".msgpack"
	}
	return ".json"
}

// FormatOf returns the format implied by a parameter file's extension.
func FormatOf(path string) Format {
	if strings.HasSuffix(path, FormatMsgpack.Ext()) {
		return FormatMsgpack
	}
	return FormatJSON
}

// Params is everything the runtime needs for one run. Times are UTC and encode as RFC 3339
// in JSON.
type Params struct {
	RunID   string `json:"runId"`
	JobDir  string `json:"jobDir"`
	TmpDir  string `json:"tmpDir"`
	StatDir string `json:"statDir"`
	PlotDir string `json:"plotDir"`

	Aliases        []string `json:"aliases"`
	Tags           []string `json:"tags"`
	ModelPaths     []string `json:"modelPaths"`
	ForcingPaths   []string `json:"forcingPaths"`
	Ensembles      []string `json:"ensembles,omitempty"`
	EnsembleTags   []string `json:"ensembleTags,omitempty"`
	ReadEnsemble   bool     `json:"readEnsemble"`
	GeoFile        string   `json:"geoFile"`
	FullDomFile    string   `json:"fullDomFile,omitempty"`
	RouteLinkFile  string   `json:"routeLinkFile,omitempty"`
	ReachRouting   bool     `json:"reachRouting"`
	MaskFile       string   `json:"maskFile,omitempty"`
	BasinMaskFile  string   `json:"basinMaskFile,omitempty"`
	BasinSubFile   string   `json:"basinSubFile,omitempty"`
	GeoResolution  float64  `json:"geoResolution"`
	Aggregation    int      `json:"aggregation"`
	PadSteps       int      `json:"padSteps"`
	SnodasPath     string   `json:"snodasPath,omitempty"`
	ObservationsNC string   `json:"observationsFile,omitempty"`
	PointObsFile   string   `json:"pointObsFile,omitempty"`

	AnalysisStart time.Time `json:"analysisStart"`
	AnalysisEnd   time.Time `json:"analysisEnd"`

	Read     *ReadParams     `json:"read,omitempty"`
	Analysis *AnalysisParams `json:"analysis,omitempty"`
}

// ReadParams selects which snow datasets the runtime reads and where it saves them.
type ReadParams struct {
	Product    int    `json:"product"`
	Point      bool   `json:"point"`
	Basin      bool   `json:"basin"`
	Snodas     bool   `json:"snodas"`
	OutputPath string `json:"outputPath"`
}

// AnalysisParams selects the snow analysis and the read files it consumes.
type AnalysisParams struct {
	Product        int    `json:"product"`
	Point          bool   `json:"point"`
	Region         bool   `json:"region"`
	Plot           bool   `json:"plot"`
	OutputPath     string `json:"outputPath"`
	SnowReadFile   string `json:"snowReadFile"`
	StreamReadFile string `json:"streamReadFile,omitempty"`
}

// Encode writes p to w in format f.
func Encode(w io.Writer, p *Params, f Format) error {
	switch f {
	case FormatMsgpack:
		encoder := msgpack.NewEncoder(w)
		encoder.SetCustomStructTag("json")
		return encoder.Encode(p)
	case "", FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(p)
	default:
		return fmt.Errorf("unknown parameter format %q", f)
	}
}

// Decode reads parameters written by Encode.
func Decode(r io.Reader, f Format) (*Params, error) {
	var p Params
	switch f {
	case FormatMsgpack:
		decoder := msgpack.NewDecoder(r)
		decoder.SetCustomStructTag("json")
		if err := decoder.Decode(&p); err != nil {
			return nil, err
		}
	case "", FormatJSON:
		if err := json.NewDecoder(r).Decode(&p); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown parameter format %q", f)
	}
	return &p, nil
}

// WriteParamFile encodes p into a new file at path. An existing file is an error.
func WriteParamFile(path string, p *Params, f Format) (err error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create parameter file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	if err := Encode(file, p, f); err != nil {
		return fmt.Errorf("failed to encode parameter file %s: %w", path, err)
	}
	return nil
}

// ReadParamFile decodes the parameter file at path.
func ReadParamFile(path string, f Format) (*Params, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Decode(file, f)
}
