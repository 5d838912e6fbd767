// Package artifact writes and reads the NetCDF-4 snow observation file produced by an
// extraction.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/fhs/go-netcdf/netcdf"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wrfhydro/snoweval/internal/extract"
	"github.com/wrfhydro/snoweval/internal/stations"
)

// ErrAlreadyExists is returned when the output path is occupied. The existing file is
// left untouched.
var ErrAlreadyExists = errors.New("output file already exists")

// Dimension and variable names of the file.
const (
	DimStations = "numStations"
	DimSWE      = "numSweObs"
	DimSD       = "numSdObs"

	VarUniqueIDs = "ptUniqueIds"
	VarLatitude  = "ptLatitude"
	VarLongitude = "ptLongitude"
	VarSWE       = "sweObs"
	VarSWEIDs    = "sweObsIds"
	VarSWEDates  = "sweObsDates"
	VarSD        = "sdObs"
	VarSDIDs     = "sdObsIds"
	VarSDDates   = "sdObsDates"
)

// Fixed file metadata.
const (
	Institution = "National Center for Atmospheric Research"
	Comment     = "Observations originally provided by the Office of Water Prediction"
	ValueUnits  = "mm"
	DateUnits   = "hours since 1970-01-01T00:00:00Z"
)

// Series is one observation kind as stored in the file.
type Series struct {
	Values []float32
	IDs    []int32
	Hours  []int32
}

// Len returns the number of observations.
func (s Series) Len() int {
	return len(s.Values)
}

// Artifact is the content of an observation file.
type Artifact struct {
	UniqueIDs   []int32
	Latitudes   []float32
	Longitudes  []float32
	SWE         Series
	SnowDepth   Series
	Institution string
	Comment     string
}

// Write creates path holding the station arrays and both series. The file is built under a
// temporary name in the same directory and linked into place only when complete, so path
// either holds a full artifact or does not exist.
func Write(path string, md []stations.Metadata, swe, sd []extract.Record, logger *zap.SugaredLogger) error {
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to check output path %s: %w", path, err)
	}

	a, err := build(md, swe, sd)
	if err != nil {
		return err
	}

	for _, s := range []struct {
		kind string
		n    int
	}{{"SWE", a.SWE.Len()}, {"snow depth", a.SnowDepth.Len()}} {
		if s.n == 0 {
			logger.Infof("0 observations of kind %s found, writing empty %s series", s.kind, s.kind)
		}
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	defer os.Remove(tmp)

	if err := writeFile(tmp, a); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		return fmt.Errorf("failed to commit %s: %w", path, err)
	}

	logger.Infow("wrote observation file", "path", path,
		"stations", len(a.UniqueIDs), "swe", a.SWE.Len(), "snowDepth", a.SnowDepth.Len())
	return nil
}

func build(md []stations.Metadata, swe, sd []extract.Record) (*Artifact, error) {
	a := &Artifact{
		UniqueIDs:   make([]int32, len(md)),
		Latitudes:   make([]float32, len(md)),
		Longitudes:  make([]float32, len(md)),
		Institution: Institution,
		Comment:     Comment,
	}
	for i, m := range md {
		id, err := toInt32("station id", m.UniqueID)
		if err != nil {
			return nil, err
		}
		a.UniqueIDs[i] = id
		a.Latitudes[i] = float32(m.Latitude)
		a.Longitudes[i] = float32(m.Longitude)
	}

	var err error
	if a.SWE, err = toSeries(swe); err != nil {
		return nil, err
	}
	if a.SnowDepth, err = toSeries(sd); err != nil {
		return nil, err
	}
	return a, nil
}

func toSeries(recs []extract.Record) (Series, error) {
	s := Series{
		Values: make([]float32, len(recs)),
		IDs:    make([]int32, len(recs)),
		Hours:  make([]int32, len(recs)),
	}
	for i, r := range recs {
		id, err := toInt32("station id", r.StationID)
		if err != nil {
			return Series{}, err
		}
		h, err := toInt32("hour offset", r.Hours)
		if err != nil {
			return Series{}, err
		}
		s.Values[i] = float32(r.Value)
		s.IDs[i] = id
		s.Hours[i] = h
	}
	return s, nil
}

func toInt32(what string, v int64) (int32, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%s %d does not fit in a 32-bit integer", what, v)
	}
	return int32(v), nil
}

type seriesVars struct {
	values, ids, dates netcdf.Var
}

func writeFile(path string, a *Artifact) (err error) {
	ds, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ds.Close(); err == nil {
			err = cerr
		}
	}()

	stnDim, err := ds.AddDim(DimStations, uint64(len(a.UniqueIDs)))
	if err != nil {
		return err
	}
	ids, err := ds.AddVar(VarUniqueIDs, netcdf.INT, []netcdf.Dim{stnDim})
	if err != nil {
		return err
	}
	lat, err := ds.AddVar(VarLatitude, netcdf.FLOAT, []netcdf.Dim{stnDim})
	if err != nil {
		return err
	}
	lon, err := ds.AddVar(VarLongitude, netcdf.FLOAT, []netcdf.Dim{stnDim})
	if err != nil {
		return err
	}

	sweVars, err := defineSeries(ds, DimSWE, VarSWE, VarSWEIDs, VarSWEDates, a.SWE.Len())
	if err != nil {
		return err
	}
	sdVars, err := defineSeries(ds, DimSD, VarSD, VarSDIDs, VarSDDates, a.SnowDepth.Len())
	if err != nil {
		return err
	}

	if err := ds.Attr("institution").WriteBytes([]byte(a.Institution)); err != nil {
		return err
	}
	if err := ds.Attr("comment").WriteBytes([]byte(a.Comment)); err != nil {
		return err
	}

	if err := ds.EndDef(); err != nil {
		return err
	}

	if err := writeInt32s(ids, a.UniqueIDs); err != nil {
		return err
	}
	if err := writeFloat32s(lat, a.Latitudes); err != nil {
		return err
	}
	if err := writeFloat32s(lon, a.Longitudes); err != nil {
		return err
	}
	if err := writeSeries(sweVars, a.SWE); err != nil {
		return err
	}
	return writeSeries(sdVars, a.SnowDepth)
}

// defineSeries adds the dimension and the three variables of one series. A zero-length
// dimension is created unlimited, which NetCDF-4 allows alongside other unlimited dimensions.
func defineSeries(ds netcdf.Dataset, dim, values, ids, dates string, n int) (seriesVars, error) {
	d, err := ds.AddDim(dim, uint64(n))
	if err != nil {
		return seriesVars{}, err
	}
	dims := []netcdf.Dim{d}

	var sv seriesVars
	if sv.values, err = ds.AddVar(values, netcdf.FLOAT, dims); err != nil {
		return seriesVars{}, err
	}
	if err := sv.values.Attr("units").WriteBytes([]byte(ValueUnits)); err != nil {
		return seriesVars{}, err
	}
	if sv.ids, err = ds.AddVar(ids, netcdf.INT, dims); err != nil {
		return seriesVars{}, err
	}
	if sv.dates, err = ds.AddVar(dates, netcdf.INT, dims); err != nil {
		return seriesVars{}, err
	}
	if err := sv.dates.Attr("units").WriteBytes([]byte(DateUnits)); err != nil {
		return seriesVars{}, err
	}
	return sv, nil
}

func writeSeries(sv seriesVars, s Series) error {
	if err := writeFloat32s(sv.values, s.Values); err != nil {
		return err
	}
	if err := writeInt32s(sv.ids, s.IDs); err != nil {
		return err
	}
	return writeInt32s(sv.dates, s.Hours)
}

// The netcdf bindings take the address of the first element, so empty slices are skipped.

func writeFloat32s(v netcdf.Var, data []float32) error {
	if len(data) == 0 {
		return nil
	}
	return v.WriteFloat32s(data)
}

func writeInt32s(v netcdf.Var, data []int32) error {
	if len(data) == 0 {
		return nil
	}
	return v.WriteInt32s(data)
}
