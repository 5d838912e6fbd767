package artifact

import (
	"fmt"

	"github.com/fhs/go-netcdf/netcdf"
)

// Read loads an observation file written by Write.
func Read(path string) (a *Artifact, err error) {
	ds, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		if cerr := ds.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	a = &Artifact{}
	if a.UniqueIDs, err = readInt32s(ds, VarUniqueIDs); err != nil {
		return nil, err
	}
	if a.Latitudes, err = readFloat32s(ds, VarLatitude); err != nil {
		return nil, err
	}
	if a.Longitudes, err = readFloat32s(ds, VarLongitude); err != nil {
		return nil, err
	}
	if a.SWE, err = readSeries(ds, VarSWE, VarSWEIDs, VarSWEDates); err != nil {
		return nil, err
	}
	if a.SnowDepth, err = readSeries(ds, VarSD, VarSDIDs, VarSDDates); err != nil {
		return nil, err
	}
	if a.Institution, err = readText(ds.Attr("institution")); err != nil {
		return nil, err
	}
	if a.Comment, err = readText(ds.Attr("comment")); err != nil {
		return nil, err
	}
	return a, nil
}

// Dims returns the length of each named dimension of the file at path.
func Dims(path string) (map[string]uint64, error) {
	ds, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer ds.Close()

	out := make(map[string]uint64, 3)
	for _, name := range []string{DimStations, DimSWE, DimSD} {
		d, err := ds.Dim(name)
		if err != nil {
			return nil, fmt.Errorf("dimension %s: %w", name, err)
		}
		n, err := d.Len()
		if err != nil {
			return nil, fmt.Errorf("dimension %s: %w", name, err)
		}
		out[name] = n
	}
	return out, nil
}

// Units returns the units attribute of a variable.
func Units(path, variable string) (string, error) {
	ds, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer ds.Close()

	v, err := ds.Var(variable)
	if err != nil {
		return "", fmt.Errorf("variable %s: %w", variable, err)
	}
	return readText(v.Attr("units"))
}

func readSeries(ds netcdf.Dataset, values, ids, dates string) (Series, error) {
	var s Series
	var err error
	if s.Values, err = readFloat32s(ds, values); err != nil {
		return Series{}, err
	}
	if s.IDs, err = readInt32s(ds, ids); err != nil {
		return Series{}, err
	}
	if s.Hours, err = readInt32s(ds, dates); err != nil {
		return Series{}, err
	}
	if len(s.IDs) != len(s.Values) || len(s.Hours) != len(s.Values) {
		return Series{}, fmt.Errorf("variables %s, %s and %s differ in length", values, ids, dates)
	}
	return s, nil
}

func readFloat32s(ds netcdf.Dataset, name string) ([]float32, error) {
	v, n, err := openVar(ds, name)
	if err != nil {
		return nil, err
	}
	buf := make([]float32, n)
	if n > 0 {
		if err := v.ReadFloat32s(buf); err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
	}
	return buf, nil
}

func readInt32s(ds netcdf.Dataset, name string) ([]int32, error) {
	v, n, err := openVar(ds, name)
	if err != nil {
		return nil, err
	}
	buf := make([]int32, n)
	if n > 0 {
		if err := v.ReadInt32s(buf); err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
	}
	return buf, nil
}

func openVar(ds netcdf.Dataset, name string) (netcdf.Var, uint64, error) {
	v, err := ds.Var(name)
	if err != nil {
		return netcdf.Var{}, 0, fmt.Errorf("variable %s: %w", name, err)
	}
	n, err := v.Len()
	if err != nil {
		return netcdf.Var{}, 0, fmt.Errorf("variable %s: %w", name, err)
	}
	return v, n, nil
}

func readText(a netcdf.Attr) (string, error) {
	n, err := a.Len()
	if err != nil {
		return "", fmt.Errorf("attribute %s: %w", a.Name(), err)
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if err := a.ReadBytes(buf); err != nil {
		return "", fmt.Errorf("attribute %s: %w", a.Name(), err)
	}
	return string(buf), nil
}
