package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/wrfhydro/snoweval/internal/artifact"
)

func main() {
	var (
		showIDs = flag.Bool("ids", false, "Also list every station unique ID with its coordinates")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-ids] <SNOW_DB_OBS file>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	failed := false
	for _, path := range flag.Args() {
		if err := inspect(os.Stdout, path, *showIDs); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func inspect(w io.Writer, path string, showIDs bool) error {
	dims, err := artifact.Dims(path)
	if err != nil {
		return err
	}
	a, err := artifact.Read(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s\n", path)
	fmt.Fprintf(w, "  institution: %s\n", a.Institution)
	fmt.Fprintf(w, "  comment:     %s\n\n", a.Comment)

	fmt.Fprintf(w, "Dimensions:\n")
	for _, name := range []string{artifact.DimStations, artifact.DimSWE, artifact.DimSD} {
		fmt.Fprintf(w, "  %-12s %d\n", name, dims[name])
	}

	s := artifact.Summarize(a)
	fmt.Fprintf(w, "\n%-10s | %7s | %8s | %9s | %9s | %9s | %9s | %-16s | %-16s\n",
		"Series", "Obs", "Stations", "Mean", "StdDev", "Min", "Max", "First", "Last")
	fmt.Fprintf(w, "-----------+---------+----------+-----------+-----------+-----------+-----------+------------------+-----------------\n")
	for _, row := range []struct {
		name, variable string
		sum            artifact.SeriesSummary
	}{
		{"swe", artifact.VarSWE, s.SWE},
		{"snow depth", artifact.VarSD, s.SnowDepth},
	} {
		units, err := artifact.Units(path, row.variable)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%-10s | %7d | %8d | %9.2f | %9.2f | %9.2f | %9.2f | %-16s | %-16s  [%s]\n",
			row.name, row.sum.Count, row.sum.Stations, row.sum.Mean, row.sum.StdDev, row.sum.Min, row.sum.Max,
			formatHour(row.sum.First, row.sum.Count), formatHour(row.sum.Last, row.sum.Count), units)
	}

	if showIDs {
		fmt.Fprintf(w, "\nStations:\n")
		for i, id := range a.UniqueIDs {
			fmt.Fprintf(w, "  %10d  %9.4f  %10.4f\n", id, a.Latitudes[i], a.Longitudes[i])
		}
	}
	fmt.Fprintln(w)
	return nil
}

func formatHour(t time.Time, count int) string {
	if count == 0 {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}
