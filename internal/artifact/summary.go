package artifact

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SeriesSummary describes one observation series.
type SeriesSummary struct {
	Count    int
	Stations int
	Mean     float64
	StdDev   float64
	Min      float64
	Max      float64
	First    time.Time
	Last     time.Time
}

// Summary describes a whole artifact.
type Summary struct {
	Stations  int
	SWE       SeriesSummary
	SnowDepth SeriesSummary
}

// Summarize computes per-series statistics. Empty series summarize to zero values.
func Summarize(a *Artifact) Summary {
	return Summary{
		Stations:  len(a.UniqueIDs),
		SWE:       summarizeSeries(a.SWE),
		SnowDepth: summarizeSeries(a.SnowDepth),
	}
}

func summarizeSeries(s Series) SeriesSummary {
	n := s.Len()
	if n == 0 {
		return SeriesSummary{}
	}

	values := make([]float64, n)
	for i, v := range s.Values {
		values[i] = float64(v)
	}

	out := SeriesSummary{
		Count: n,
		Min:   floats.Min(values),
		Max:   floats.Max(values),
	}
	out.Mean, out.StdDev = stat.MeanStdDev(values, nil)

	seen := make(map[int32]struct{})
	first, last := s.Hours[0], s.Hours[0]
	for i, id := range s.IDs {
		seen[id] = struct{}{}
		first = min(first, s.Hours[i])
		last = max(last, s.Hours[i])
	}
	out.Stations = len(seen)
	out.First = HourTime(first)
	out.Last = HourTime(last)
	return out
}

// HourTime converts an hour offset back to a UTC time.
func HourTime(h int32) time.Time {
	return time.Unix(int64(h)*3600, 0).UTC()
}
