// Package stations selects the observation stations an extraction keeps, from the snow
// database metadata table and an optional network or station subsetting list.
package stations

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrValidation is returned for conflicting or empty subsetting requests.
var ErrValidation = errors.New("invalid station subsetting")

// Metadata is one row of the station metadata table.
type Metadata struct {
	UniqueID  int64
	Networks  []string
	DisplayID string
	Latitude  float64
	Longitude float64
}

// MatchMode controls how station-list entries are compared with station identifiers.
type MatchMode int

const (
	// MatchExact retains a station when an entry equals its unique ID or display ID.
	MatchExact MatchMode = iota
	// MatchLegacySubstring retains a station when an entry occurs anywhere in its
	// display ID. Older extraction scripts behaved this way.
	MatchLegacySubstring
)

// ParseMatchMode accepts "exact", "legacy-substring" or "" (exact).
func ParseMatchMode(s string) (MatchMode, error) {
	switch s {
	case "", "exact":
		return MatchExact, nil
	case "legacy-substring":
		return MatchLegacySubstring, nil
	default:
		return MatchExact, fmt.Errorf("%w: unknown station match mode %q", ErrValidation, s)
	}
}

// Subsetting restricts extraction to a set of networks or a set of stations.
// At most one of the two lists may be set.
type Subsetting struct {
	Networks []string
	Stations []string
	Mode     MatchMode
}

// Validate rejects a request that names both networks and stations.
func (s Subsetting) Validate() error {
	if len(s.Networks) > 0 && len(s.Stations) > 0 {
		return fmt.Errorf("%w: choose either station subsetting or network subsetting", ErrValidation)
	}
	return nil
}

// Active reports whether any subsetting list is set.
func (s Subsetting) Active() bool {
	return len(s.Networks) > 0 || len(s.Stations) > 0
}

// RetainedSet is the set of station unique IDs kept by a filter.
type RetainedSet map[int64]struct{}

// Has reports whether id is in the set.
func (r RetainedSet) Has(id int64) bool {
	_, ok := r[id]
	return ok
}

// Len returns the number of retained stations.
func (r RetainedSet) Len() int {
	return len(r)
}

// ParseNetworks splits a comma-separated network membership field and trims each token.
// Empty tokens are dropped.
func ParseNetworks(field string) []string {
	if field == "" {
		return nil
	}
	parts := strings.Split(field, ",")
	networks := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			networks = append(networks, p)
		}
	}
	return networks
}

// Filter computes the retained station set. It assumes sub has already been validated;
// when both lists are present the network list takes precedence.
func Filter(metadata []Metadata, sub Subsetting) RetainedSet {
	retained := make(RetainedSet, len(metadata))

	switch {
	case len(sub.Networks) > 0:
		wanted := toSet(sub.Networks)
		for _, m := range metadata {
			for _, n := range m.Networks {
				if _, ok := wanted[n]; ok {
					retained[m.UniqueID] = struct{}{}
					break
				}
			}
		}
	case len(sub.Stations) > 0:
		wanted := toSet(sub.Stations)
		for _, m := range metadata {
			if stationMatches(m, sub.Stations, wanted, sub.Mode) {
				retained[m.UniqueID] = struct{}{}
			}
		}
	default:
		for _, m := range metadata {
			retained[m.UniqueID] = struct{}{}
		}
	}

	return retained
}

// Retain returns the metadata rows whose unique ID is in the set, de-duplicated by unique
// ID. The first occurrence wins and input order is kept.
func Retain(metadata []Metadata, retained RetainedSet) []Metadata {
	out := make([]Metadata, 0, retained.Len())
	seen := make(map[int64]struct{}, retained.Len())
	for _, m := range metadata {
		if !retained.Has(m.UniqueID) {
			continue
		}
		if _, dup := seen[m.UniqueID]; dup {
			continue
		}
		seen[m.UniqueID] = struct{}{}
		out = append(out, m)
	}
	return out
}

func stationMatches(m Metadata, entries []string, wanted map[string]struct{}, mode MatchMode) bool {
	if mode == MatchLegacySubstring {
		for _, e := range entries {
			if strings.Contains(m.DisplayID, e) {
				return true
			}
		}
		return false
	}

	if _, ok := wanted[strconv.FormatInt(m.UniqueID, 10)]; ok {
		return true
	}
	_, ok := wanted[m.DisplayID]
	return ok
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.TrimSpace(v)] = struct{}{}
	}
	return set
}
