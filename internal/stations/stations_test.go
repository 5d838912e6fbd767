package stations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMetadata() []Metadata {
	return []Metadata{
		{UniqueID: 1, Networks: ParseNetworks("A, B,C"), DisplayID: "SNOTEL:301", Latitude: 40.1, Longitude: -105.2},
		{UniqueID: 2, Networks: ParseNetworks("D"), DisplayID: "COOP:0042", Latitude: 41.0, Longitude: -106.0},
		{UniqueID: 3, Networks: ParseNetworks("BB"), DisplayID: "GHCN:9", Latitude: 42.0, Longitude: -107.0},
		{UniqueID: 1, Networks: ParseNetworks("A"), DisplayID: "SNOTEL:301", Latitude: 99, Longitude: 99},
	}
}

func TestParseNetworks(t *testing.T) {
	assert.Equal(t, []string{"A", "B", "C"}, ParseNetworks("A, B,C"))
	assert.Equal(t, []string{"A"}, ParseNetworks(" A ,, "))
	assert.Nil(t, ParseNetworks(""))
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name string
		sub  Subsetting
		want []int64
	}{
		{name: "no subsetting keeps all", sub: Subsetting{}, want: []int64{1, 2, 3}},
		{name: "network token match", sub: Subsetting{Networks: []string{"B"}}, want: []int64{1}},
		{name: "network not present", sub: Subsetting{Networks: []string{"E"}}, want: nil},
		{name: "network is not a substring match", sub: Subsetting{Networks: []string{"BB"}}, want: []int64{3}},
		{name: "any requested network", sub: Subsetting{Networks: []string{"D", "C"}}, want: []int64{1, 2}},
		{name: "station by unique id", sub: Subsetting{Stations: []string{"2"}}, want: []int64{2}},
		{name: "station by display id", sub: Subsetting{Stations: []string{"GHCN:9"}}, want: []int64{3}},
		{name: "exact mode ignores partial ids", sub: Subsetting{Stations: []string{"SNOTEL"}}, want: nil},
		{
			name: "legacy substring mode",
			sub:  Subsetting{Stations: []string{"SNOTEL"}, Mode: MatchLegacySubstring},
			want: []int64{1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(testMetadata(), tt.sub)
			assert.Equal(t, len(tt.want), got.Len())
			for _, id := range tt.want {
				assert.True(t, got.Has(id), "expected station %d retained", id)
			}
		})
	}
}

func TestRetainDeduplicates(t *testing.T) {
	md := testMetadata()
	kept := Retain(md, Filter(md, Subsetting{Networks: []string{"A"}}))
	require.Len(t, kept, 1)
	assert.Equal(t, int64(1), kept[0].UniqueID)
	assert.InDelta(t, 40.1, kept[0].Latitude, 1e-9, "first occurrence wins")
}

func TestValidate(t *testing.T) {
	err := Subsetting{Networks: []string{"A"}, Stations: []string{"1"}}.Validate()
	require.ErrorIs(t, err, ErrValidation)
	require.NoError(t, Subsetting{Networks: []string{"A"}}.Validate())
	require.NoError(t, Subsetting{}.Validate())
}

func TestParseMatchMode(t *testing.T) {
	m, err := ParseMatchMode("")
	require.NoError(t, err)
	assert.Equal(t, MatchExact, m)

	m, err = ParseMatchMode("legacy-substring")
	require.NoError(t, err)
	assert.Equal(t, MatchLegacySubstring, m)

	_, err = ParseMatchMode("fuzzy")
	require.ErrorIs(t, err, ErrValidation)
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadSubsetFile(t *testing.T) {
	sub, err := LoadSubsetFile(writeFile(t, "nets.csv", "network\nSNOTEL\n COOP \n\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"SNOTEL", "COOP"}, sub.Networks)
	assert.Empty(t, sub.Stations)

	sub, err = LoadSubsetFile(writeFile(t, "stns.csv", "uniqueID,comment\n12,first\n14,second\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"12", "14"}, sub.Stations)

	_, err = LoadSubsetFile(writeFile(t, "bad.csv", "basin\n1\n"))
	require.ErrorIs(t, err, ErrValidation)

	_, err = LoadSubsetFile(writeFile(t, "empty.csv", "network\n"))
	require.ErrorIs(t, err, ErrValidation)
}

func TestLoadNetworksRequiresColumn(t *testing.T) {
	_, err := LoadNetworks(writeFile(t, "stns.csv", "uniqueID\n1\n"))
	require.ErrorIs(t, err, ErrValidation)

	nets, err := LoadNetworks(writeFile(t, "nets.csv", "network\nSNOTEL\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"SNOTEL"}, nets)
}
