package main

import (
	"flag"
	"strings"
	"testing"

	"github.com/hazyhaar/censusgdb/pkg/geography"
	"github.com/hazyhaar/censusgdb/pkg/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYears(t *testing.T) {
	ys, err := parseYears("2020, 2015-2017,2016")
	require.NoError(t, err)
	assert.Equal(t, []int{2015, 2016, 2017, 2020}, ys)

	for _, bad := range []string{"twenty", "2020-2019", "2019-x"} {
		_, err := parseYears(bad)
		assert.Error(t, err, bad)
	}
}

func TestRequestFlags(t *testing.T) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	rf := addRequestFlags(fs)
	require.NoError(t, fs.Parse([]string{"-geo", "tract,county", "-vars", "B01001_001E, B19013_001E", "-dataset", "cr"}))

	reqs, err := rf.requests()
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, geography.Tract, reqs[0].Geography)
	assert.Equal(t, project.CRE, reqs[1].Dataset)
	assert.Equal(t, []string{"B01001_001E", "B19013_001E"}, reqs[1].Variables)

	require.NoError(t, fs.Parse([]string{"-dataset", "tl"}))
	_, err = rf.requests()
	assert.ErrorContains(t, err, "tl container")

	require.NoError(t, fs.Parse([]string{"-dataset", "acs", "-geo", "msa"}))
	_, err = rf.requests()
	assert.ErrorIs(t, err, geography.ErrUnsupported)

	require.NoError(t, fs.Parse([]string{"-vars", ""}))
	_, err = rf.requests()
	assert.ErrorContains(t, err, "-vars")
}

func TestGeoFlagListsParsableCodes(t *testing.T) {
	fs := flag.NewFlagSet("join", flag.ContinueOnError)
	addRequestFlags(fs)
	usage := fs.Lookup("geo").Usage
	for _, c := range geography.Codes() {
		assert.Contains(t, usage, string(c))
	}
	list := strings.TrimPrefix(usage, "comma-separated geographies: ")
	for _, name := range strings.Split(list, ", ") {
		_, err := geography.Parse(name)
		assert.NoError(t, err, name)
	}
}

func TestCommandsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, c := range commands {
		assert.False(t, seen[c.name], c.name)
		seen[c.name] = true
	}
	assert.Len(t, commands, 12)
}
