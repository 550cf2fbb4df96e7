package geography

import (
	"errors"
	"testing"
)

var allCodes = []Code{
	County, CountySub, Tract, BlockGroup, Place, CongDist, ZCTA,
	SLDU, SLDL, UnifiedSD, ElemSD, SecondSD, UrbanArea, PUMA,
}

func TestEveryCodeHasShape(t *testing.T) {
	for _, c := range allCodes {
		s, err := Lookup(c)
		if err != nil {
			t.Errorf("Lookup(%s): %v", c, err)
			continue
		}
		if s.For == "" || len(s.FeatureCode) != 2 {
			t.Errorf("shape of %s incomplete: %+v", c, s)
		}
	}
	if got := len(Codes()); got != len(allCodes) {
		t.Errorf("Codes() has %d entries, want %d", got, len(allCodes))
	}
}

func TestClauses(t *testing.T) {
	tests := []struct {
		code    Code
		forWant string
		inWant  string
	}{
		{County, "county:059", "state:06"},
		{Tract, "tract:*", "state:06 county:059"},
		{BlockGroup, "block group:*", "state:06 county:059 tract:*"},
		{CountySub, "county subdivision:*", "state:06 county:059"},
		{Place, "place:*", "state:06"},
		{ZCTA, "zip code tabulation area:*", ""},
		{UrbanArea, "urban area:*", ""},
	}
	for _, tt := range tests {
		f, in, err := Clauses(tt.code, "06", "059")
		if err != nil {
			t.Fatalf("Clauses(%s): %v", tt.code, err)
		}
		if f != tt.forWant || in != tt.inWant {
			t.Errorf("Clauses(%s) = %q, %q", tt.code, f, in)
		}
	}
}

func TestUnsupported(t *testing.T) {
	if _, _, err := Clauses("msa", "06", "059"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Clauses(msa) err = %v, want ErrUnsupported", err)
	}
	if _, err := Parse("state"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Parse(state) err = %v", err)
	}
	if c, err := Parse(" Tract "); err != nil || c != Tract {
		t.Errorf("Parse(Tract) = %q, %v", c, err)
	}
}

func TestDefaultDenylist(t *testing.T) {
	d := DefaultDenylist(Tract, "06", "059")
	if !d.Contains("06059990100") {
		t.Error("water tract 990100 should be denied")
	}
	if d.Contains("06059001101") {
		t.Error("land tract denied")
	}
	if !DefaultDenylist(BlockGroup, "06", "059").Contains("060599900000") {
		t.Error("water block group should be denied")
	}
	if DefaultDenylist(Place, "06", "059").Contains("0653000") {
		t.Error("place has no denylist")
	}
	if DefaultDenylist(Tract, "06", "059").Contains("06037990100") {
		t.Error("water tract of another county denied")
	}
}

func TestStatewideClauses(t *testing.T) {
	tests := []struct {
		code    Code
		forWant string
		inWant  string
	}{
		{County, "county:*", "state:06"},
		{Tract, "tract:*", "state:06 county:*"},
		{BlockGroup, "block group:*", "state:06 county:* tract:*"},
		{CountySub, "county subdivision:*", "state:06 county:*"},
	}
	for _, tt := range tests {
		f, in, err := Clauses(tt.code, "06", "")
		if err != nil {
			t.Fatalf("Clauses(%s): %v", tt.code, err)
		}
		if f != tt.forWant || in != tt.inWant {
			t.Errorf("Clauses(%s, 06, \"\") = %q, %q", tt.code, f, in)
		}
	}
	if _, in, _ := Clauses(Place, "", ""); in != "state:*" {
		t.Errorf("Clauses(place) without state in = %q", in)
	}
}

func TestStatewideDenylist(t *testing.T) {
	d := DefaultDenylist(Tract, "06", "")
	for _, id := range []string{"06059990100", "06037990000", "06001990900"} {
		if !d.Contains(id) {
			t.Errorf("%s should be denied", id)
		}
	}
	for _, id := range []string{"06059001101", "08059990100", "0659990100"} {
		if d.Contains(id) {
			t.Errorf("%s denied", id)
		}
	}
	if !DefaultDenylist(BlockGroup, "06", "").Contains("060379902000") {
		t.Error("water block group should be denied state-wide")
	}
	if !DefaultDenylist(CountySub, "06", "").Contains("0603700000") {
		t.Error("undefined county subdivision should be denied state-wide")
	}
}
