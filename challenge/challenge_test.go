package challenge

import (
	"testing"
	"time"
)

func clock(month time.Month, day, hour int) time.Time {
	return time.Date(2025, month, day, hour, 42, 7, 0, time.UTC)
}

func TestGenerate(t *testing.T) {
	cases := []struct {
		name  string
		month time.Month
		day   int
		hour  int
		power int
		want  string
	}{
		// base = 6+15+10 = 31; 31^2 = 961
		{"square", time.June, 15, 10, 2, "961"},
		// 31^3 = 29791 -> last four digits, no zero padding
		{"cube mod", time.June, 15, 10, 3, "9791"},
		// 31^6 = 887503681 -> 3681
		{"large power", time.June, 15, 10, 6, "3681"},
		// base = 3+3+1 = 7; single digit stays unpadded
		{"no zero padding", time.March, 3, 1, 1, "7"},
		// base = 1+4+5 = 10; 10^4 mod 10000 = 0
		{"zero value", time.January, 4, 5, 4, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Generate(tc.power, clock(tc.month, tc.day, tc.hour))
			if got != tc.want {
				t.Errorf("Generate(%d, %v-%d %d:00) = %q, want %q", tc.power, tc.month, tc.day, tc.hour, got, tc.want)
			}
		})
	}
}

func TestGenerateDeterministic(t *testing.T) {
	now := clock(time.June, 15, 10)
	a := Generate(5, now)
	b := Generate(5, now)
	if a != b {
		t.Errorf("Generate not deterministic: %q vs %q", a, b)
	}
	// minutes and seconds must not matter
	later := time.Date(2025, time.June, 15, 10, 59, 59, 0, time.UTC)
	if c := Generate(5, later); c != a {
		t.Errorf("Generate changed within the hour: %q vs %q", c, a)
	}
}

func TestGenerateUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	local := time.Date(2025, time.June, 15, 18, 0, 0, 0, loc) // 10:00 UTC
	if got, want := Generate(2, local), "961"; got != want {
		t.Errorf("Generate with non-UTC clock = %q, want %q", got, want)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		message string
		code    string
		want    bool
	}{
		{"961 go", "961", true},
		{"96", "961", false},
		// substring semantics: the code may sit inside a longer digit run
		{"19612", "961", true},
		{"no digits here", "961", false},
		{"prefix961", "961", true},
	}
	for _, tc := range cases {
		if got := Validate(tc.message, tc.code); got != tc.want {
			t.Errorf("Validate(%q, %q) = %v, want %v", tc.message, tc.code, got, tc.want)
		}
	}
}
