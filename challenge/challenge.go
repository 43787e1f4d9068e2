// Package challenge derives the rotating numeric passcode required in trigger messages.
// The code depends only on the UTC calendar fields (month, day, hour) and a
// per-command exponent, so every participant who knows the scheme can compute it.
package challenge

import (
	"strconv"
	"strings"
	"time"
)

// Generate returns the passcode for the given exponent at the given instant:
// the decimal representation of (month+day+hour)^power mod 10000, with no
// zero padding (a value of 7 yields "7").
func Generate(power int, now time.Time) string {
	t := now.UTC()
	base := int64(int(t.Month()) + t.Day() + t.Hour())
	// Modular exponentiation; base^power overflows int64 for larger exponents.
	v := int64(1)
	for i := 0; i < power; i++ {
		v = v * base % 10000
	}
	return strconv.FormatInt(v, 10)
}

// Validate reports whether code occurs as a contiguous substring anywhere in
// message. This intentionally is not a whole-token match: a code "7" is
// satisfied by any message containing a 7, including inside longer digit runs.
// That looseness matches the deployed behavior; swap in a stricter matcher
// here if it is ever tightened.
func Validate(message, code string) bool {
	return strings.Contains(message, code)
}
