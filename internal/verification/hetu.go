// Package verification derives the privacy-scoped authorization metadata
// from verified provider claims: person attributes, the Finnish personal
// identity code fields and the pseudonymous digests used to correlate
// repeat authentications.
package verification

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// checksumAlphabet is the remainder table of the personal identity code
// checksum: the nine digits (ddmmyy + individual number) modulo 31 index
// into it.
const checksumAlphabet = "0123456789ABCDEFHJKLMNPRSTUVWXY"

// centuries maps the century marker between the date and individual number
// to the century of birth. The 2023 reform added additional markers for both
// the 1900s and 2000s; codes carrying a new marker no longer encode gender.
var centuries = map[byte]int{
	'+': 1800,
	'-': 1900, 'Y': 1900, 'X': 1900, 'W': 1900, 'V': 1900, 'U': 1900,
	'A': 2000, 'B': 2000, 'C': 2000, 'D': 2000, 'E': 2000, 'F': 2000,
}

var newFormatMarkers = map[byte]bool{
	'Y': true, 'X': true, 'W': true, 'V': true, 'U': true,
	'B': true, 'C': true, 'D': true, 'E': true, 'F': true,
}

// Hetu is a structurally valid Finnish personal identity code
// (henkilötunnus): a six digit birthdate, a century marker, a three digit
// individual number and a checksum character.
type Hetu struct {
	DateOfBirth time.Time
	// Gender is "m", "f" or "neutral". New-format codes do not encode
	// gender in the individual number.
	Gender string
}

// ParseHetu validates the code's structure, embedded date and checksum.
// Validation failures return an error the caller is expected to swallow:
// metadata enrichment is best effort and a malformed code never fails an
// authentication.
func ParseHetu(code string) (Hetu, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 11 {
		return Hetu{}, fmt.Errorf("personal identity code must be 11 characters, got %d", len(code))
	}

	datePart := code[0:6]
	marker := code[6]
	individual := code[7:10]
	checksum := code[10]

	if _, err := strconv.Atoi(datePart); err != nil {
		return Hetu{}, fmt.Errorf("invalid date digits %q", datePart)
	}
	individualNum, err := strconv.Atoi(individual)
	if err != nil {
		return Hetu{}, fmt.Errorf("invalid individual number %q", individual)
	}

	century, ok := centuries[marker]
	if !ok {
		return Hetu{}, fmt.Errorf("unknown century marker %q", string(marker))
	}

	day, _ := strconv.Atoi(datePart[0:2])
	month, _ := strconv.Atoi(datePart[2:4])
	year, _ := strconv.Atoi(datePart[4:6])
	born := time.Date(century+year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if born.Day() != day || int(born.Month()) != month {
		return Hetu{}, fmt.Errorf("impossible birthdate in %q", code)
	}

	n, _ := strconv.Atoi(datePart + individual)
	if checksumAlphabet[n%31] != checksum {
		return Hetu{}, fmt.Errorf("checksum mismatch in personal identity code")
	}

	gender := "f"
	if individualNum%2 == 1 {
		gender = "m"
	}
	if newFormatMarkers[marker] {
		gender = "neutral"
	}

	return Hetu{DateOfBirth: born, Gender: gender}, nil
}

// ISODate formats the embedded birthdate as an ISO 8601 date string.
func (h Hetu) ISODate() string {
	return h.DateOfBirth.Format("2006-01-02")
}
