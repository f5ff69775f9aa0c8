package inference

import (
	"regexp"
	"strings"
	"unicode"

	"kycdesk/api/internal/store"
)

var panPattern = regexp.MustCompile(`[A-Z]{5}[0-9]{4}[A-Z]`)

// NormalizePAN upper-cases and strips whitespace. When the result embeds a well-formed
// PAN the match is kept and surrounding noise dropped.
func NormalizePAN(raw string) string {
	pan := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, strings.ToUpper(raw))
	if match := panPattern.FindString(pan); match != "" {
		return match
	}
	return pan
}

// NormalizeAadhaarNumber groups exactly twelve digits as "XXXX XXXX XXXX". Anything else
// (masked numbers, 16-digit VIDs, partial reads) is returned trimmed but otherwise verbatim.
func NormalizeAadhaarNumber(raw string) string {
	trimmed := strings.TrimSpace(raw)
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, trimmed)
	if len(digits) == 12 {
		return digits[:4] + " " + digits[4:8] + " " + digits[8:]
	}
	return trimmed
}

func CanonicalPan(data store.PanData) store.PanData {
	return store.PanData{
		Name:        strings.TrimSpace(data.Name),
		FathersName: strings.TrimSpace(data.FathersName),
		DateOfBirth: strings.TrimSpace(data.DateOfBirth),
		PANNumber:   NormalizePAN(data.PANNumber),
	}
}

func CanonicalAadhaar(data store.AadhaarData) store.AadhaarData {
	return store.AadhaarData{
		Name:          strings.TrimSpace(data.Name),
		AadhaarNumber: NormalizeAadhaarNumber(data.AadhaarNumber),
		DateOfBirth:   strings.TrimSpace(data.DateOfBirth),
		Gender:        strings.ToUpper(strings.TrimSpace(data.Gender)),
		Address:       strings.TrimSpace(data.Address),
	}
}
