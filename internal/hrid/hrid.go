// Package hrid implements human-readable IDs of the form TYPE_AAA000 (§4.2,
// §6's grammar) and the deterministic cross-type ordering key used by the
// retrieval pipeline's stable sort (§4.6).
package hrid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nucleus/memg-core/internal/memgerr"
)

const (
	alphaBase   = 26
	alphaDigits = 3
	numericMax  = 1000 // exclusive upper bound of the 3-digit numeric suffix
	maxPerType  = alphaBase * alphaBase * alphaBase * numericMax
)

var grammar = regexp.MustCompile(`^([A-Z0-9]+)_([A-Z]{3})([0-9]{3})$`)

// Format renders (type, alphaIndex, numeric) as TYPE_AAA000.
func Format(memoryType string, alphaIndex, numeric int) (string, error) {
	if alphaIndex < 0 || alphaIndex >= alphaBase*alphaBase*alphaBase {
		return "", memgerr.Kindf(memgerr.ResourceExhaustedErr, "hrid.Format", "alpha index %d out of range for type %q", alphaIndex, memoryType)
	}
	if numeric < 0 || numeric >= numericMax {
		return "", memgerr.Kindf(memgerr.ResourceExhaustedErr, "hrid.Format", "numeric suffix %d out of range for type %q", numeric, memoryType)
	}
	return fmt.Sprintf("%s_%s%03d", strings.ToUpper(memoryType), alphaString(alphaIndex), numeric), nil
}

// Advance increments (alphaIndex, numeric) by one allocation, rolling the
// numeric suffix over into the alphabetical component past 999 (§4.2).
func Advance(alphaIndex, numeric int) (nextAlpha, nextNumeric int, err error) {
	numeric++
	if numeric >= numericMax {
		numeric = 0
		alphaIndex++
	}
	if alphaIndex >= alphaBase*alphaBase*alphaBase {
		return 0, 0, memgerr.Kindf(memgerr.ResourceExhaustedErr, "hrid.Advance", "HRID space exhausted (> %d entries)", maxPerType)
	}
	return alphaIndex, numeric, nil
}

// alphaString renders a 0-based index as three base-26 letters (AAA, AAB, ...).
func alphaString(index int) string {
	digits := [alphaDigits]byte{}
	for i := alphaDigits - 1; i >= 0; i-- {
		digits[i] = byte('A' + index%alphaBase)
		index /= alphaBase
	}
	return string(digits[:])
}

// alphaIndexOf is the inverse of alphaString.
func alphaIndexOf(s string) (int, error) {
	if len(s) != alphaDigits {
		return 0, fmt.Errorf("alpha component must be %d letters, got %q", alphaDigits, s)
	}
	idx := 0
	for i := 0; i < alphaDigits; i++ {
		c := s[i]
		if c < 'A' || c > 'Z' {
			return 0, fmt.Errorf("alpha component %q is not uppercase A-Z", s)
		}
		idx = idx*alphaBase + int(c-'A')
	}
	return idx, nil
}

// Parse splits an HRID into (type, alphaIndex, numeric) per the grammar in
// §6: TYPE '_' [A-Z]{3} [0-9]{3}.
func Parse(h string) (memoryType string, alphaIndex, numeric int, err error) {
	m := grammar.FindStringSubmatch(h)
	if m == nil {
		return "", 0, 0, memgerr.Kindf(memgerr.InvalidInputErr, "hrid.Parse", "malformed HRID %q", h)
	}
	alphaIndex, err = alphaIndexOf(m[2])
	if err != nil {
		return "", 0, 0, memgerr.Wrap(memgerr.InvalidInputErr, "hrid.Parse", err)
	}
	numeric, err = strconv.Atoi(m[3])
	if err != nil {
		return "", 0, 0, memgerr.Wrap(memgerr.InvalidInputErr, "hrid.Parse", err)
	}
	return strings.ToLower(m[1]), alphaIndex, numeric, nil
}

// Type extracts just the (lowercased) memory type prefix of an HRID,
// without fully parsing the alpha/numeric suffix. Used by the service to
// infer a relationship endpoint's type from its HRID alone (§4.7).
func Type(h string) (string, error) {
	t, _, _, err := Parse(h)
	return t, err
}

// typeIndex encodes up to 8 type-name characters in base-37 (A-Z=1..26,
// 0-9=27..36) as the high bits of the cross-type ordering key (§4.2).
func typeIndex(memoryType string) uint64 {
	const maxChars = 8
	t := strings.ToUpper(memoryType)
	if len(t) > maxChars {
		t = t[:maxChars]
	}
	var idx uint64
	for i := 0; i < maxChars; i++ {
		idx *= 37
		if i < len(t) {
			c := t[i]
			switch {
			case c >= 'A' && c <= 'Z':
				idx += uint64(c-'A') + 1
			case c >= '0' && c <= '9':
				idx += uint64(c-'0') + 27
			}
		}
	}
	return idx
}

// ToIndex computes the deterministic cross-type ordering key (§4.2, §4.6):
// up to 8 type-name characters in base-37 as the high bits, and
// alphaIndex*1000 + numeric as the low bits.
func ToIndex(h string) (uint64, error) {
	memoryType, alphaIndex, numeric, err := Parse(h)
	if err != nil {
		return 0, err
	}
	low := uint64(alphaIndex)*numericMax + uint64(numeric)
	high := typeIndex(memoryType)
	// Low component never exceeds alphaBase^3 * numericMax (< 2^25), so it
	// fits below the high component shifted by 25. The base-37 high component
	// can reach 37^8 (< 2^42), which needs up to 67 bits once shifted, so for
	// most type names (every name whose first letter is F or later) its top
	// bits fall off the 64-bit key. Ordering within one type is unaffected;
	// ordering across types follows the truncated value.
	return high<<25 | low, nil
}
