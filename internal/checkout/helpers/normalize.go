package helpers

import (
	"strings"
	"unicode"

	"github.com/angelmondragon/giftship-backend/pkg/types"
)

const addressKeySeparator = "|"

// NormalizeAddress derives the grouping key for an address. Two addresses a person
// would consider identical (case, spacing, punctuation in the street lines) map to
// the same key.
func NormalizeAddress(addr types.ShippingAddress) string {
	parts := []string{
		normalizeLabel(addr.Name),
		normalizeLine(addr.Line1),
		normalizeLine(addr.Line2),
		normalizeLabel(addr.City),
		normalizeField(addr.Province),
		normalizeField(addr.PostalCode),
		normalizeField(addr.Country),
		normalizeField(addr.Email),
	}
	return strings.Join(parts, addressKeySeparator)
}

func normalizeField(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

// normalizeLine strips punctuation so "12-B Main St." and "12B main st"
// collide. Punctuation inside a word is dropped; elsewhere it separates words,
// as do list separators anywhere.
func normalizeLine(value string) string {
	runes := []rune(value)
	var b strings.Builder
	b.Grow(len(value))
	for i, r := range runes {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			b.WriteRune(r)
			continue
		}
		if !strings.ContainsRune(lineSeparators, r) && i > 0 && i < len(runes)-1 &&
			isWordRune(runes[i-1]) && isWordRune(runes[i+1]) {
			continue
		}
		b.WriteRune(' ')
	}
	return normalizeField(b.String())
}

const lineSeparators = ",;/"

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func normalizeLabel(value string) string {
	return normalizeField(strings.TrimRightFunc(strings.TrimSpace(value), unicode.IsPunct))
}
