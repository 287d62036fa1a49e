package resolve

import (
	"strings"
	"unicode"
)

// unitSynonyms maps spelled-out or alternative units to one token.
var unitSynonyms = map[string]string{
	"liter": "l", "liters": "l", "litre": "l", "litres": "l", "ltr": "l", "lt": "l",
	"milliliter": "ml", "milliliters": "ml", "millilitre": "ml", "millilitres": "ml",
	"kilogram": "kg", "kilograms": "kg", "kilo": "kg", "kilos": "kg", "kgs": "kg",
	"gram": "g", "grams": "g", "gr": "g", "gm": "g",
	"pound": "lb", "pounds": "lb", "lbs": "lb",
	"ounce": "oz", "ounces": "oz",
	"pack": "pk", "packs": "pk", "pcs": "pc", "piece": "pc", "pieces": "pc",
}

// Normalize lowercases s, turns punctuation into spaces, splits letter/digit
// boundaries ("2l" -> "2 l"), canonicalizes units and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	var prev rune
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if prev != 0 && prev != ' ' &&
				(unicode.IsDigit(prev) && unicode.IsLetter(r) || unicode.IsLetter(prev) && unicode.IsDigit(r)) {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			prev = r
		case r == '.' && unicode.IsDigit(prev):
			// keep decimals like 1.5 together
			b.WriteRune(r)
			prev = r
		default:
			if prev != ' ' {
				b.WriteByte(' ')
			}
			prev = ' '
		}
	}
	fields := strings.Fields(b.String())
	for i, f := range fields {
		f = strings.TrimSuffix(f, ".")
		if u, ok := unitSynonyms[f]; ok {
			f = u
		}
		fields[i] = f
	}
	return strings.Join(fields, " ")
}

// Tokens returns the distinct tokens of the normalized form of s.
func Tokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.Fields(Normalize(s)) {
		if f != "" {
			out[f] = struct{}{}
		}
	}
	return out
}

// Jaccard is |a∩b| / |a∪b|; two empty sets score 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Similarity scores two strings by token-set overlap.
func Similarity(a, b string) float64 {
	return Jaccard(Tokens(a), Tokens(b))
}
