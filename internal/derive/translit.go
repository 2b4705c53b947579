package derive

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ukrainianSimple maps lowercase Cyrillic letters to Latin independently of
// their position in the word. A few Russian letters are included because
// carrier data mixes both alphabets.
var ukrainianSimple = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "h", 'ґ': "g", 'д': "d", 'е': "e",
	'є': "ye", 'ж': "zh", 'з': "z", 'и': "y", 'і': "i", 'ї': "yi", 'й': "y",
	'к': "k", 'л': "l", 'м': "m", 'н': "n", 'о': "o", 'п': "p", 'р': "r",
	'с': "s", 'т': "t", 'у': "u", 'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch",
	'ш': "sh", 'щ': "shch", 'ь': "", 'ю': "yu", 'я': "ya",
	'ё': "yo", 'ы': "y", 'э': "e", 'ъ': "",
	'\'': "", '’': "", 'ʼ': "",
}

// Transliterate converts Cyrillic text to Latin. Capitalised letters stay
// capitalised; letters inside an all-caps run are upper-cased entirely.
// Characters outside the table pass through unchanged.
func Transliterate(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range runes {
		lower := unicode.ToLower(r)
		latin, ok := ukrainianSimple[lower]
		if !ok {
			b.WriteRune(r)
			continue
		}
		if r == lower || latin == "" {
			b.WriteString(latin)
			continue
		}
		if inCapsRun(runes, i) {
			b.WriteString(strings.ToUpper(latin))
		} else {
			b.WriteString(strings.ToUpper(latin[:1]) + latin[1:])
		}
	}
	return b.String()
}

func inCapsRun(runes []rune, i int) bool {
	if i+1 < len(runes) && unicode.IsUpper(runes[i+1]) {
		return true
	}
	return i > 0 && unicode.IsUpper(runes[i-1])
}

// Normalize produces the display name used for destination points: NFC
// composition, transliteration, then the fixed spelling of the capital.
func Normalize(s string) string {
	out := Transliterate(norm.NFC.String(s))
	return strings.ReplaceAll(out, "Kyyiv", "Kyiv")
}
