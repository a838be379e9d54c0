package segment

import (
	"strings"
	"unicode"
)

// abbreviations never end a sentence when followed by a period.
var abbreviations = makeAbbreviationMap()

// splitSentences breaks whitespace-collapsed text into sentences. Every
// non-space rune of text appears in exactly one returned sentence.
func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string

	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}

		punctEnd := i + 1
		for punctEnd < len(runes) && isTerminal(runes[punctEnd]) {
			punctEnd++
		}
		end := punctEnd
		for end < len(runes) && isCloser(runes[end]) {
			end++
		}

		if isSentenceEnd(runes, i, punctEnd, end) {
			if s := strings.TrimSpace(string(runes[start:end])); s != "" {
				sentences = append(sentences, s)
			}
			start = end
		}
		i = end - 1
	}

	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// isSentenceEnd decides whether the punctuation run runes[pos:punctEnd],
// followed by closing quotes up to end, closes a sentence.
func isSentenceEnd(runes []rune, pos, punctEnd, end int) bool {
	if end >= len(runes) {
		return true
	}
	if isWide(runes[punctEnd-1]) {
		return true
	}
	if !unicode.IsSpace(runes[end]) {
		return false
	}

	punct := runes[pos:punctEnd]
	if !onlyDots(punct) {
		return true
	}
	if len(punct) > 1 {
		// ellipsis
		return false
	}

	word := wordBefore(runes, pos)
	if word != "" {
		lower := strings.ToLower(word)
		if abbreviations[lower] {
			return false
		}
		if strings.Contains(lower, ".") {
			// U.S. or Ph.D.
			return false
		}
		if len([]rune(word)) == 1 && unicode.IsUpper([]rune(word)[0]) {
			// initials
			return false
		}
	}

	next := end
	for next < len(runes) && unicode.IsSpace(runes[next]) {
		next++
	}
	if next >= len(runes) {
		return true
	}
	return !unicode.IsLower(runes[next])
}

// wordBefore returns the word immediately preceding pos, without the
// punctuation at pos.
func wordBefore(runes []rune, pos int) string {
	start := pos
	for start > 0 && !unicode.IsSpace(runes[start-1]) {
		start--
	}
	return strings.TrimLeft(string(runes[start:pos]), `"'([`)
}

func onlyDots(rs []rune) bool {
	for _, r := range rs {
		if r != '.' {
			return false
		}
	}
	return true
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

// isWide reports full-width terminals, which are not followed by a space.
func isWide(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}

func makeAbbreviationMap() map[string]bool {
	abbrevs := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr", "st", "mt",
		"inc", "ltd", "co", "corp", "llc",
		"etc", "vs", "cf", "al", "approx", "dept", "est", "fig", "no", "vol",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"mon", "tue", "wed", "thu", "fri", "sat", "sun",
		"rd", "ave", "blvd", "ln", "ct",
		"ft", "lbs", "oz", "kg", "km", "cm", "mm", "mi", "yd",
		"hr", "hrs", "min", "mins", "sec", "secs",
	}

	m := make(map[string]bool, len(abbrevs))
	for _, a := range abbrevs {
		m[a] = true
	}
	return m
}
