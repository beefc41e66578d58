// Package maskx hides the middle of sensitive attributes before they are
// displayed. Lengths are counted in runes.
package maskx

import "strings"

const maskRune = "*"

func keepEnds(s string, head, tail, minLen int) string {
	r := []rune(s)
	if len(r) < minLen {
		return s
	}
	return string(r[:head]) + strings.Repeat(maskRune, len(r)-head-tail) + string(r[len(r)-tail:])
}

// Phone keeps the first 3 and last 4 characters. Values shorter than 8
// characters are returned as is.
func Phone(s string) string {
	return keepEnds(s, 3, 4, 8)
}

// IDNumber keeps the first 6 and last 4 characters. Values shorter than 11
// characters are returned as is.
func IDNumber(s string) string {
	return keepEnds(s, 6, 4, 11)
}

// Email masks the local part after its first 3 characters, or after the
// first one when the local part has 3 characters or fewer.
func Email(s string) string {
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return s
	}
	local := []rune(s[:at])
	if len(local) == 0 {
		return s
	}
	keep := 3
	if len(local) <= 3 {
		keep = 1
	}
	return string(local[:keep]) + strings.Repeat(maskRune, len(local)-keep) + s[at:]
}

// Address keeps the first 6 characters and replaces at most 10 more.
func Address(s string) string {
	r := []rune(s)
	if len(r) <= 6 {
		return s
	}
	return string(r[:6]) + strings.Repeat(maskRune, min(len(r)-6, 10)) + "..."
}

// Name keeps only the first character.
func Name(s string) string {
	r := []rune(s)
	if len(r) <= 1 {
		return s
	}
	return string(r[:1]) + strings.Repeat(maskRune, len(r)-1)
}
