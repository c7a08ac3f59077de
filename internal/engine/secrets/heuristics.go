package secrets

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

var placeholderWords = []string{"example", "sample", "dummy", "placeholder", "changeme", "notasecret", "test", "xxxx"}

var commentPrefixes = []string{"//", "#", "--", "/*", "<!--", "*"}

func isPlaceholder(value string) bool {
	lower := strings.ToLower(value)
	for _, word := range placeholderWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func isCommentLine(trimmed string) bool {
	for _, prefix := range commentPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

func hasLetterAndDigit(value string) bool {
	var letter, digit bool
	for _, r := range value {
		letter = letter || unicode.IsLetter(r)
		digit = digit || unicode.IsDigit(r)
		if letter && digit {
			return true
		}
	}
	return false
}

func shannonEntropy(value string) float64 {
	if value == "" {
		return 0
	}
	freq := make(map[rune]float64)
	n := 0.0
	for _, r := range value {
		freq[r]++
		n++
	}
	entropy := 0.0
	for _, count := range freq {
		p := count / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// MaskValue keeps the first and last four characters of long values and
// hides short ones entirely.
func MaskValue(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + "..." + value[len(value)-4:]
}

func firstGroup(match []int) (int, int, bool) {
	for i := 2; i+1 < len(match); i += 2 {
		if match[i] >= 0 && match[i+1] >= 0 {
			return match[i], match[i+1], true
		}
	}
	return 0, 0, false
}

// lineIndex maps byte offsets to 1-based line and column numbers.
type lineIndex struct {
	starts []int
}

func buildLineIndex(content []byte) lineIndex {
	starts := []int{0}
	for i, b := range content {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return lineIndex{starts: starts}
}

func (i lineIndex) lineCol(offset int) (int, int) {
	if offset < 0 {
		return 1, 1
	}
	line := sort.Search(len(i.starts), func(n int) bool { return i.starts[n] > offset }) - 1
	if line < 0 {
		line = 0
	}
	return line + 1, offset - i.starts[line] + 1
}

// text returns line n (1-based) without its newline.
func (i lineIndex) text(src string, n int) string {
	if n < 1 || n > len(i.starts) {
		return ""
	}
	start := i.starts[n-1]
	end := len(src)
	if n < len(i.starts) {
		end = i.starts[n] - 1
	}
	if start > end {
		return ""
	}
	return strings.TrimSuffix(src[start:end], "\r")
}
