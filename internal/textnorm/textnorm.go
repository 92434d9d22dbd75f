// Package textnorm holds the text canonicalization shared by the intent
// classifier, the entity resolver, the value parser and the retriever.
package textnorm

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var contractions = strings.NewReplacer(
	"what's", "what is",
	"where's", "where is",
	"it's", "it is",
	"let's", "let us",
	"don't", "do not",
	"can't", "can not",
	"i'd", "i would",
	"i'm", "i am",
)

// Canonicalize lower-cases s, expands a few contractions, splits hyphens and
// multiplication signs into separate tokens, strips punctuation and collapses
// whitespace. Decimal points between digits and percent signs survive.
func Canonicalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "’", "'")
	s = contractions.Replace(s)

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '%':
			b.WriteString(" % ")
		case r == '×' || r == '*':
			b.WriteString(" x ")
		case r == '.':
			if i > 0 && i < len(runes)-1 && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
				b.WriteRune(r)
			} else {
				b.WriteRune(' ')
			}
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(splitGlued(strings.Fields(b.String())), " ")
}

var gluedDim = regexp.MustCompile(`^(\d+(?:\.\d+)?)x(\d+(?:\.\d+)?)$`)
var gluedUnit = regexp.MustCompile(`^(\d+(?:\.\d+)?)(mm|percent)$`)

// splitGlued separates "4.2x12" and "12mm" into their parts.
func splitGlued(fields []string) []string {
	out := fields[:0:0]
	for _, f := range fields {
		if m := gluedDim.FindStringSubmatch(f); m != nil {
			out = append(out, m[1], "x", m[2])
			continue
		}
		if m := gluedUnit.FindStringSubmatch(f); m != nil {
			out = append(out, m[1], m[2])
			continue
		}
		out = append(out, f)
	}
	return out
}

// Tokens canonicalizes s and splits it on whitespace.
func Tokens(s string) []string {
	return strings.Fields(Canonicalize(s))
}

var fillers = set(
	"the", "a", "an", "please", "pls", "can", "could", "would", "will", "you",
	"me", "my", "i", "to", "of", "for", "up", "some", "just", "kindly", "now",
	"let", "us", "want", "need", "on", "off", "is", "are", "what", "where",
	"set", "turn", "show", "hide", "enable", "disable", "switch", "toggle",
	"give", "make", "it", "this", "that", "and", "with", "in", "at",
)

// ContentTokens returns the canonical tokens with command words, fillers and
// numeric values removed; what remains is the part that names an entity.
func ContentTokens(s string) []string {
	return contentOf(Tokens(s))
}

// ContentPhrase applies ContentTokens to a catalog phrase.
func ContentPhrase(s string) []string { return ContentTokens(s) }

func contentOf(toks []string) []string {
	var out []string
	for i, t := range toks {
		if _, skip := fillers[t]; skip {
			continue
		}
		if IsNumber(t) || t == "%" || t == "mm" || t == "percent" {
			continue
		}
		// the "x" of "4 x 10"
		if (t == "x" || t == "by") && i > 0 && IsNumber(toks[i-1]) {
			continue
		}
		out = append(out, t)
	}
	return out
}

var stopWords = set(
	"a", "an", "the", "and", "or", "but", "if", "of", "at", "by", "for", "with",
	"about", "to", "from", "in", "on", "off", "is", "are", "was", "were", "be",
	"been", "it", "its", "this", "that", "these", "those", "what", "which",
	"who", "whom", "where", "when", "how", "why", "do", "does", "did", "can",
	"could", "should", "would", "will", "i", "me", "my", "you", "your", "we",
	"our", "they", "their", "as", "so", "than", "then", "there", "here",
	"please", "tell", "explain", "us", "let", "not", "no",
)

// Terms returns the sorted, de-duplicated retrieval terms of s: canonical
// tokens minus stop words and single characters.
func Terms(s string) []string {
	seen := make(map[string]struct{})
	for _, t := range Tokens(s) {
		if len([]rune(t)) < 2 {
			continue
		}
		if _, stop := stopWords[t]; stop {
			continue
		}
		seen[t] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

var number = regexp.MustCompile(`^\d+(?:\.\d+)?$`)

// IsNumber reports whether tok is a plain decimal number.
func IsNumber(tok string) bool { return number.MatchString(tok) }

var valueWords = set(
	"x", "by", "mm", "millimeters", "millimetres", "%", "percent", "height",
	"length", "h", "l", "and", "max", "maximum", "min", "minimum", "ok", "okay",
	"please", "make", "it", "use", "try", "then", "instead", "how", "about",
	"go", "with", "let", "us", "set", "to",
)

// IsBareValue reports whether s carries a value and nothing that could name
// an intent or an entity ("4.2 x 12", "70%", "make it 60 please").
func IsBareValue(s string) bool {
	toks := Tokens(s)
	found := false
	for _, t := range toks {
		switch {
		case IsNumber(t):
			found = true
		case t == "max" || t == "maximum" || t == "min" || t == "minimum":
			found = true
		default:
			if _, ok := valueWords[t]; !ok {
				return false
			}
		}
	}
	return found
}

// ContainsSeq returns the index of the first contiguous occurrence of needle
// in hay, or -1.
func ContainsSeq(hay, needle []string) int {
	if len(needle) == 0 || len(needle) > len(hay) {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(hay); i++ {
		for j := range needle {
			if hay[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

// InOrderSpan matches needle greedily in order, gaps allowed, and returns
// the covered token span [start, end).
func InOrderSpan(hay, needle []string) (start, end int, ok bool) {
	if len(needle) == 0 {
		return 0, 0, false
	}
	j := 0
	for i, t := range hay {
		if t != needle[j] {
			continue
		}
		if j == 0 {
			start = i
		}
		j++
		if j == len(needle) {
			return start, i + 1, true
		}
	}
	return 0, 0, false
}

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
