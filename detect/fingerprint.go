package detect

import (
	"hash/fnv"
	"math/bits"
	"strings"

	"golang.org/x/net/html"
)

// Structure is a 64-bit SimHash of a snapshot's element layout. Two
// snapshots of the same rendered view differ in a few bits; an interstitial
// and the listing it hides differ in many.
type Structure uint64

// shingleSize is the tag n-gram width hashed into a Structure.
const shingleSize = 3

// skippedTags carry no layout and churn between otherwise identical pages
// (inline scripts, challenge tokens).
var skippedTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"meta":     {},
	"link":     {},
	"template": {},
}

// StructureOf fingerprints the element layout of s, ignoring text and
// attribute values. Markup without elements yields 0.
func StructureOf(s Snapshot) Structure {
	tags := layoutTokens(s.Markup)
	if len(tags) == 0 {
		return 0
	}
	if len(tags) < shingleSize {
		return Structure(simhash(tags))
	}

	shingles := make([]string, 0, len(tags)-shingleSize+1)
	for i := 0; i+shingleSize <= len(tags); i++ {
		shingles = append(shingles, strings.Join(tags[i:i+shingleSize], ">"))
	}
	return Structure(simhash(shingles))
}

// Distance is the number of differing bits, 0 to 64.
func (a Structure) Distance(b Structure) int {
	return bits.OnesCount64(uint64(a) ^ uint64(b))
}

// StructureDistance compares the layouts of two snapshots.
func StructureDistance(a, b Snapshot) int {
	return StructureOf(a).Distance(StructureOf(b))
}

// layoutTokens lists opening tags in document order. Divs carry their first
// class so that a grid of rows differs from a stack of plain containers.
func layoutTokens(markup string) []string {
	z := html.NewTokenizer(strings.NewReader(markup))
	var tags []string
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tags
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if _, skip := skippedTags[tag]; skip {
				continue
			}
			if tag == "div" && hasAttr {
				tag += firstClass(z)
			}
			tags = append(tags, tag)
		}
	}
}

func firstClass(z *html.Tokenizer) string {
	for {
		key, val, more := z.TagAttr()
		if string(key) == "class" {
			if f := strings.Fields(string(val)); len(f) > 0 {
				return "." + f[0]
			}
			return ""
		}
		if !more {
			return ""
		}
	}
}

func simhash(tokens []string) uint64 {
	var vector [64]int
	h := fnv.New64a()
	for _, tok := range tokens {
		h.Reset()
		h.Write([]byte(tok))
		sum := h.Sum64()
		for i := range 64 {
			if sum&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var fp uint64
	for i, v := range vector {
		if v > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}
