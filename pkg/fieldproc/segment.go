package fieldproc

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-ego/gse"
)

// Segmenter splits normalized text into words.
type Segmenter interface {
	Segment(text string) []string
}

// RuleSegmenter splits text into script runs: contiguous Han characters
// form one token, contiguous letters and digits of other scripts form
// another. Everything else separates tokens. It needs no dictionary.
type RuleSegmenter struct{}

// Segment implements Segmenter.
func (RuleSegmenter) Segment(text string) []string {
	var (
		tokens []string
		cur    strings.Builder
		curHan bool
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range text {
		switch {
		case isHan(r):
			if !curHan {
				flush()
			}
			curHan = true
			cur.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if curHan {
				flush()
			}
			curHan = false
			cur.WriteRune(unicode.ToLower(r))
		default:
			flush()
			curHan = false
		}
	}
	flush()
	return tokens
}

// GseSegmenter segments with the gse dictionary segmenter. The dictionary
// is loaded once; Segment is safe for concurrent use afterwards.
type GseSegmenter struct {
	seg gse.Segmenter
}

// NewGseSegmenter loads the embedded gse dictionary, or the dictionary
// files at dictPath (comma separated) when it is set.
func NewGseSegmenter(dictPath string) (*GseSegmenter, error) {
	s := &GseSegmenter{}
	var err error
	if dictPath != "" {
		err = s.seg.LoadDict(dictPath)
	} else {
		err = s.seg.LoadDict()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load gse dictionary: %w", err)
	}
	return s, nil
}

// Segment implements Segmenter. Whitespace and punctuation tokens are dropped.
func (g *GseSegmenter) Segment(text string) []string {
	words := g.seg.Cut(text, true)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" || !hasWordRune(w) {
			continue
		}
		tokens = append(tokens, strings.ToLower(w))
	}
	return tokens
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// NewSegmenter returns the segmenter named by kind ("rule" or "gse").
func NewSegmenter(kind, dictPath string) (Segmenter, error) {
	switch kind {
	case "", "rule":
		return RuleSegmenter{}, nil
	case "gse":
		return NewGseSegmenter(dictPath)
	default:
		return nil, fmt.Errorf("unknown segmenter %q", kind)
	}
}
