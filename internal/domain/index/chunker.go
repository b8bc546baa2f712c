package index

import (
	"regexp"
	"strings"
)

// ContentChunk is one bounded slice of a canonical document's embedding
// text. Index 0 always carries the full leading content, so it is the most
// information-dense chunk of its document.
type ContentChunk struct {
	Index int
	Text  string
}

const defaultMaxChunkChars = 2000

// Chunker splits embedding text into chunks no longer than maxChars runes.
// Splits happen on paragraph then sentence boundaries, never mid-word, and
// in multi-chunk mode every chunk keeps the product title as a prefix for
// context. The same input always yields the same chunks.
type Chunker struct {
	maxChars int
	sentence *regexp.Regexp
}

func NewChunker(maxChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = defaultMaxChunkChars
	}
	return &Chunker{
		maxChars: maxChars,
		sentence: regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
	}
}

func (c *Chunker) Chunk(text, title string) []ContentChunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if len([]rune(text)) <= c.maxChars {
		return []ContentChunk{{Index: 0, Text: text}}
	}

	prefix := ""
	if t := strings.TrimSpace(title); t != "" {
		prefix = t + "\n"
	}

	budget := c.maxChars - len([]rune(prefix))
	if budget < 1 {
		budget = 1
	}

	units := c.splitUnits(text, budget)

	chunks := make([]ContentChunk, 0, 4)
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, ContentChunk{
			Index: len(chunks),
			Text:  prefix + strings.Join(current, " "),
		})
		current = current[:0]
		currentLen = 0
	}

	for _, unit := range units {
		uLen := len([]rune(unit))
		sep := 0
		if len(current) > 0 {
			sep = 1
		}
		if currentLen+sep+uLen > budget {
			flush()
			sep = 0
		}
		current = append(current, unit)
		currentLen += sep + uLen
	}
	flush()

	return chunks
}

// splitUnits breaks text into pieces each guaranteed to fit the budget:
// paragraphs first, oversize paragraphs into sentences, oversize sentences
// into whole words. A single word longer than the budget stays intact, since
// a word is never split.
func (c *Chunker) splitUnits(text string, budget int) []string {
	var units []string

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len([]rune(para)) <= budget {
			units = append(units, para)
			continue
		}

		sentences := c.sentence.FindAllString(para, -1)
		if len(sentences) == 0 {
			sentences = []string{para}
		} else if locs := c.sentence.FindAllStringIndex(para, -1); len(locs) > 0 {
			// keep any trailing fragment without closing punctuation
			if tail := strings.TrimSpace(para[locs[len(locs)-1][1]:]); tail != "" {
				sentences = append(sentences, tail)
			}
		}

		for _, s := range sentences {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if len([]rune(s)) <= budget {
				units = append(units, s)
				continue
			}
			units = append(units, strings.Fields(s)...)
		}
	}

	return units
}
