package chunker

import (
	"regexp"
	"strconv"
	"strings"

	"synthia/internal/domain"
)

// SentenceChunker splits text into sentence-based chunks with overlap.
// Chunks never span a blank-line paragraph break, so each paragraph
// of a paper becomes one or more fragments of its own.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
	splitter          *regexp.Regexp
	paragraphs        *regexp.Regexp
}

func NewSentenceChunker(sentencesPerChunk, overlapSentences int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 3
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}
	if overlapSentences >= sentencesPerChunk {
		overlapSentences = sentencesPerChunk - 1
	}
	return &SentenceChunker{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
		splitter:          regexp.MustCompile(`(?s)[^.!?]+(?:[.!?]+|$)`),
		paragraphs:        regexp.MustCompile(`\n\s*\n`),
	}
}

func (c *SentenceChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	for _, para := range c.paragraphs.Split(document.Content, -1) {
		sentences := c.sentences(para)
		i := 0
		for i < len(sentences) {
			end := i + c.sentencesPerChunk
			if end > len(sentences) {
				end = len(sentences)
			}
			idx := len(chunks)
			chunks = append(chunks, domain.Chunk{
				DocumentID: document.ID,
				ChunkID:    document.ID + ":" + strconv.Itoa(idx),
				Text:       strings.Join(sentences[i:end], " "),
				Index:      idx,
			})
			if end == len(sentences) {
				break
			}
			i = end - c.overlapSentences
		}
	}
	return chunks, nil
}

// sentences returns the whitespace-collapsed, non-empty sentences of text.
func (c *SentenceChunker) sentences(text string) []string {
	raw := c.splitter.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.Join(strings.Fields(s), " ")
		if s == "" || strings.Trim(s, ".!?") == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
