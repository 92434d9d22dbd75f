// Package rag holds the knowledge-base side of ScenePilot: chunking and
// ingestion of reference documents, and the hybrid retriever that grounds
// informational answers.
package rag

import (
	"strings"
	"unicode/utf8"
)

// ChunkerConfig configures the text chunker.
type ChunkerConfig struct {
	ChunkSize    int    // Target chunk size in characters (default 1200)
	ChunkOverlap int    // Overlap between chunks (default 150)
	Separator    string // Preferred separator, tried before the defaults
	Passthrough  bool   // If true, return the entire text as one chunk
}

// DefaultChunkerConfig returns the defaults for recursive text splitting.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		ChunkSize:    1200,
		ChunkOverlap: 150,
		Separator:    "\n\n",
	}
}

// Chunk holds a single chunk of text with its position.
type Chunk struct {
	Text     string            `json:"text"`
	Index    int               `json:"index"`    // 0-based chunk index
	Metadata map[string]string `json:"metadata"` // inherited from parent + chunk-specific
}

// ChunkText splits text into overlapping chunks using recursive splitting:
// paragraphs, then lines, then sentences, then words, then runes. Blank
// chunks are dropped and surrounding whitespace trimmed.
func ChunkText(text string, config ChunkerConfig) []Chunk {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1200
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = 0
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var pieces []string
	if config.Passthrough || utf8.RuneCountInString(text) <= config.ChunkSize {
		pieces = []string{text}
	} else {
		separators := []string{"\n\n", "\n", ". ", " ", ""}
		if config.Separator != "" {
			separators = append([]string{config.Separator}, separators...)
		}
		pieces = recursiveSplit(text, separators, config.ChunkSize, config.ChunkOverlap)
	}

	chunks := make([]Chunk, 0, len(pieces))
	for _, p := range pieces {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		chunks = append(chunks, Chunk{Text: p, Index: len(chunks), Metadata: map[string]string{}})
	}
	return chunks
}

// recursiveSplit splits text on the first separator that divides it, then
// merges segments back up to chunkSize, carrying overlap between chunks.
func recursiveSplit(text string, separators []string, chunkSize, overlap int) []string {
	if utf8.RuneCountInString(text) <= chunkSize {
		return []string{text}
	}

	var segments []string
	var usedSep string
	rest := separators
	for i, sep := range separators {
		if sep == "" {
			segments = splitByRunes(text, chunkSize)
			rest = nil
			break
		}
		if parts := strings.Split(text, sep); len(parts) > 1 {
			segments = parts
			usedSep = sep
			rest = separators[i+1:]
			break
		}
	}
	if len(segments) == 0 {
		return []string{text}
	}

	var out []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
		}
	}
	for _, seg := range segments {
		// A single oversized segment is split further with the finer separators.
		if utf8.RuneCountInString(seg) > chunkSize && len(rest) > 0 {
			flush()
			current.Reset()
			out = append(out, recursiveSplit(seg, rest, chunkSize, overlap)...)
			continue
		}

		candidate := current.String()
		if candidate != "" {
			candidate += usedSep
		}
		candidate += seg

		if utf8.RuneCountInString(candidate) > chunkSize && current.Len() > 0 {
			flush()
			tail := overlapTail(current.String(), overlap)
			if utf8.RuneCountInString(tail+usedSep+seg) > chunkSize {
				tail = ""
			}
			current.Reset()
			if tail != "" {
				current.WriteString(tail)
				current.WriteString(usedSep)
			}
			current.WriteString(seg)
			continue
		}
		if current.Len() > 0 {
			current.WriteString(usedSep)
		}
		current.WriteString(seg)
	}
	flush()
	return out
}

// overlapTail returns the last n runes of s.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}

// splitByRunes splits text into segments of n runes each.
func splitByRunes(text string, n int) []string {
	runes := []rune(text)
	var segments []string
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, string(runes[i:end]))
	}
	return segments
}
