// Package chunker splits page text into retrieval-sized chunks and computes
// content fingerprints for change detection.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/clipperhouse/uax29/v2/sentences"
)

// Piece is one chunk of a page's text. Indices are 0-based and contiguous.
type Piece struct {
	Index         int
	Text          string
	TokenEstimate int
}

// Chunker splits text at sentence boundaries into pieces near a target size.
type Chunker struct {
	targetSize int // characters
	overlap    int // characters carried over between adjacent chunks
}

// New creates a Chunker. targetSize and overlap are in characters; overlap
// must be smaller than targetSize.
func New(targetSize, overlap int) *Chunker {
	if targetSize <= 0 {
		targetSize = 1200
	}
	if overlap < 0 || overlap >= targetSize {
		overlap = targetSize / 8
	}
	return &Chunker{targetSize: targetSize, overlap: overlap}
}

// Split breaks text into pieces. Sentences are never split across chunks
// unless a single sentence exceeds the target size, in which case it becomes
// its own oversize chunk. Adjacent chunks share trailing sentences up to the
// overlap window. Empty or whitespace-only input yields zero pieces.
// Deterministic for identical input and parameters.
func (c *Chunker) Split(text string) []Piece {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sents := splitSentences(text)
	if len(sents) == 0 {
		return nil
	}

	var pieces []Piece
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		joined := strings.TrimSpace(strings.Join(current, " "))
		pieces = append(pieces, Piece{
			Index:         len(pieces),
			Text:          joined,
			TokenEstimate: EstimateTokens(joined),
		})
		// Seed the next chunk with trailing sentences inside the overlap
		// window, oldest first.
		var tail []string
		tailLen := 0
		for i := len(current) - 1; i >= 0; i-- {
			l := len(current[i]) + 1
			if tailLen+l > c.overlap {
				break
			}
			tail = append([]string{current[i]}, tail...)
			tailLen += l
		}
		current = tail
		currentLen = tailLen
	}

	for _, s := range sents {
		if len(s) >= c.targetSize {
			// Oversize sentence stands alone.
			flush()
			current = nil
			currentLen = 0
			pieces = append(pieces, Piece{
				Index:         len(pieces),
				Text:          s,
				TokenEstimate: EstimateTokens(s),
			})
			continue
		}
		if currentLen > 0 && currentLen+len(s)+1 > c.targetSize {
			flush()
		}
		current = append(current, s)
		currentLen += len(s) + 1
	}
	flush()

	return pieces
}

// splitSentences segments text into trimmed, non-empty sentences.
func splitSentences(text string) []string {
	var out []string
	seg := sentences.FromString(text)
	for seg.Next() {
		s := strings.TrimSpace(seg.Value())
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EstimateTokens approximates the token count of text as words scaled by 4/3.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return (words*4 + 2) / 3
}

// Fingerprint returns the sha256 hex digest of the normalized text. Two
// pages whose text differs only in whitespace share a fingerprint.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// Normalize collapses runs of whitespace to single spaces and trims.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
