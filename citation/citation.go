// Package citation manages citation identifiers for grounded answers:
// creation from ranked evidence, usage filtering, renumbering, and
// validation of markers emitted by the model.
package citation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/studyhall-ai/studyhall/rerank"
)

// DefaultMaxSnippetLength bounds the snippet stored on each citation.
const DefaultMaxSnippetLength = 300

// markerPattern matches a citation marker [k] for positive integer k.
var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// Citation links a marker id to the chunk that backs it. One citation is
// created per ranked result; the set may be filtered and renumbered after
// generation.
type Citation struct {
	ID             string  `json:"id"`
	ChunkID        string  `json:"chunk_id"`
	DocumentTitle  string  `json:"document_title,omitempty"`
	DocumentURL    string  `json:"document_url,omitempty"`
	Snippet        string  `json:"snippet,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Create assigns 1-origin ids [1]..[n] in ranked order.
func Create(ranked []rerank.RankedResult, maxSnippetLength int) []Citation {
	if maxSnippetLength <= 0 {
		maxSnippetLength = DefaultMaxSnippetLength
	}
	citations := make([]Citation, 0, len(ranked))
	for i, r := range ranked {
		chunk := chunkInfo(r.Metadata)
		citations = append(citations, Citation{
			ID:             fmt.Sprintf("[%d]", i+1),
			ChunkID:        r.ChunkID,
			DocumentTitle:  chunk.title,
			DocumentURL:    chunk.url,
			Snippet:        Snippet(r.Content, maxSnippetLength),
			RelevanceScore: r.RerankScore,
		})
	}
	return citations
}

type docInfo struct {
	title string
	url   string
}

func chunkInfo(meta map[string]any) docInfo {
	var d docInfo
	if v, ok := meta["document_title"].(string); ok {
		d.title = v
	}
	if v, ok := meta["document_url"].(string); ok {
		d.url = v
	}
	return d
}

// Snippet truncates content at the nearest sentence boundary within the
// limit, falling back to a word boundary with an ellipsis. The limit is in
// bytes but the cut never splits a multibyte rune.
func Snippet(content string, limit int) string {
	content = strings.TrimSpace(content)
	if limit <= 0 || len(content) <= limit {
		return content
	}
	window := content[:runeSafeCut(content, limit)]
	if cut := lastSentenceEnd(window); cut > 0 {
		return strings.TrimSpace(window[:cut])
	}
	if cut := strings.LastIndexByte(window, ' '); cut > 0 {
		return strings.TrimSpace(window[:cut]) + "..."
	}
	return window + "..."
}

// runeSafeCut backs the cut point off to the nearest rune start.
func runeSafeCut(s string, limit int) int {
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return limit
}

func lastSentenceEnd(s string) int {
	if s == "" {
		return -1
	}
	best := -1
	for _, terminator := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(s, terminator); idx > best {
			best = idx + 1
		}
	}
	if best < 0 {
		for _, r := range []byte{'.', '!', '?'} {
			if s[len(s)-1] == r {
				return len(s)
			}
		}
		return -1
	}
	return best
}

// FilterUsed keeps only citations whose id literal appears in the answer.
func FilterUsed(citations []Citation, answer string) []Citation {
	used := make([]Citation, 0, len(citations))
	for _, c := range citations {
		if strings.Contains(answer, c.ID) {
			used = append(used, c)
		}
	}
	return used
}

// Renumber compresses the citations referenced in the answer to a contiguous
// [1..m] range in order of first appearance, rewriting the markers in the
// text. Duplicate markers collapse to the same new id; markers that do not
// correspond to a known citation are left untouched (and excluded from the
// returned list). Renumber is idempotent.
func Renumber(answer string, citations []Citation) (string, []Citation) {
	byID := make(map[string]Citation, len(citations))
	for _, c := range citations {
		byID[c.ID] = c
	}

	assign := make(map[string]int)
	ordered := make([]Citation, 0, len(citations))
	rewritten := markerPattern.ReplaceAllStringFunc(answer, func(marker string) string {
		c, known := byID[marker]
		if !known {
			return marker
		}
		newID, seen := assign[marker]
		if !seen {
			newID = len(ordered) + 1
			assign[marker] = newID
			c.ID = fmt.Sprintf("[%d]", newID)
			ordered = append(ordered, c)
		}
		return fmt.Sprintf("[%d]", newID)
	})
	return rewritten, ordered
}

// Validation reports markers present in the answer text that have no backing
// citation.
type Validation struct {
	Valid   bool     `json:"valid"`
	Missing []string `json:"missing,omitempty"`
}

// Validate checks every [k] marker in the answer against the citation set.
func Validate(answer string, citations []Citation) Validation {
	known := make(map[string]struct{}, len(citations))
	for _, c := range citations {
		known[c.ID] = struct{}{}
	}
	var missing []string
	seen := make(map[string]struct{})
	for _, match := range markerPattern.FindAllString(answer, -1) {
		if _, ok := known[match]; ok {
			continue
		}
		if _, dup := seen[match]; dup {
			continue
		}
		seen[match] = struct{}{}
		missing = append(missing, match)
	}
	return Validation{Valid: len(missing) == 0, Missing: missing}
}

// MarkerIDs extracts the distinct marker numbers appearing in text, in order
// of first appearance.
func MarkerIDs(text string) []int {
	var ids []int
	seen := make(map[int]struct{})
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		ids = append(ids, n)
	}
	return ids
}
