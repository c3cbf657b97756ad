package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xhad/jobimport/internal/models"
)

// ProcessorConfig sizes are in bytes of UTF-8 text.
type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	// An explicit size with zero overlap means no overlap.
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
		if config.ChunkOverlap == 0 {
			config.ChunkOverlap = 200
		}
	}

	return Processor{
		config: config,
	}
}

// Split partitions every document into chunks, in document order.
// Chunk i+1 starts at most ChunkOverlap bytes before chunk i ends, so the
// original text is recovered with Reassemble. Content is split as given;
// invalid UTF-8 bytes are kept and count as one byte each.
func (p Processor) Split(docs []models.SourceDocument) ([]models.Chunk, error) {
	if p.config.ChunkSize < 1 {
		return nil, &models.SplitError{Reason: fmt.Sprintf("chunk size must be positive, got %d", p.config.ChunkSize)}
	}
	if p.config.ChunkOverlap < 0 || p.config.ChunkOverlap >= p.config.ChunkSize {
		return nil, &models.SplitError{Reason: fmt.Sprintf("overlap %d must be in [0, %d)", p.config.ChunkOverlap, p.config.ChunkSize)}
	}

	var chunks []models.Chunk
	for _, doc := range docs {
		for i, span := range p.spans(doc.Content) {
			chunks = append(chunks, models.Chunk{
				ID:        fmt.Sprintf("%s_%d", doc.ID, i),
				SourceID:  doc.ID,
				SourceURL: doc.URL,
				Index:     len(chunks),
				Start:     span[0],
				End:       span[1],
				Text:      doc.Content[span[0]:span[1]],
			})
		}
	}
	return chunks, nil
}

// separators are tried in order when looking for a clean place to end a chunk.
var separators = []string{"\n\n", "\n", ". ", "! ", "? ", " "}

func (p Processor) spans(text string) [][2]int {
	n := len(text)
	if n == 0 {
		return nil
	}

	size, overlap := p.config.ChunkSize, p.config.ChunkOverlap
	var out [][2]int
	start := 0
	for start < n {
		end := start + size
		if end >= n {
			end = n
		} else {
			end = runeFloor(text, end, start)
			if b := breakPoint(text, start+size/2, end); b > start {
				end = b
			}
		}
		out = append(out, [2]int{start, end})
		if end == n {
			break
		}

		// Stray continuation bytes must not push the next start past end.
		next := min(runeCeil(text, end-overlap), end)
		if overlap > 0 {
			// Start the overlap on a word boundary when one is close by.
			if i := strings.IndexByte(text[next:end], ' '); i >= 0 && next+i+1 < end {
				next += i + 1
			}
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// breakPoint returns the offset just past the last separator in text[lo:hi],
// or -1 if none exists.
func breakPoint(text string, lo, hi int) int {
	if lo < 0 {
		lo = 0
	}
	if lo >= hi {
		return -1
	}
	window := text[lo:hi]
	for _, sep := range separators {
		if i := strings.LastIndex(window, sep); i >= 0 {
			return lo + i + len(sep)
		}
	}
	return -1
}

func runeFloor(text string, i, min int) int {
	for i > min && !utf8.RuneStart(text[i]) {
		i--
	}
	if i == min {
		// A single rune wider than the chunk; take it whole.
		_, w := utf8.DecodeRuneInString(text[min:])
		return min + w
	}
	return i
}

func runeCeil(text string, i int) int {
	if i < 0 {
		return 0
	}
	for i < len(text) && !utf8.RuneStart(text[i]) {
		i++
	}
	return i
}

// Reassemble drops each chunk's overlap with its predecessor from the same
// source and concatenates the rest, returning one string per source in order.
func Reassemble(chunks []models.Chunk) []string {
	var (
		out     []string
		b       strings.Builder
		source  string
		prevEnd int
	)
	for i, c := range chunks {
		if i == 0 || c.SourceID != source {
			if i > 0 {
				out = append(out, b.String())
				b.Reset()
			}
			source = c.SourceID
			b.WriteString(c.Text)
			prevEnd = c.End
			continue
		}
		if skip := prevEnd - c.Start; skip > 0 && skip <= len(c.Text) {
			b.WriteString(c.Text[skip:])
		} else {
			b.WriteString(c.Text)
		}
		prevEnd = c.End
	}
	if len(chunks) > 0 {
		out = append(out, b.String())
	}
	return out
}
