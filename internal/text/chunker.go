package text

import "strings"

// Chunk is one retrievable segment of a document.
type Chunk struct {
	Index int
	Text  string
}

// Split cuts text into windows of at most size characters. Consecutive
// windows share overlap characters, so chunk k starts at k*(size-overlap).
// Splitting stops at the first window that reaches the end of the text.
//
// Windows are measured in runes, not bytes. Whitespace-only input yields no
// chunks.
func Split(text string, size, overlap int) []Chunk {
	if size <= 0 || strings.TrimSpace(text) == "" {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}

	runes := []rune(text)
	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		chunks = append(chunks, Chunk{Index: len(chunks), Text: string(runes[start:end])})
		if end >= len(runes) {
			break
		}
	}
	return chunks
}

// Texts returns the chunk texts in chunk order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
