package loader

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
)

// SplitText cuts text into chunks of exactly size runes each, with overlap
// runes shared between consecutive chunks. The final chunk takes whatever
// remains. An empty text produces no chunks.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := size - overlap
	var chunks []string
	for start := 0; ; start += step {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
