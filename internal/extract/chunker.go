package extract

import "strings"

// ChunkText splits normalized text into overlapping character windows.
// Each window starts window-overlap runes after the previous one, so
// consecutive chunks share overlap runes of context. A trailing
// partial window is kept when it has visible content.
func ChunkText(text string, window, overlap int) []string {
	if window <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= window {
		overlap = 0
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := window - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}
		chunk := string(runes[start:end])
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
