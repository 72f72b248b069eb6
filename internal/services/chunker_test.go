package services

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkText_PacksParagraphs(t *testing.T) {
	chunker := NewTextChunker()

	text := "First paragraph about the role.\n\nSecond paragraph about requirements.\n\nThird paragraph about the team."
	chunks := chunker.ChunkText(text, 1000, 0)

	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1 for text under the size limit", len(chunks))
	}
	if !strings.Contains(chunks[0], "First paragraph") || !strings.Contains(chunks[0], "Third paragraph") {
		t.Errorf("chunk lost paragraphs: %q", chunks[0])
	}
}

func TestChunkText_SplitsAtSizeLimit(t *testing.T) {
	chunker := NewTextChunker()

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString("A paragraph of filler text that takes up some room in the chunk.\n\n")
	}
	chunks := chunker.ChunkText(sb.String(), 200, 0)

	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want multiple for text over the size limit", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 200+2 {
			t.Errorf("chunk[%d] length = %d, exceeds limit", i, len(chunk))
		}
	}
}

func TestChunkText_OverlapCarriesContext(t *testing.T) {
	chunker := NewTextChunker()

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString("A paragraph of filler text that takes up some room in the chunk.\n\n")
	}
	chunks := chunker.ChunkText(sb.String(), 200, 50)

	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want multiple", len(chunks))
	}
	// Each chunk after the first repeats the tail of its predecessor.
	for i := 1; i < len(chunks); i++ {
		tail := lastNRunes(chunks[i-1], 50)
		if !strings.HasPrefix(chunks[i], tail) {
			t.Errorf("chunk[%d] does not start with the previous chunk's tail", i)
		}
	}
}

func TestChunkText_EmptyAndWhitespaceInput(t *testing.T) {
	chunker := NewTextChunker()

	if chunks := chunker.ChunkText("", 1000, 100); len(chunks) != 0 {
		t.Errorf("ChunkText(\"\") = %v, want empty", chunks)
	}
	if chunks := chunker.ChunkText("\n\n  \n\n", 1000, 100); len(chunks) != 0 {
		t.Errorf("ChunkText(whitespace) = %v, want empty", chunks)
	}
}

func TestTruncateBytes(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want string
	}{
		{"under the cap", "hello", 100, "hello"},
		{"exact cap", "hello", 5, "hello"},
		{"ascii cut", "hello world", 5, "hello"},
		{"zero cap", "hello", 0, ""},
		// "é" is two bytes; a byte cut at 2 would land mid-rune.
		{"mid-rune cut backs up", "hé", 2, "h"},
		{"multibyte kept when whole", "héllo", 3, "hé"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateBytes(tt.text, tt.max)
			if got != tt.want {
				t.Errorf("truncateBytes(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncateBytes(%q, %d) produced invalid UTF-8", tt.text, tt.max)
			}
		})
	}
}

func TestLastNRunes(t *testing.T) {
	tests := []struct {
		text string
		n    int
		want string
	}{
		{"hello world", 5, "world"},
		{"short", 100, "short"},
		{"hello", 0, ""},
		{"héllo", 2, "lo"},
	}

	for _, tt := range tests {
		if got := lastNRunes(tt.text, tt.n); got != tt.want {
			t.Errorf("lastNRunes(%q, %d) = %q, want %q", tt.text, tt.n, got, tt.want)
		}
	}
}
