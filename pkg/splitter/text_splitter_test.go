package splitter

import (
	"strings"
	"testing"
)

func TestSplitTextRespectsChunkSize(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 100)

	chunks, err := NewRecursiveCharacterTextSplitter(200, 20).SplitText(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want several", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 200 {
			t.Errorf("chunk %d has %d chars, want <= 200", i, len(c))
		}
	}
}

func TestSplitTextEmpty(t *testing.T) {
	chunks, err := NewRecursiveCharacterTextSplitter(100, 10).SplitText("   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("chunks = %v, want none", chunks)
	}
}
