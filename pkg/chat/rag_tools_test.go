package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

func TestBuildDocuments(t *testing.T) {
	docs := buildDocuments("https://arxiv.org/pdf/1", "Paper", []string{"a", "b"}, [][]float32{{1}, {2}})

	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[1].Content)
	assert.Equal(t, []float32{2}, docs[1].Embedding)
	assert.Equal(t, map[string]interface{}{"source": "https://arxiv.org/pdf/1", "title": "Paper", "chunk": 1}, docs[1].Metadata)
}

func TestFormatDocuments(t *testing.T) {
	docs := []vectorstore.Document{
		{Content: "first", Metadata: map[string]interface{}{"source": "s1", "title": "T", "chunk": 0}},
		{Content: "second", Metadata: map[string]interface{}{}},
	}

	withSource := formatDocuments(docs, true)
	assert.Equal(t, "[Source]: s1\n[Content]: first\n[chunk]: 0\n[title]: T\n\n[Source]: unknown\n[Content]: second", withSource)

	plain := formatDocuments(docs[:1], false)
	assert.Equal(t, "[Content]: first\n[chunk]: 0\n[source]: s1\n[title]: T", plain)

	assert.Empty(t, formatDocuments(nil, true))
}
