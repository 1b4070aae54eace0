package config

// RagConfig groups the settings of the document context provider.
type RagConfig struct {
	EmbeddingModel string
	Collection     string
	ChunkSize      int
	ChunkOverlap   int
	TopK           int
}

func (c *Config) Rag() RagConfig {
	return RagConfig{
		EmbeddingModel: c.EmbeddingModel,
		Collection:     c.CollectionName,
		ChunkSize:      c.ChunkSize,
		ChunkOverlap:   c.ChunkOverlap,
		TopK:           c.RagTopK,
	}
}
