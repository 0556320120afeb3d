package document

// Chunk is the atomic unit of retrieved text. Chunks are produced by the
// ingestion subsystem and are immutable once indexed; retrievers only read
// them.
type Chunk struct {
	ID            string `json:"id"`
	Content       string `json:"content"`
	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title,omitempty"`
	DocumentURL   string `json:"document_url,omitempty"`
	SectionHeader string `json:"section_header,omitempty"`
	ChunkIndex    int    `json:"chunk_index"`
	TotalChunks   int    `json:"total_chunks"`
	TokenCount    int    `json:"token_count,omitempty"`
	HasCode       bool   `json:"has_code,omitempty"`
	HasFormula    bool   `json:"has_formula,omitempty"`
	HasTable      bool   `json:"has_table,omitempty"`
	TopicTag      string `json:"topic_tag,omitempty"`
}

// Metadata flattens the structural fields into a generic map, the shape
// vector-store payloads and stream metadata events use.
func (c Chunk) Metadata() map[string]any {
	m := map[string]any{
		"document_id":  c.DocumentID,
		"chunk_index":  c.ChunkIndex,
		"total_chunks": c.TotalChunks,
	}
	if c.DocumentTitle != "" {
		m["document_title"] = c.DocumentTitle
	}
	if c.DocumentURL != "" {
		m["document_url"] = c.DocumentURL
	}
	if c.SectionHeader != "" {
		m["section_header"] = c.SectionHeader
	}
	if c.TokenCount > 0 {
		m["token_count"] = c.TokenCount
	}
	if c.TopicTag != "" {
		m["topic_tag"] = c.TopicTag
	}
	if c.HasCode {
		m["has_code"] = true
	}
	if c.HasFormula {
		m["has_formula"] = true
	}
	if c.HasTable {
		m["has_table"] = true
	}
	return m
}

// ChunkFromMetadata rebuilds structural fields from a payload map. Backends
// return loosely typed payloads (JSON numbers arrive as float64), so every
// field is decoded defensively.
func ChunkFromMetadata(id, content string, meta map[string]any) Chunk {
	c := Chunk{ID: id, Content: content}
	if meta == nil {
		return c
	}
	c.DocumentID = stringField(meta, "document_id")
	c.DocumentTitle = stringField(meta, "document_title")
	c.DocumentURL = stringField(meta, "document_url")
	c.SectionHeader = stringField(meta, "section_header")
	c.TopicTag = stringField(meta, "topic_tag")
	c.ChunkIndex = intField(meta, "chunk_index")
	c.TotalChunks = intField(meta, "total_chunks")
	c.TokenCount = intField(meta, "token_count")
	c.HasCode = boolField(meta, "has_code")
	c.HasFormula = boolField(meta, "has_formula")
	c.HasTable = boolField(meta, "has_table")
	return c
}

func stringField(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func intField(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func boolField(meta map[string]any, key string) bool {
	v, ok := meta[key].(bool)
	return ok && v
}
