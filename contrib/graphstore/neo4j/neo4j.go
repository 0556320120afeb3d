// Package neo4j backs the graph store contract with a Neo4j property graph
// of Concept and Chunk nodes.
package neo4j

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/studyhall-ai/studyhall/retrieval"
)

// Config holds Neo4j connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
	// FulltextIndex is the name of the fulltext index over Concept.name.
	FulltextIndex string
}

// DefaultConfig returns the local-development defaults.
func DefaultConfig() Config {
	return Config{
		URI:           "bolt://127.0.0.1:7687",
		Username:      "neo4j",
		Password:      "neo4j",
		FulltextIndex: "concept_names",
	}
}

// allowedRelationships is the closed set of relationship types that may be
// interpolated into Cypher. Relationship types cannot be parameterized, so
// anything outside this set is rejected.
var allowedRelationships = map[string]struct{}{
	"PREREQUISITE": {},
	"RELATED_TO":   {},
	"COMPARED_TO":  {},
	"PART_OF":      {},
	"DISCUSSES":    {},
}

// Store implements retrieval.GraphStore.
type Store struct {
	driver neo4j.DriverWithContext
	cfg    Config
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.FulltextIndex == "" {
		cfg.FulltextIndex = DefaultConfig().FulltextIndex
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &Store{driver: driver, cfg: cfg}, nil
}

// Close releases the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.cfg.Database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, err
	}
	return result.Records, nil
}

// FindConcepts matches concept nodes against the fulltext name index. The
// query is Lucene-escaped; user input never alters query syntax.
func (s *Store) FindConcepts(ctx context.Context, query string, limit int) ([]retrieval.ConceptMatch, error) {
	records, err := s.run(ctx, `
		CALL db.index.fulltext.queryNodes($index, $query) YIELD node, score
		RETURN node.name AS name, score
		ORDER BY score DESC
		LIMIT $limit`,
		map[string]any{
			"index": s.cfg.FulltextIndex,
			"query": escapeLucene(query),
			"limit": limit,
		})
	if err != nil {
		return nil, fmt.Errorf("fulltext concept search: %w", err)
	}
	matches := make([]retrieval.ConceptMatch, 0, len(records))
	for _, rec := range records {
		name, _ := rec.Get("name")
		score, _ := rec.Get("score")
		n, ok := name.(string)
		if !ok {
			continue
		}
		m := retrieval.ConceptMatch{Name: n}
		if f, ok := score.(float64); ok {
			m.Score = f
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// MatchConceptsByKeyword is the seed fallback: case-insensitive containment
// on the concept name.
func (s *Store) MatchConceptsByKeyword(ctx context.Context, keywords []string, limit int) ([]retrieval.ConceptMatch, error) {
	records, err := s.run(ctx, `
		MATCH (c:Concept)
		WHERE any(kw IN $keywords WHERE toLower(c.name) CONTAINS kw)
		RETURN c.name AS name
		LIMIT $limit`,
		map[string]any{"keywords": keywords, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("keyword concept search: %w", err)
	}
	matches := make([]retrieval.ConceptMatch, 0, len(records))
	for _, rec := range records {
		if name, ok := recString(rec, "name"); ok {
			matches = append(matches, retrieval.ConceptMatch{Name: name})
		}
	}
	return matches, nil
}

// TraverseRelated walks from the seeds along the allow-listed relationship
// types up to maxDepth and reports each reached concept at its minimum depth.
func (s *Store) TraverseRelated(ctx context.Context, seeds []string, relationshipTypes []string, maxDepth int) (map[string]int, error) {
	relPattern, err := relationshipPattern(relationshipTypes)
	if err != nil {
		return nil, err
	}
	if maxDepth < 0 {
		maxDepth = 0
	}

	cypher := fmt.Sprintf(`
		MATCH (seed:Concept) WHERE seed.name IN $seeds
		MATCH path = (seed)-[:%s*0..%d]-(related:Concept)
		RETURN related.name AS name, min(length(path)) AS depth`,
		relPattern, maxDepth)

	records, err := s.run(ctx, cypher, map[string]any{"seeds": seeds})
	if err != nil {
		return nil, fmt.Errorf("traverse related concepts: %w", err)
	}

	depths := make(map[string]int, len(records))
	for _, rec := range records {
		name, ok := recString(rec, "name")
		if !ok {
			continue
		}
		depthVal, _ := rec.Get("depth")
		depth, ok := depthVal.(int64)
		if !ok {
			continue
		}
		if prev, seen := depths[name]; !seen || int(depth) < prev {
			depths[name] = int(depth)
		}
	}
	return depths, nil
}

// ChunksDiscussing gathers the chunks attached to the reached concepts,
// together with every reached concept each chunk discusses.
func (s *Store) ChunksDiscussing(ctx context.Context, concepts []string) ([]retrieval.ChunkMention, error) {
	records, err := s.run(ctx, `
		MATCH (ch:Chunk)-[:DISCUSSES]->(c:Concept)
		WHERE c.name IN $concepts
		RETURN ch.id AS id, ch.content AS content, properties(ch) AS props,
		       collect(DISTINCT c.name) AS concepts`,
		map[string]any{"concepts": concepts})
	if err != nil {
		return nil, fmt.Errorf("gather discussing chunks: %w", err)
	}

	mentions := make([]retrieval.ChunkMention, 0, len(records))
	for _, rec := range records {
		id, ok := recString(rec, "id")
		if !ok {
			continue
		}
		content, _ := recString(rec, "content")
		mention := retrieval.ChunkMention{ChunkID: id, Content: content}

		if props, ok := recMap(rec, "props"); ok {
			delete(props, "id")
			delete(props, "content")
			mention.Metadata = props
		}
		if names, _ := rec.Get("concepts"); names != nil {
			if list, ok := names.([]any); ok {
				for _, v := range list {
					if name, ok := v.(string); ok {
						mention.Concepts = append(mention.Concepts, name)
					}
				}
			}
		}
		mentions = append(mentions, mention)
	}
	return mentions, nil
}

// Health verifies driver connectivity.
func (s *Store) Health(ctx context.Context) bool {
	return s.driver.VerifyConnectivity(ctx) == nil
}

// relationshipPattern joins the validated types into the Cypher union form
// REL1|REL2|... used in variable-length patterns.
func relationshipPattern(types []string) (string, error) {
	if len(types) == 0 {
		types = retrieval.DefaultRelationshipTypes
	}
	for _, t := range types {
		if _, ok := allowedRelationships[t]; !ok {
			return "", fmt.Errorf("relationship type %q not allowed", t)
		}
	}
	return strings.Join(types, "|"), nil
}

// luceneSpecials are the characters with syntactic meaning in a Lucene query.
const luceneSpecials = `+-&|!(){}[]^"~*?:\/`

func escapeLucene(query string) string {
	var sb strings.Builder
	sb.Grow(len(query))
	for _, r := range query {
		if strings.ContainsRune(luceneSpecials, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func recString(rec *neo4j.Record, key string) (string, bool) {
	v, ok := rec.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func recMap(rec *neo4j.Record, key string) (map[string]any, bool) {
	v, ok := rec.Get(key)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}
