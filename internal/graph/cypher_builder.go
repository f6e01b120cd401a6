package graph

import (
	"fmt"
	"regexp"
	"strings"
)

// EvidenceLabel is carried by every exported node so edges can be matched
// without knowing endpoint kinds.
const EvidenceLabel = "Evidence"

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// CypherBuilder builds parameterized Cypher queries. Labels and
// relationship types cannot be parameters, so they are validated as plain
// identifiers; every value goes through a parameter.
type CypherBuilder struct {
	params  map[string]any
	counter int
}

// NewCypherBuilder creates a query builder
func NewCypherBuilder() *CypherBuilder {
	return &CypherBuilder{params: make(map[string]any)}
}

// AddParam adds a parameter and returns its placeholder
func (b *CypherBuilder) AddParam(value any) string {
	name := fmt.Sprintf("p%d", b.counter)
	b.counter++
	b.params[name] = value
	return "$" + name
}

// Params returns all parameters for the query
func (b *CypherBuilder) Params() map[string]any {
	return b.params
}

// BuildMergeNodes creates an UNWIND MERGE over rows of {id, props} for one
// node label.
func (b *CypherBuilder) BuildMergeNodes(label string, rows []map[string]any) (string, error) {
	if !isValidIdentifier(label) {
		return "", fmt.Errorf("invalid node label: %s", label)
	}
	rowsParam := b.AddParam(rows)
	return fmt.Sprintf(
		"UNWIND %s AS row MERGE (n:%s {id: row.id}) SET n:%s, n += row.props",
		rowsParam, EvidenceLabel, label,
	), nil
}

// BuildMergeEdges creates an UNWIND MERGE over rows of {id, source, target,
// props} for one relationship type.
func (b *CypherBuilder) BuildMergeEdges(relType string, rows []map[string]any) (string, error) {
	if !isValidIdentifier(relType) {
		return "", fmt.Errorf("invalid relationship type: %s", relType)
	}
	rowsParam := b.AddParam(rows)
	return strings.Join([]string{
		fmt.Sprintf("UNWIND %s AS row", rowsParam),
		fmt.Sprintf("MATCH (a:%s {id: row.source})", EvidenceLabel),
		fmt.Sprintf("MATCH (b:%s {id: row.target})", EvidenceLabel),
		fmt.Sprintf("MERGE (a)-[r:%s {id: row.id}]->(b)", relType),
		"SET r += row.props",
	}, " "), nil
}

// isValidIdentifier reports whether s can be used as a Cypher label or type
func isValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
