package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rohankatakam/workgraph/internal/errors"
	"github.com/rohankatakam/workgraph/internal/graph"
	"github.com/rohankatakam/workgraph/internal/models"
)

// Source produces normalized records
type Source interface {
	Name() string
	Records(ctx context.Context) (*models.Records, error)
}

// FileSource reads records from a JSON file
type FileSource struct {
	Path string
}

func (f FileSource) Name() string { return "file:" + f.Path }

// Records implements Source
func (f FileSource) Records(ctx context.Context) (*models.Records, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "open records %s", f.Path)
	}
	defer file.Close()
	return Decode(file)
}

// Decode parses a {"nodes":[...],"edges":[...]} document
func Decode(r io.Reader) (*models.Records, error) {
	var recs models.Records
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&recs); err != nil {
		return nil, errors.ValidationErrorf("decode records: %v", err)
	}
	return &recs, nil
}

// Apply adds nodes, then edges, to store. The first graph error is returned
// and the store must then be discarded.
func Apply(store *graph.Store, recs *models.Records) error {
	for _, n := range recs.Nodes {
		if err := store.AddNode(n); err != nil {
			return err
		}
	}
	for _, e := range recs.Edges {
		if _, err := store.AddEdge(e); err != nil {
			return fmt.Errorf("edge %s -[%s]-> %s: %w", e.Source, e.Kind, e.Target, err)
		}
	}
	return nil
}
