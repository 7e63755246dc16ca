package graphio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lshin-apl/bucky/domain/core"
)

const graphDocJSON = `{
	"start_date": "2020-05-01",
	"nodes": [
		{
			"id": 4001, "group_id": 40,
			"age_population": [1000, 2000, 500],
			"cumulative_cases": [1, 2, 4],
			"cumulative_deaths": [0, 0, 1]
		},
		{
			"id": 4003, "group_id": 40,
			"age_population": [800, 1500, 400],
			"cumulative_cases": [0, 1, 1],
			"cumulative_deaths": [0, 0, 0]
		}
	],
	"edges": [
		{"from": 4001, "to": 4001, "weight": 0.9},
		{"from": 4001, "to": 4003, "weight": 0.1}
	],
	"contact_matrices": {
		"home": [[1, 0, 0], [0, 1, 0], [0, 0, 1]]
	}
}`

func writeGraph(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write graph: %v", err)
	}
	return path
}

func TestLoadGraph(t *testing.T) {
	g, err := NewSource(writeGraph(t, graphDocJSON)).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !g.StartDate.Equal(time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %v", g.StartDate)
	}
	if len(g.Nodes) != 2 || len(g.Edges) != 2 {
		t.Fatalf("%d nodes, %d edges", len(g.Nodes), len(g.Edges))
	}
	if g.Nodes[1].ID != 4003 || g.Nodes[1].GroupID != 40 {
		t.Fatalf("node 1 = %+v", g.Nodes[1])
	}
	if g.Nodes[0].CaseHist[2] != 4 {
		t.Fatalf("case hist = %v", g.Nodes[0].CaseHist)
	}
	if len(g.Contact["home"]) != 3 {
		t.Fatalf("contact = %v", g.Contact)
	}
}

func TestLoadGraphErrors(t *testing.T) {
	cases := map[string]struct {
		doc  string
		want error
	}{
		"syntax":     {`{"nodes": `, core.ErrMalformedInput},
		"no nodes":   {`{"start_date": "2020-05-01", "nodes": []}`, core.ErrEmptyGraph},
		"bad date":   {`{"start_date": "May 1", "nodes": [{"id": 1}]}`, core.ErrMissingMetadata},
		"no agepop":  {`{"start_date": "2020-05-01", "nodes": [{"id": 1, "cumulative_cases": [1], "cumulative_deaths": [0]}]}`, core.ErrMissingAttr},
		"no history": {`{"start_date": "2020-05-01", "nodes": [{"id": 1, "age_population": [10]}]}`, core.ErrMissingAttr},
	}
	for name, tc := range cases {
		_, err := NewSource(writeGraph(t, tc.doc)).Load(context.Background())
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", name, err, tc.want)
		}
	}

	if _, err := NewSource(filepath.Join(t.TempDir(), "absent.json")).Load(context.Background()); err == nil {
		t.Fatal("missing file: no error")
	}
}
