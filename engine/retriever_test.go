package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/keepcontext/mnemo/memory"
	chromemindex "github.com/keepcontext/mnemo/memory/index/chromem"
)

// vecEmbedder maps known texts to fixed unit vectors so similarity scores
// are exact and rankings are deterministic.
type vecEmbedder struct {
	vecs map[string][]float32
}

func (e *vecEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.vecs[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 1}, nil
}

func (e *vecEmbedder) Dimensions() int { return 4 }

// unit builds a 4-dim unit vector whose first component is c, so its
// cosine similarity against [1,0,0,0] is exactly c.
func unit(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c)), 0, 0}
}

func newTestStack(t *testing.T) (*memory.Repository, *Retriever) {
	t.Helper()
	embedder := &vecEmbedder{vecs: map[string][]float32{
		"query": {1, 0, 0, 0},
		"g1":    unit(1.0),
		"g2":    unit(0.9),
		"p1":    unit(0.95),
		"p2":    unit(0.5),
		"x1":    unit(0.99),
	}}
	repo := memory.NewRepository(chromemindex.New("memories"), embedder)
	if err := repo.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return repo, NewRetriever(repo)
}

func store(t *testing.T, repo *memory.Repository, user, text string, scope memory.Scope, project string) string {
	t.Helper()
	res, err := repo.Store(context.Background(), user, memory.StoreParams{
		Text:       text,
		MemoryType: memory.TypeEpisodic,
		Scope:      scope,
		Entity:     text,
		Project:    project,
	})
	if err != nil {
		t.Fatalf("store %s: %v", text, err)
	}
	time.Sleep(time.Millisecond)
	return res.MemoryID
}

func seed(t *testing.T, repo *memory.Repository) {
	store(t, repo, "alice", "g1", memory.ScopeGlobal, "")
	store(t, repo, "alice", "g2", memory.ScopeGlobal, "")
	store(t, repo, "alice", "p1", memory.ScopeProject, "acme")
	store(t, repo, "alice", "p2", memory.ScopeProject, "acme")
	store(t, repo, "alice", "x1", memory.ScopeProject, "other")
}

func texts(memories []ContextMemory) []string {
	out := make([]string, len(memories))
	for i, m := range memories {
		out[i] = m.Text
	}
	return out
}

func TestHierarchicalMerge(t *testing.T) {
	repo, retriever := newTestStack(t)
	seed(t, repo)

	memories, err := retriever.RetrieveContext(context.Background(), "alice", "query", RetrieveOptions{
		Project: "acme",
		Limit:   4,
	})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}

	// Each half contributes Limit/2: global {g1, g2}, project {p1, p2},
	// merged in score order. x1 scores highest of the project records but
	// belongs to another project and must not appear.
	want := []string{"g1", "p1", "g2", "p2"}
	got := texts(memories)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("merge order: got %v, want %v", got, want)
		}
	}
	for i := 1; i < len(memories); i++ {
		if memories[i].Score > memories[i-1].Score {
			t.Errorf("scores not descending: %v then %v", memories[i-1].Score, memories[i].Score)
		}
	}
}

func TestHierarchicalHalvesOddLimit(t *testing.T) {
	repo, retriever := newTestStack(t)
	seed(t, repo)

	memories, err := retriever.RetrieveContext(context.Background(), "alice", "query", RetrieveOptions{
		Project: "acme",
		Limit:   3,
	})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	// Integer halves: one slot each side, the odd slot is lost.
	want := []string{"g1", "p1"}
	got := texts(memories)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExplicitScopeDisablesMerge(t *testing.T) {
	repo, retriever := newTestStack(t)
	seed(t, repo)

	memories, err := retriever.RetrieveContext(context.Background(), "alice", "query", RetrieveOptions{
		Scope:   memory.ScopeGlobal,
		Project: "acme",
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	for _, m := range memories {
		if m.Scope != "global" {
			t.Errorf("explicit scope leaked other scopes: %+v", m)
		}
	}
}

func TestScoreThreshold(t *testing.T) {
	repo, retriever := newTestStack(t)
	seed(t, repo)

	memories, err := retriever.RetrieveContext(context.Background(), "alice", "query", RetrieveOptions{
		Project:        "acme",
		Limit:          10,
		ScoreThreshold: 0.92,
	})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	got := texts(memories)
	if len(got) != 2 || got[0] != "g1" || got[1] != "p1" {
		t.Fatalf("threshold filtering: got %v, want [g1 p1]", got)
	}
}

func TestRelatedResolutionSkipsForeign(t *testing.T) {
	repo, retriever := newTestStack(t)

	g1 := store(t, repo, "alice", "g1", memory.ScopeGlobal, "")
	p1 := store(t, repo, "alice", "p1", memory.ScopeProject, "acme")
	bobID := store(t, repo, "bob", "g2", memory.ScopeGlobal, "")

	if _, err := repo.Link(context.Background(), "alice", p1, g1, "supports"); err != nil {
		t.Fatalf("link: %v", err)
	}
	// Cross-user and dangling links are stored but must not resolve.
	if _, err := repo.Link(context.Background(), "alice", p1, bobID, "refines"); err != nil {
		t.Fatalf("link foreign: %v", err)
	}
	if _, err := repo.Link(context.Background(), "alice", p1, "00000000-0000-0000-0000-000000000001", "refines"); err != nil {
		t.Fatalf("link dangling: %v", err)
	}

	memories, err := retriever.RetrieveContext(context.Background(), "alice", "query", RetrieveOptions{
		Project:        "acme",
		Limit:          10,
		IncludeRelated: true,
	})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}

	var found *ContextMemory
	for i := range memories {
		if memories[i].Text == "p1" {
			found = &memories[i]
		}
	}
	if found == nil {
		t.Fatalf("p1 not retrieved: %v", texts(memories))
	}
	if len(found.Related) != 1 {
		t.Fatalf("expected exactly the owned link to resolve, got %+v", found.Related)
	}
	if found.Related[0].ID != g1 || found.Related[0].Relation != "supports" {
		t.Errorf("resolved link: %+v", found.Related[0])
	}
}

func TestIncludeRelatedOff(t *testing.T) {
	repo, retriever := newTestStack(t)

	g1 := store(t, repo, "alice", "g1", memory.ScopeGlobal, "")
	p1 := store(t, repo, "alice", "p1", memory.ScopeProject, "acme")
	if _, err := repo.Link(context.Background(), "alice", p1, g1, "supports"); err != nil {
		t.Fatalf("link: %v", err)
	}

	memories, err := retriever.RetrieveContext(context.Background(), "alice", "query", RetrieveOptions{
		Project: "acme",
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	for _, m := range memories {
		if len(m.Related) != 0 {
			t.Errorf("related attached despite IncludeRelated=false: %+v", m)
		}
	}
}
