package matcher

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestRegistry_Add(t *testing.T) {
	r := NewRegistry(3)

	if err := r.Add(KnownFace{ID: "a", Name: "Alice", Embedding: vec(1, 2, 3)}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	face, ok := r.Get("a")
	if !ok {
		t.Fatal("Get(a) not found")
	}
	if face.Name != "Alice" {
		t.Errorf("Name = %q, want Alice", face.Name)
	}
	if face.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestRegistry_AddRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		face    KnownFace
		wantErr error
	}{
		{"missing id", KnownFace{Embedding: vec(1, 2, 3)}, ErrInvalidFace},
		{"missing embedding", KnownFace{ID: "x"}, ErrInvalidFace},
		{"wrong dimension", KnownFace{ID: "x", Embedding: vec(1, 2)}, ErrDimensionMismatch},
		{"duplicate", KnownFace{ID: "a", Embedding: vec(4, 5, 6)}, ErrDuplicateID},
	}

	r := NewRegistry(3)
	if err := r.Add(KnownFace{ID: "a", Embedding: vec(1, 2, 3)}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Add(tt.face)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Add() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after rejected adds", r.Len())
	}
}

func TestRegistry_FirstFaceFixesDimension(t *testing.T) {
	r := NewRegistry(0)
	if r.Dim() != 0 {
		t.Errorf("Dim() = %d, want 0", r.Dim())
	}
	if err := r.Add(KnownFace{ID: "a", Embedding: vec(1, 2)}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if r.Dim() != 2 {
		t.Errorf("Dim() = %d, want 2", r.Dim())
	}
	if err := r.Add(KnownFace{ID: "b", Embedding: vec(1, 2, 3)}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Add() error = %v, want ErrDimensionMismatch", err)
	}
}

func TestRegistry_CopiesEmbedding(t *testing.T) {
	r := NewRegistry(0)
	emb := vec(1, 2, 3)
	if err := r.Add(KnownFace{ID: "a", Embedding: emb}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	emb[0] = 99

	face, _ := r.Get("a")
	if face.Embedding[0] != 1 {
		t.Errorf("registry embedding changed through caller slice: %v", face.Embedding)
	}
}

func TestRegistry_AddAll(t *testing.T) {
	r := NewRegistry(2)
	added, err := r.AddAll([]KnownFace{
		{ID: "a", Embedding: vec(1, 2)},
		{ID: "b", Embedding: vec(1, 2, 3)},
		{ID: "c", Embedding: vec(3, 4)},
	})
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch", err)
	}

	ids := []string{}
	for _, f := range r.List() {
		ids = append(ids, f.ID)
	}
	if fmt.Sprint(ids) != "[a c]" {
		t.Errorf("order = %v, want [a c]", ids)
	}
}

func TestRegistry_SnapshotIsStable(t *testing.T) {
	r := NewRegistry(1)
	_ = r.Add(KnownFace{ID: "a", Embedding: vec(1)})

	snap := r.Snapshot()
	_ = r.Add(KnownFace{ID: "b", Embedding: vec(2)})

	if len(snap) != 1 {
		t.Errorf("snapshot grew to %d", len(snap))
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistry_Search(t *testing.T) {
	r := NewRegistry(1)
	_ = r.Add(KnownFace{ID: "1", Name: "Jan Novák", Embedding: vec(1)})
	_ = r.Add(KnownFace{ID: "2", Name: "Jana Dvořáková", Embedding: vec(2)})
	_ = r.Add(KnownFace{ID: "3", Name: "Petr", Embedding: vec(3)})

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"jan", 2},
		{"jan-novak", 1},
		{"DVORAK", 1},
		{"nobody", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := len(r.Search(tt.query)); got != tt.want {
				t.Errorf("Search(%q) = %d results, want %d", tt.query, got, tt.want)
			}
		})
	}
}

func TestRegistry_ConcurrentAddAndMatch(t *testing.T) {
	r := NewRegistry(2)
	_ = r.Add(KnownFace{ID: "seed", Embedding: vec(0, 0)})
	m := NewMatcher(r, DefaultThreshold)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = r.Add(KnownFace{ID: fmt.Sprintf("id-%d", i), Embedding: vec(float32(i), 1)})
		}(i)
		go func() {
			defer wg.Done()
			if _, err := m.Match(vec(0, 0)); err != nil {
				t.Errorf("Match() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if r.Len() != 21 {
		t.Errorf("Len() = %d, want 21", r.Len())
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Jan Novák", "jan novak"},
		{"jan-novak", "jan novak"},
		{"JOHN DOE", "john doe"},
		{" Žluťoučký ", "zlutoucky"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeName(tt.input); got != tt.expected {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
