package snapshot_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-test/deep"

	"github.com/micro-nova/medialink/internal/models"
	"github.com/micro-nova/medialink/internal/snapshot"
)

func sampleNodes() []models.Node {
	return []models.Node{
		{
			Path:   models.Path{"Root"},
			Name:   "Root",
			Groups: []models.Group{{Key: "a/b", Name: "AC/DC"}, {Key: "c", Name: "Coltrane"}},
		},
		{
			Path:   models.Path{"Root", "a/b"},
			Name:   "AC/DC",
			Tracks: []models.Track{{Key: "t1", ID: "t1", Name: "Thunderstruck", TotalTime: 292000}},
		},
	}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshot.db")
	db, err := snapshot.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if db.Path() != path {
		t.Errorf("Path() = %q", db.Path())
	}

	if err := db.Save(ctx, sampleNodes()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// reopen to prove it reached disk
	db, err = snapshot.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	got, err := db.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// ordered by key: "/Root" < "/Root/a\/b"
	if diff := deep.Equal(got, sampleNodes()); diff != nil {
		t.Error(diff)
	}
}

func TestSaveReplaces(t *testing.T) {
	ctx := context.Background()
	db, err := snapshot.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Save(ctx, sampleNodes()); err != nil {
		t.Fatal(err)
	}
	if n, err := db.Count(ctx); err != nil || n != 2 {
		t.Fatalf("Count = %d, %v; want 2", n, err)
	}

	only := []models.Node{{Path: models.Path{"Root", "c"}, Name: "Coltrane"}}
	if err := db.Save(ctx, only); err != nil {
		t.Fatal(err)
	}
	got, err := db.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(got, only); diff != nil {
		t.Error(diff)
	}
}

func TestLoadEmpty(t *testing.T) {
	db, err := snapshot.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	got, err := db.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("Load of empty snapshot = %v", got)
	}
}

func TestSaveCancelled(t *testing.T) {
	db, err := snapshot.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := db.Save(ctx, sampleNodes()); err == nil {
		t.Error("Save with cancelled context succeeded")
	}
	if n, _ := db.Count(context.Background()); n != 0 {
		t.Errorf("Count = %d after cancelled Save, want 0", n)
	}
}
