package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestSceneRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Snapshot{
		Title:    "Wireframe",
		Elements: json.RawMessage(`[{"id":"el_1","type":"rectangle","x":0,"y":0,"width":100,"height":60}]`),
		AppState: json.RawMessage(`{"viewBackgroundColor":"#ffffff"}`),
	}

	if err := svc.EnsureSceneRepo("scn_1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureSceneRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "scn_1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	// Idempotent re-create.
	if err := svc.EnsureSceneRepo("scn_1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureSceneRepo() second call error = %v", err)
	}

	updated := initial
	updated.Elements = json.RawMessage(`[{"id":"el_1","type":"rectangle","x":10,"y":10,"width":100,"height":60}]`)
	rev, err := svc.CommitSnapshot("scn_1", updated, "Avery", "Move rectangle")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if rev.Hash == "" {
		t.Fatal("expected revision hash")
	}

	revisions, err := svc.History("scn_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(revisions) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(revisions))
	}
	if !strings.HasPrefix(revisions[0].Message, "Move rectangle") {
		t.Fatalf("unexpected head revision message: %q", revisions[0].Message)
	}

	snapshot, err := svc.GetSnapshot("scn_1", rev.Hash)
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if !strings.Contains(string(snapshot.Elements), `"x": 10`) && !strings.Contains(string(snapshot.Elements), `"x":10`) {
		t.Fatalf("unexpected snapshot elements: %s", snapshot.Elements)
	}

	original, err := svc.GetSnapshot("scn_1", revisions[1].Hash)
	if err != nil {
		t.Fatalf("GetSnapshot() original error = %v", err)
	}
	if !strings.Contains(string(original.Elements), `"x":0`) && !strings.Contains(string(original.Elements), `"x": 0`) {
		t.Fatalf("unexpected original elements: %s", original.Elements)
	}
}

func TestHistoryLimit(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Snapshot{Title: "Board", Elements: json.RawMessage(`[]`)}
	if err := svc.EnsureSceneRepo("scn_2", initial, "Avery"); err != nil {
		t.Fatalf("EnsureSceneRepo() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		next := initial
		next.Title = fmt.Sprintf("Board v%d", i)
		if _, err := svc.CommitSnapshot("scn_2", next, "Avery", fmt.Sprintf("Revision %d", i)); err != nil {
			t.Fatalf("CommitSnapshot() error = %v", err)
		}
	}

	revisions, err := svc.History("scn_2", 3)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(revisions) != 3 {
		t.Fatalf("expected 3 revisions with limit, got %d", len(revisions))
	}
}

func TestConcurrentCommitSnapshot(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Snapshot{Title: "Board", Elements: json.RawMessage(`[]`)}
	if err := svc.EnsureSceneRepo("scn_3", initial, "Avery"); err != nil {
		t.Fatalf("EnsureSceneRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := initial
			next.Title = fmt.Sprintf("Board %02d", idx)
			if _, err := svc.CommitSnapshot("scn_3", next, "Avery", fmt.Sprintf("Revision %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitSnapshot() concurrent error = %v", err)
		}
	}

	revisions, err := svc.History("scn_3", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(revisions) != writers+1 {
		t.Fatalf("expected %d revisions, got %d", writers+1, len(revisions))
	}
}
