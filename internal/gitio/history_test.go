package gitio

import (
	"io"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"

	"revcache/internal/vc"
)

func drainHistory(t *testing.T, iter *HistoryIter) []*HistoryEvent {
	t.Helper()
	defer iter.Close()
	var events []*HistoryEvent
	for {
		ev, err := iter.Next()
		if err != nil {
			if err == io.EOF {
				return events
			}
			t.Fatalf("history walk failed: %v", err)
		}
		events = append(events, ev)
	}
}

func TestFileHistory(t *testing.T) {
	f := initRepo(t)
	f.write("doc.txt", "v1\n")
	c1 := f.commit("create doc")
	f.write("other.txt", "noise\n")
	f.commit("unrelated")
	f.write("doc.txt", "v2\n")
	c3 := f.commit("edit doc")

	g := f.open(DefaultOptions())
	start, err := g.Resolve(c3.String())
	if err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}
	iter, err := g.History("doc.txt", start, true, 0)
	if err != nil {
		t.Fatalf("failed to start history: %v", err)
	}
	events := drainHistory(t, iter)

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// Newest first; the unrelated commit does not appear.
	if events[0].Commit.Hash != c3 || events[0].Action != vc.ActionEdit {
		t.Errorf("unexpected first event: %s %s", events[0].Commit.Hash, events[0].Action)
	}
	if events[1].Commit.Hash != c1 || events[1].Action != vc.ActionAdd {
		t.Errorf("unexpected last event: %s %s", events[1].Commit.Hash, events[1].Action)
	}
}

func TestFileHistoryLimit(t *testing.T) {
	f := initRepo(t)
	f.write("doc.txt", "v1\n")
	f.commit("create doc")
	f.write("doc.txt", "v2\n")
	c2 := f.commit("edit doc")

	g := f.open(DefaultOptions())
	start, _ := g.Resolve(c2.String())
	iter, err := g.History("doc.txt", start, true, 1)
	if err != nil {
		t.Fatalf("failed to start history: %v", err)
	}
	events := drainHistory(t, iter)
	if len(events) != 1 || events[0].Commit.Hash != c2 {
		t.Errorf("expected only the newest event, got %v", events)
	}
}

func TestFileHistorySkipsMerges(t *testing.T) {
	f := initRepo(t)
	f.write("doc.txt", "v1\n")
	c1 := f.commit("create doc")
	f.checkout("feature", true)
	f.write("doc.txt", "feature version\n")
	fc := f.commit("feature edit")
	f.checkout("main", false)
	f.write("noise.txt", "x\n")
	f.commit("mainline noise")

	// The merge adopts the feature content, so the file differs from the
	// first parent at the merge commit.
	f.write("doc.txt", "feature version\n")
	m := f.merge("merge feature", fc)

	g := f.open(DefaultOptions())
	start, _ := g.Resolve(m.String())

	fileIter, err := g.History("doc.txt", start, true, 0)
	if err != nil {
		t.Fatalf("failed to start file history: %v", err)
	}
	fileEvents := drainHistory(t, fileIter)
	for _, ev := range fileEvents {
		if ev.Commit.Hash == m {
			t.Errorf("file history must not include the merge commit")
		}
	}
	if len(fileEvents) != 2 || fileEvents[0].Commit.Hash != fc || fileEvents[1].Commit.Hash != c1 {
		t.Errorf("unexpected file events: %v", hashesOf(fileEvents))
	}

	// Directory (root) history does include merges.
	dirIter, err := g.History("", start, false, 0)
	if err != nil {
		t.Fatalf("failed to start dir history: %v", err)
	}
	dirEvents := drainHistory(t, dirIter)
	found := false
	for _, ev := range dirEvents {
		if ev.Commit.Hash == m {
			found = true
		}
	}
	if !found {
		t.Errorf("root history should include the merge commit: %v", hashesOf(dirEvents))
	}
}

func TestDeletedThenRecreatedFile(t *testing.T) {
	f := initRepo(t)
	f.write("doc.txt", "v1\n")
	c1 := f.commit("create")
	f.remove("doc.txt")
	c2 := f.commit("drop")
	f.write("doc.txt", "v2\n")
	c3 := f.commit("recreate")

	g := f.open(DefaultOptions())
	start, _ := g.Resolve(c3.String())
	iter, err := g.History("doc.txt", start, true, 0)
	if err != nil {
		t.Fatalf("failed to start history: %v", err)
	}
	events := drainHistory(t, iter)

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %v", hashesOf(events))
	}
	wantActions := []vc.Action{vc.ActionAdd, vc.ActionDelete, vc.ActionAdd}
	wantCommits := []plumbing.Hash{c3, c2, c1}
	for i, ev := range events {
		if ev.Commit.Hash != wantCommits[i] || ev.Action != wantActions[i] {
			t.Errorf("event %d: got %s %s, want %s %s", i, ev.Commit.Hash, ev.Action, wantCommits[i], wantActions[i])
		}
	}
}

func hashesOf(events []*HistoryEvent) []plumbing.Hash {
	out := make([]plumbing.Hash, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Commit.Hash)
	}
	return out
}
