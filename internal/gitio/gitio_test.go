package gitio

import (
	"errors"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"revcache/internal/vc"
)

func TestResolveForms(t *testing.T) {
	f := initRepo(t)
	f.write("a.txt", "one\n")
	c1 := f.commit("first")
	f.write("a.txt", "two\n")
	c2 := f.commit("second")
	f.tag("v1.0", c1, true)

	g := f.open(DefaultOptions())

	// Empty token resolves to the head.
	head, err := g.Resolve("")
	if err != nil {
		t.Fatalf("failed to resolve empty token: %v", err)
	}
	if head.Hash != c2 {
		t.Errorf("expected head %s, got %s", c2, head.Hash)
	}

	// Full hex id.
	got, err := g.Resolve(c1.String())
	if err != nil {
		t.Fatalf("failed to resolve full id: %v", err)
	}
	if got.Hash != c1 {
		t.Errorf("expected %s, got %s", c1, got.Hash)
	}

	// Abbreviated hex id.
	got, err = g.Resolve(c1.String()[:8])
	if err != nil {
		t.Fatalf("failed to resolve prefix: %v", err)
	}
	if got.Hash != c1 {
		t.Errorf("expected %s, got %s", c1, got.Hash)
	}

	// Branch name.
	got, err = g.Resolve("main")
	if err != nil {
		t.Fatalf("failed to resolve branch name: %v", err)
	}
	if got.Hash != c2 {
		t.Errorf("expected %s, got %s", c2, got.Hash)
	}

	// Annotated tag name dereferences to the tagged commit.
	got, err = g.Resolve("v1.0")
	if err != nil {
		t.Fatalf("failed to resolve tag name: %v", err)
	}
	if got.Hash != c1 {
		t.Errorf("expected %s, got %s", c1, got.Hash)
	}

	// Unknown tokens fail with a typed error.
	_, err = g.Resolve("no-such-ref")
	if !vc.IsNoSuchRevision(err) {
		t.Errorf("expected NoSuchRevisionError, got %v", err)
	}
	_, err = g.Resolve("deadbeef")
	if !vc.IsNoSuchRevision(err) {
		t.Errorf("expected NoSuchRevisionError for unknown prefix, got %v", err)
	}
}

func TestResolveEmptyRepository(t *testing.T) {
	f := initRepo(t)
	g := f.open(DefaultOptions())

	head, err := g.Head()
	if err != nil {
		t.Fatalf("failed to read head: %v", err)
	}
	if head != nil {
		t.Errorf("expected nil head on empty repository, got %v", head.Hash)
	}
	if _, err := g.Resolve(""); !vc.IsNoSuchRevision(err) {
		t.Errorf("expected NoSuchRevisionError, got %v", err)
	}
}

func TestOpenNotARepository(t *testing.T) {
	_, err := Open(t.TempDir(), DefaultOptions())
	var nre *vc.NotARepositoryError
	if !errors.As(err, &nre) {
		t.Errorf("expected NotARepositoryError, got %v", err)
	}
}

func TestShortRevRoundTrip(t *testing.T) {
	f := initRepo(t)
	f.write("a.txt", "one\n")
	c1 := f.commit("first")
	f.write("a.txt", "two\n")
	f.commit("second")

	g := f.open(DefaultOptions())

	short, err := g.ShortRev(c1.String())
	if err != nil {
		t.Fatalf("failed to shorten: %v", err)
	}
	if len(short) < 7 || len(short) >= hashLen {
		t.Errorf("unexpected short rev length %d", len(short))
	}
	full, err := g.NormalizeRev(short)
	if err != nil {
		t.Fatalf("failed to resolve short rev: %v", err)
	}
	if full != c1.String() {
		t.Errorf("round trip mismatch: %s != %s", full, c1)
	}
}

func TestSignatureSelection(t *testing.T) {
	f := initRepo(t)
	f.write("a.txt", "one\n")
	c1 := f.commit("first")

	committer := f.open(DefaultOptions())
	commit, err := committer.Resolve(c1.String())
	if err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}
	if got := committer.Who(commit); got != "Bob Integrator <bob@example.com>" {
		t.Errorf("unexpected identity %q", got)
	}
	if got := committer.When(commit); !got.Equal(commit.Committer.When) {
		t.Errorf("expected committer time, got %v", got)
	}

	opts := DefaultOptions()
	opts.UseCommitterID = false
	opts.UseCommitterTime = false
	author := f.open(opts)
	commit, err = author.Resolve(c1.String())
	if err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}
	if got := author.Who(commit); got != "Alice Dev <alice@example.com>" {
		t.Errorf("unexpected identity %q", got)
	}
	if got := author.When(commit); !got.Equal(commit.Author.When) {
		t.Errorf("expected author time, got %v", got)
	}
}

func TestBranchesAndTags(t *testing.T) {
	f := initRepo(t)
	f.write("a.txt", "one\n")
	c1 := f.commit("first")
	f.checkout("topic", true)
	f.write("b.txt", "two\n")
	c2 := f.commit("topic work")
	f.tag("light", c1, false)
	f.tag("annotated", c2, true)

	g := f.open(DefaultOptions())

	branches := map[string]plumbing.Hash{}
	err := g.Branches(func(name string, _ *plumbing.Reference, commit *object.Commit) error {
		branches[name] = commit.Hash
		return nil
	})
	if err != nil {
		t.Fatalf("failed to list branches: %v", err)
	}
	if branches["main"] != c1 || branches["topic"] != c2 {
		t.Errorf("unexpected branches: %v", branches)
	}

	tags := map[string]plumbing.Hash{}
	err = g.Tags(func(name string, _ *plumbing.Reference, commit *object.Commit) error {
		tags[name] = commit.Hash
		return nil
	})
	if err != nil {
		t.Fatalf("failed to list tags: %v", err)
	}
	// Both lightweight and annotated tags resolve to the tagged commit.
	if tags["light"] != c1 || tags["annotated"] != c2 {
		t.Errorf("unexpected tags: %v", tags)
	}
}
