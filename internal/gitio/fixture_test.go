package gitio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var fixtureEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// repoFixture builds throwaway git repositories with deterministic,
// strictly increasing commit timestamps so commit-time walks have a
// stable order.
type repoFixture struct {
	t    *testing.T
	dir  string
	repo *git.Repository
	wt   *git.Worktree
	seq  int
}

func initRepo(t *testing.T) *repoFixture {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		t.Fatalf("failed to init repo: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("failed to get worktree: %v", err)
	}
	return &repoFixture{t: t, dir: dir, repo: repo, wt: wt}
}

func (f *repoFixture) open(opts Options) *Graph {
	f.t.Helper()
	g, err := Open(f.dir, opts)
	if err != nil {
		f.t.Fatalf("failed to open graph: %v", err)
	}
	f.t.Cleanup(g.Close)
	return g
}

func (f *repoFixture) write(path, content string) {
	f.t.Helper()
	full := filepath.Join(f.dir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		f.t.Fatalf("failed to create dir for %s: %v", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		f.t.Fatalf("failed to write %s: %v", path, err)
	}
	if _, err := f.wt.Add(path); err != nil {
		f.t.Fatalf("failed to add %s: %v", path, err)
	}
}

func (f *repoFixture) remove(path string) {
	f.t.Helper()
	if _, err := f.wt.Remove(path); err != nil {
		f.t.Fatalf("failed to remove %s: %v", path, err)
	}
}

func (f *repoFixture) signature() object.Signature {
	f.seq++
	return object.Signature{
		Name:  "Alice Dev",
		Email: "alice@example.com",
		When:  fixtureEpoch.Add(time.Duration(f.seq) * time.Minute),
	}
}

// signatures returns distinct author and committer identities so tests
// can observe which one a query selected. The committer timestamp is
// slightly later, as after a rebase.
func (f *repoFixture) signatures() (author, committer object.Signature) {
	author = f.signature()
	committer = object.Signature{
		Name:  "Bob Integrator",
		Email: "bob@example.com",
		When:  author.When.Add(30 * time.Second),
	}
	return author, committer
}

func (f *repoFixture) commit(msg string) plumbing.Hash {
	f.t.Helper()
	author, committer := f.signatures()
	h, err := f.wt.Commit(msg, &git.CommitOptions{Author: &author, Committer: &committer})
	if err != nil {
		f.t.Fatalf("failed to commit %q: %v", msg, err)
	}
	return h
}

// merge commits the current worktree state with the current head and
// extraParent as parents, in that order.
func (f *repoFixture) merge(msg string, extraParent plumbing.Hash) plumbing.Hash {
	f.t.Helper()
	head, err := f.repo.Head()
	if err != nil {
		f.t.Fatalf("failed to read HEAD: %v", err)
	}
	author, committer := f.signatures()
	h, err := f.wt.Commit(msg, &git.CommitOptions{
		Author:            &author,
		Committer:         &committer,
		Parents:           []plumbing.Hash{head.Hash(), extraParent},
		AllowEmptyCommits: true,
	})
	if err != nil {
		f.t.Fatalf("failed to create merge commit %q: %v", msg, err)
	}
	return h
}

func (f *repoFixture) checkout(branch string, create bool) {
	f.t.Helper()
	err := f.wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: create,
	})
	if err != nil {
		f.t.Fatalf("failed to checkout %s: %v", branch, err)
	}
}

// branchAt creates and checks out a branch rooted at an older commit.
func (f *repoFixture) branchAt(branch string, h plumbing.Hash) {
	f.t.Helper()
	err := f.wt.Checkout(&git.CheckoutOptions{
		Hash:   h,
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: true,
	})
	if err != nil {
		f.t.Fatalf("failed to branch %s at %s: %v", branch, h, err)
	}
}

func (f *repoFixture) tag(name string, h plumbing.Hash, annotated bool) {
	f.t.Helper()
	var opts *git.CreateTagOptions
	if annotated {
		sig := f.signature()
		opts = &git.CreateTagOptions{Tagger: &sig, Message: "tag " + name}
	}
	if _, err := f.repo.CreateTag(name, h, opts); err != nil {
		f.t.Fatalf("failed to tag %s: %v", name, err)
	}
}
