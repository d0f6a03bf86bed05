// Package repo exposes the version-control abstraction over one git
// repository: revision queries, nodes, changesets, branch/tag containment
// and navigation. The Repository interface has two implementations,
// selected at construction time: the graph-only Direct repository in this
// package and the cache-backed repository in the syncer package.
package repo

import (
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"revcache/internal/gitio"
	"revcache/internal/vc"
)

// Repository is the read surface exposed to the host.
type Repository interface {
	// Resolve maps a revision token to its canonical full hex id.
	Resolve(token string) (string, error)
	// ShortRev computes the minimal unambiguous abbreviation of rev.
	ShortRev(rev string) (string, error)
	// Changeset returns the changes introduced by one revision.
	Changeset(rev string) (*vc.Changeset, error)
	// Changesets enumerates changesets across all branches within a time
	// window, newest first.
	Changesets(since, until time.Time) ([]*vc.Changeset, error)
	// BranchesContaining lists branches whose history contains rev.
	BranchesContaining(rev string) ([]vc.BranchPoint, error)
	// TagsOf lists tags pointing at rev.
	TagsOf(rev string) ([]string, error)
	ParentRevs(rev string) ([]string, error)
	ChildRevs(rev string) ([]string, error)
	// IsAncestor reports whether a is a proper ancestor of b.
	IsAncestor(a, b string) (bool, error)
	// YoungestRev returns the current head id, or "" on an empty graph.
	YoungestRev() (string, error)
	OldestRev() (string, error)
	QuickJumpEntries() ([]vc.QuickJumpEntry, error)
	// Node resolves a path at a revision.
	Node(path, rev string) (*Node, error)
	HasNode(path, rev string) bool
	// PreviousRev finds the revision before rev: with a path, the first
	// parent of the change that produced the path's content at rev;
	// without one, the revision's own first parent.
	PreviousRev(rev, path string) (string, error)
	// NextRev finds the revision after rev that touched path.
	NextRev(rev, path string) (string, error)
	// Sync brings the cache up to date; a no-op for direct repositories.
	// feedback, if non-nil, is invoked per imported revision in insertion
	// order. clean forces a full rebuild first.
	Sync(feedback func(rev string), clean bool) error
	Close() error
}

// Direct reads every query from the commit graph itself.
type Direct struct {
	g   *gitio.Graph
	log *slog.Logger
}

// Open opens the repository at path without a cache.
func Open(path string, opts gitio.Options, log *slog.Logger) (*Direct, error) {
	g, err := gitio.Open(path, opts)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Direct{g: g, log: log}, nil
}

// Graph exposes the underlying graph handle to the syncer.
func (r *Direct) Graph() *gitio.Graph { return r.g }

func (r *Direct) Close() error {
	r.g.Close()
	return nil
}

func (r *Direct) Resolve(token string) (string, error) {
	return r.g.NormalizeRev(token)
}

func (r *Direct) ShortRev(rev string) (string, error) {
	return r.g.ShortRev(rev)
}

// ChangesetOf assembles the changeset of an already-resolved commit.
func (r *Direct) ChangesetOf(commit *object.Commit) (*vc.Changeset, error) {
	var parent *object.Commit
	if commit.NumParents() > 0 {
		var err error
		parent, err = commit.Parent(0)
		if err != nil {
			return nil, err
		}
	}
	changes, err := r.g.Changes(parent, commit)
	if err != nil {
		return nil, err
	}
	parents := make([]string, 0, commit.NumParents())
	for _, p := range commit.ParentHashes {
		parents = append(parents, p.String())
	}
	return &vc.Changeset{
		Rev:     commit.Hash.String(),
		Author:  r.g.Who(commit),
		Message: commit.Message,
		Time:    r.g.When(commit),
		Parents: parents,
		Changes: changes,
	}, nil
}

func (r *Direct) Changeset(rev string) (*vc.Changeset, error) {
	commit, err := r.g.Resolve(rev)
	if err != nil {
		return nil, err
	}
	return r.ChangesetOf(commit)
}

func (r *Direct) Changesets(since, until time.Time) ([]*vc.Changeset, error) {
	seen := make(map[plumbing.Hash]bool)
	var commits []*object.Commit
	err := r.g.Branches(func(_ string, ref *plumbing.Reference, tip *object.Commit) error {
		iter, err := r.g.Walk(tip.Hash)
		if err != nil {
			return err
		}
		defer iter.Close()
		for {
			commit, err := iter.Next()
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
			when := commit.Committer.When
			if when.Before(since) {
				return nil
			}
			if !when.After(until) && !seen[commit.Hash] {
				seen[commit.Hash] = true
				commits = append(commits, commit)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(commits, func(i, j int) bool {
		return commits[i].Committer.When.After(commits[j].Committer.When)
	})
	out := make([]*vc.Changeset, 0, len(commits))
	for _, c := range commits {
		cset, err := r.ChangesetOf(c)
		if err != nil {
			return nil, err
		}
		out = append(out, cset)
	}
	return out, nil
}

func (r *Direct) BranchesContaining(rev string) ([]vc.BranchPoint, error) {
	commit, err := r.g.Resolve(rev)
	if err != nil {
		return nil, err
	}
	pairs, err := r.g.BranchesContaining(commit)
	if err != nil {
		return nil, err
	}
	points := make([]vc.BranchPoint, 0, len(pairs))
	for _, p := range pairs {
		points = append(points, vc.BranchPoint{
			Name: p[0],
			Rev:  p[1],
			Head: p[1] == commit.Hash.String(),
		})
	}
	return points, nil
}

func (r *Direct) TagsOf(rev string) ([]string, error) {
	commit, err := r.g.Resolve(rev)
	if err != nil {
		return nil, err
	}
	var names []string
	err = r.g.Tags(func(name string, _ *plumbing.Reference, target *object.Commit) error {
		if target.Hash == commit.Hash {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (r *Direct) ParentRevs(rev string) ([]string, error) {
	commit, err := r.g.Resolve(rev)
	if err != nil {
		return nil, err
	}
	parents := make([]string, 0, len(commit.ParentHashes))
	for _, p := range commit.ParentHashes {
		parents = append(parents, p.String())
	}
	return parents, nil
}

func (r *Direct) ChildRevs(rev string) ([]string, error) {
	commit, err := r.g.Resolve(rev)
	if err != nil {
		return nil, err
	}
	return r.g.ChildRevs(commit)
}

func (r *Direct) IsAncestor(a, b string) (bool, error) {
	ca, err := r.g.Resolve(a)
	if err != nil {
		return false, err
	}
	cb, err := r.g.Resolve(b)
	if err != nil {
		return false, err
	}
	if ca.Hash == cb.Hash {
		return false, nil
	}
	return ca.IsAncestor(cb)
}

func (r *Direct) YoungestRev() (string, error) {
	head, err := r.g.Head()
	if err != nil {
		return "", err
	}
	if head == nil {
		return "", nil
	}
	return head.Hash.String(), nil
}

func (r *Direct) OldestRev() (string, error) {
	head, err := r.g.Head()
	if err != nil {
		return "", err
	}
	if head == nil {
		return "", nil
	}
	iter, err := r.g.Walk(head.Hash)
	if err != nil {
		return "", err
	}
	defer iter.Close()
	var oldest *object.Commit
	for {
		commit, err := iter.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", err
		}
		oldest = commit
	}
	if oldest == nil {
		return "", nil
	}
	return oldest.Hash.String(), nil
}

func (r *Direct) QuickJumpEntries() ([]vc.QuickJumpEntry, error) {
	type namedRef struct {
		name string
		rev  string
	}
	var branches, tags []namedRef
	err := r.g.Branches(func(name string, _ *plumbing.Reference, commit *object.Commit) error {
		branches = append(branches, namedRef{name, commit.Hash.String()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = r.g.Tags(func(name string, _ *plumbing.Reference, commit *object.Commit) error {
		tags = append(tags, namedRef{name, commit.Hash.String()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].name < branches[j].name })
	sort.Slice(tags, func(i, j int) bool { return tags[i].name < tags[j].name })

	entries := make([]vc.QuickJumpEntry, 0, len(branches)+len(tags))
	for _, b := range branches {
		entries = append(entries, vc.QuickJumpEntry{Category: "branches", Name: b.name, Path: "/", Rev: b.rev})
	}
	for _, t := range tags {
		entries = append(entries, vc.QuickJumpEntry{Category: "tags", Name: t.name, Path: "/", Rev: t.rev})
	}
	return entries, nil
}

func (r *Direct) HasNode(path, rev string) bool {
	_, err := r.Node(path, rev)
	return err == nil
}

func (r *Direct) PreviousRev(rev, path string) (string, error) {
	commit, err := r.g.Resolve(rev)
	if err != nil {
		return "", err
	}
	path = gitio.NormalizePath(path)
	if path == "" {
		if commit.NumParents() == 0 {
			return "", nil
		}
		return commit.ParentHashes[0].String(), nil
	}
	node, err := r.Node(path, rev)
	if err != nil {
		return "", err
	}
	iter, err := node.History(1)
	if err != nil {
		return "", err
	}
	defer iter.Close()
	ev, err := iter.Next()
	if err != nil {
		if err == io.EOF {
			return "", nil
		}
		return "", err
	}
	if ev.Commit.NumParents() == 0 {
		return "", nil
	}
	return ev.Commit.ParentHashes[0].String(), nil
}

func (r *Direct) NextRev(rev, path string) (string, error) {
	commit, err := r.g.Resolve(rev)
	if err != nil {
		return "", err
	}
	return r.g.NextRev(commit, gitio.NormalizePath(path))
}

// Sync is a no-op: the direct repository has no cache to refresh.
func (r *Direct) Sync(feedback func(rev string), clean bool) error {
	return nil
}
