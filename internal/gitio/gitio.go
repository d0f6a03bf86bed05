// Package gitio provides the commit-graph primitives on top of go-git:
// revision resolution, tree navigation, cached reference walkers, tree
// diffing and path history walks.
package gitio

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"revcache/internal/vc"
)

const (
	branchPrefix = "refs/heads/"
	tagPrefix    = "refs/tags/"
)

// Options control signature selection, short-id length and rename
// detection. They are read once at construction.
type Options struct {
	// ShortRevLen is the minimum abbreviated id length, clamped to [4,40].
	ShortRevLen int
	// UseCommitterID selects the committer over the author for the
	// changeset author field.
	UseCommitterID bool
	// UseCommitterTime selects the committer timestamp over the author
	// timestamp for the changeset time field.
	UseCommitterTime bool
	// RenameLimit disables rename/copy detection when both the total
	// change count and the addition count exceed it.
	RenameLimit int
}

// DefaultOptions mirrors the stock connector configuration.
func DefaultOptions() Options {
	return Options{
		ShortRevLen:      7,
		UseCommitterID:   true,
		UseCommitterTime: true,
		RenameLimit:      200,
	}
}

func (o Options) normalized() Options {
	if o.ShortRevLen < 4 {
		o.ShortRevLen = 4
	}
	if o.ShortRevLen > 40 {
		o.ShortRevLen = 40
	}
	if o.RenameLimit <= 0 {
		o.RenameLimit = 200
	}
	return o
}

// Graph is a handle on one git repository. It owns the per-reference
// walker cache; the cache lives exactly as long as the handle and is
// dropped on Close.
type Graph struct {
	repo *git.Repository
	path string
	opts Options

	mu      sync.Mutex
	walkers map[plumbing.ReferenceName]*RefWalker
}

// Open opens the repository at path.
func Open(path string, opts Options) (*Graph, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &vc.NotARepositoryError{Path: path, Err: err}
	}
	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, &vc.NotARepositoryError{Path: abs, Err: err}
	}
	return &Graph{
		repo:    repo,
		path:    abs,
		opts:    opts.normalized(),
		walkers: make(map[plumbing.ReferenceName]*RefWalker),
	}, nil
}

// Path returns the absolute repository location.
func (g *Graph) Path() string { return g.path }

// Close drops the walker cache. The handle must not be used afterwards.
func (g *Graph) Close() {
	g.mu.Lock()
	g.walkers = make(map[plumbing.ReferenceName]*RefWalker)
	g.mu.Unlock()
}

// Head returns the commit the default reference points at, or nil when
// the repository has no commits.
func (g *Graph) Head() (*object.Commit, error) {
	ref, err := g.repo.Head()
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	return g.commitFromHash(ref.Hash())
}

// Commit looks up a commit by object id, dereferencing annotated tags.
// It returns nil when the object is missing or not ultimately a commit.
func (g *Graph) Commit(h plumbing.Hash) (*object.Commit, error) {
	return g.commitFromHash(h)
}

func (g *Graph) commitFromHash(h plumbing.Hash) (*object.Commit, error) {
	if commit, err := g.repo.CommitObject(h); err == nil {
		return commit, nil
	} else if err != plumbing.ErrObjectNotFound {
		return nil, fmt.Errorf("lookup commit %s: %w", h, err)
	}
	tag, err := g.repo.TagObject(h)
	if err != nil {
		return nil, nil
	}
	return g.derefTag(tag)
}

func (g *Graph) derefTag(tag *object.Tag) (*object.Commit, error) {
	for {
		switch tag.TargetType {
		case plumbing.CommitObject:
			commit, err := g.repo.CommitObject(tag.Target)
			if err != nil {
				return nil, nil
			}
			return commit, nil
		case plumbing.TagObject:
			next, err := g.repo.TagObject(tag.Target)
			if err != nil {
				return nil, nil
			}
			tag = next
		default:
			return nil, nil
		}
	}
}

// Walk returns a commit iterator from h in commit-time descending order.
// The order is not strictly topological; callers tolerate timestamp ties.
func (g *Graph) Walk(h plumbing.Hash) (object.CommitIter, error) {
	iter, err := g.repo.Log(&git.LogOptions{From: h, Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, fmt.Errorf("walk from %s: %w", h, err)
	}
	return iter, nil
}

// ForEachRef visits every branch and tag reference with its target
// commit. References whose target is not ultimately a commit are skipped.
func (g *Graph) ForEachRef(fn func(name string, ref *plumbing.Reference, commit *object.Commit) error) error {
	refs, err := g.repo.References()
	if err != nil {
		return fmt.Errorf("list references: %w", err)
	}
	defer refs.Close()
	return refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name().String()
		if !strings.HasPrefix(name, branchPrefix) && !strings.HasPrefix(name, tagPrefix) {
			return nil
		}
		commit, err := g.commitFromHash(ref.Hash())
		if err != nil {
			return err
		}
		if commit == nil {
			return nil
		}
		return fn(name, ref, commit)
	})
}

// Branches visits branch references, sorted order not guaranteed.
func (g *Graph) Branches(fn func(name string, ref *plumbing.Reference, commit *object.Commit) error) error {
	return g.ForEachRef(func(name string, ref *plumbing.Reference, commit *object.Commit) error {
		if !strings.HasPrefix(name, branchPrefix) {
			return nil
		}
		return fn(strings.TrimPrefix(name, branchPrefix), ref, commit)
	})
}

// Tags visits tag references.
func (g *Graph) Tags(fn func(name string, ref *plumbing.Reference, commit *object.Commit) error) error {
	return g.ForEachRef(func(name string, ref *plumbing.Reference, commit *object.Commit) error {
		if !strings.HasPrefix(name, tagPrefix) {
			return nil
		}
		return fn(strings.TrimPrefix(name, tagPrefix), ref, commit)
	})
}

// Who formats the configured identity (committer or author) of a commit
// as "Name <email>".
func (g *Graph) Who(c *object.Commit) string {
	sig := selectSignature(c, g.opts.UseCommitterID)
	return FormatSignature(sig)
}

// When returns the configured timestamp (committer or author) of a
// commit, offset preserved.
func (g *Graph) When(c *object.Commit) time.Time {
	sig := selectSignature(c, g.opts.UseCommitterTime)
	return sig.When
}

// selectSignature is a pure selector over the two commit signatures,
// falling back to the other one when the preferred one is empty.
func selectSignature(c *object.Commit, committer bool) object.Signature {
	if committer {
		if signatureEmpty(c.Committer) {
			return c.Author
		}
		return c.Committer
	}
	if signatureEmpty(c.Author) {
		return c.Committer
	}
	return c.Author
}

func signatureEmpty(sig object.Signature) bool {
	return sig.Name == "" && sig.Email == ""
}

// FormatSignature renders a signature as "Name <email>".
func FormatSignature(sig object.Signature) string {
	return strings.TrimSpace(fmt.Sprintf("%s <%s>", strings.TrimSpace(sig.Name), strings.TrimSpace(sig.Email)))
}

// Blob looks up a blob object by id.
func (g *Graph) Blob(h plumbing.Hash) (*object.Blob, error) {
	blob, err := g.repo.BlobObject(h)
	if err != nil {
		return nil, fmt.Errorf("lookup blob %s: %w", h, err)
	}
	return blob, nil
}

// BlobBytes reads the full content of a blob.
func (g *Graph) BlobBytes(h plumbing.Hash) ([]byte, error) {
	blob, err := g.Blob(h)
	if err != nil {
		return nil, err
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", h, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", h, err)
	}
	return data, nil
}

// Blame returns the originating revision id for every line of the file
// at path in the given commit.
func (g *Graph) Blame(c *object.Commit, path string) ([]string, error) {
	result, err := git.Blame(c, path)
	if err != nil {
		return nil, fmt.Errorf("blame %s at %s: %w", path, c.Hash, err)
	}
	revs := make([]string, 0, len(result.Lines))
	for _, line := range result.Lines {
		revs = append(revs, line.Hash.String())
	}
	return revs, nil
}

// forEachCommitObject visits every commit object in the object store.
func (g *Graph) forEachCommitObject(fn func(*object.Commit) error) error {
	iter, err := g.repo.CommitObjects()
	if err != nil {
		return fmt.Errorf("iterate commits: %w", err)
	}
	defer iter.Close()
	err = iter.ForEach(fn)
	if err == storer.ErrStop {
		return nil
	}
	return err
}

// forEachTagObject visits every annotated tag object.
func (g *Graph) forEachTagObject(fn func(*object.Tag) error) error {
	iter, err := g.repo.TagObjects()
	if err != nil {
		return fmt.Errorf("iterate tags: %w", err)
	}
	defer iter.Close()
	err = iter.ForEach(fn)
	if err == storer.ErrStop {
		return nil
	}
	return err
}
