package gitio

import (
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// RefWalker caches the commit-time-descending traversal from one branch
// tip. The visited list is only ever extended: each query resumes the
// underlying iterator where the previous one stopped. All state is
// guarded by one mutex, so a query may block while another caller is
// extending the same walker; walkers for different references never
// contend with each other.
type RefWalker struct {
	tip plumbing.Hash

	mu        sync.Mutex
	iter      object.CommitIter
	seen      map[plumbing.Hash]int
	commits   []*object.Commit
	exhausted bool
}

func newRefWalker(g *Graph, tip plumbing.Hash) (*RefWalker, error) {
	iter, err := g.Walk(tip)
	if err != nil {
		return nil, err
	}
	return &RefWalker{
		tip:  tip,
		iter: iter,
		seen: make(map[plumbing.Hash]int),
	}, nil
}

// Tip returns the commit this walker was started from.
func (w *RefWalker) Tip() plumbing.Hash { return w.tip }

// Contains reports whether h is reachable from the walker's tip,
// extending the visited prefix as far as needed.
func (w *RefWalker) Contains(h plumbing.Hash) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok, err := w.indexOfLocked(h)
	return ok, err
}

func (w *RefWalker) indexOfLocked(h plumbing.Hash) (int, bool, error) {
	if idx, ok := w.seen[h]; ok {
		return idx, true, nil
	}
	for !w.exhausted {
		commit, err := w.iter.Next()
		if err != nil {
			if err == io.EOF {
				w.exhausted = true
				break
			}
			return 0, false, err
		}
		idx := len(w.commits)
		w.commits = append(w.commits, commit)
		w.seen[commit.Hash] = idx
		if commit.Hash == h {
			return idx, true, nil
		}
	}
	return 0, false, nil
}

// ReverseFrom returns the already-walked prefix from h back toward the
// walker's tip, h first. The result is empty when h is not reachable.
func (w *RefWalker) ReverseFrom(h plumbing.Hash) ([]*object.Commit, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx, ok, err := w.indexOfLocked(h)
	if err != nil || !ok {
		return nil, err
	}
	out := make([]*object.Commit, 0, idx+1)
	for i := idx; i >= 0; i-- {
		out = append(out, w.commits[i])
	}
	return out, nil
}

// BranchWalker pairs a branch name with its cached walker.
type BranchWalker struct {
	Name   string
	Ref    *plumbing.Reference
	Walker *RefWalker
}

// refWalkers yields a walker per branch whose tip is not older than
// target (an older tip cannot contain it). Walkers are cached on the
// graph handle keyed by reference name and replaced whenever the ref has
// moved since the walker was built.
func (g *Graph) refWalkers(target *object.Commit) ([]BranchWalker, error) {
	var out []BranchWalker
	err := g.ForEachRef(func(name string, ref *plumbing.Reference, commit *object.Commit) error {
		if !strings.HasPrefix(name, branchPrefix) {
			return nil
		}
		if commit.Committer.When.Before(target.Committer.When) {
			return nil
		}
		w, err := g.walkerFor(ref.Name(), commit.Hash)
		if err != nil {
			return err
		}
		out = append(out, BranchWalker{
			Name:   strings.TrimPrefix(name, branchPrefix),
			Ref:    ref,
			Walker: w,
		})
		return nil
	})
	return out, err
}

func (g *Graph) walkerFor(name plumbing.ReferenceName, tip plumbing.Hash) (*RefWalker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if w, ok := g.walkers[name]; ok && w.tip == tip {
		return w, nil
	}
	w, err := newRefWalker(g, tip)
	if err != nil {
		return nil, err
	}
	g.walkers[name] = w
	return w, nil
}

// BranchesContaining lists (name, tip) pairs for every branch whose
// history contains rev, sorted by branch name.
func (g *Graph) BranchesContaining(rev *object.Commit) ([][2]string, error) {
	walkers, err := g.refWalkers(rev)
	if err != nil {
		return nil, err
	}
	var out [][2]string
	for _, bw := range walkers {
		ok, err := bw.Walker.Contains(rev.Hash)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, [2]string{bw.Name, bw.Ref.Hash().String()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out, nil
}

// ChildRevs returns the ids of every commit that lists rev as a parent,
// discovered through the cached branch walkers.
func (g *Graph) ChildRevs(rev *object.Commit) ([]string, error) {
	walkers, err := g.refWalkers(rev)
	if err != nil {
		return nil, err
	}
	seen := make(map[plumbing.Hash]bool)
	var out []string
	for _, bw := range walkers {
		ok, err := bw.Walker.Contains(rev.Hash)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		commits, err := bw.Walker.ReverseFrom(rev.Hash)
		if err != nil {
			return nil, err
		}
		// Reverse lists from different branches share their oldest
		// prefix, starting with rev itself; skip what a previous walker
		// already examined.
		for _, c := range commits {
			if seen[c.Hash] {
				continue
			}
			seen[c.Hash] = true
			for _, p := range c.ParentHashes {
				if p == rev.Hash {
					out = append(out, c.Hash.String())
					break
				}
			}
		}
	}
	return out, nil
}
