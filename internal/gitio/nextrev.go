package gitio

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func (g *Graph) entryHashAt(commit *object.Commit, path string) (plumbing.Hash, bool, error) {
	if path == "" {
		return commit.TreeHash, true, nil
	}
	tree, err := g.CommitTree(commit)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	entry, err := g.Entry(tree, path)
	if err != nil || entry == nil {
		return plumbing.ZeroHash, false, err
	}
	return entry.Hash, true, nil
}

// NextRev finds the first descendant of rev, discovered through the
// cached branch walkers, that changed path. It returns "" when no
// such revision exists yet.
func (g *Graph) NextRev(rev *object.Commit, path string) (string, error) {
	walkers, err := g.refWalkers(rev)
	if err != nil {
		return "", err
	}
	cur := rev.Hash
	for _, bw := range walkers {
		ok, err := bw.Walker.Contains(cur)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		commits, err := bw.Walker.ReverseFrom(cur)
		if err != nil {
			return "", err
		}
		for _, commit := range commits {
			child := false
			for _, p := range commit.ParentHashes {
				if p == cur {
					child = true
					break
				}
			}
			if !child {
				continue
			}
			hash, present, err := g.entryHashAt(commit, path)
			if err != nil {
				return "", err
			}
			if !present {
				return "", nil
			}
			for _, ph := range commit.ParentHashes {
				parent, err := g.commitFromHash(ph)
				if err != nil {
					return "", err
				}
				if parent == nil || parent.TreeHash == commit.TreeHash {
					continue
				}
				parentHash, parentPresent, err := g.entryHashAt(parent, path)
				if err != nil {
					return "", err
				}
				if !parentPresent || hash != parentHash {
					return commit.Hash.String(), nil
				}
			}
			cur = commit.Hash
		}
	}
	return "", nil
}
