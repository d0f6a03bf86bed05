package gitio

import (
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"revcache/internal/vc"
)

const hashLen = 40

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && (r < 'A' || r > 'F') {
			return false
		}
	}
	return len(s) > 0
}

// Resolve maps a revision token to a commit. Accepted forms: the empty
// token (current head), a full or abbreviated hex id (annotated tags are
// dereferenced), or an exact case-sensitive branch or tag name.
func (g *Graph) Resolve(token string) (*object.Commit, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		head, err := g.Head()
		if err != nil {
			return nil, err
		}
		if head == nil {
			return nil, &vc.NoSuchRevisionError{}
		}
		return head, nil
	}

	if len(token) == hashLen && isHex(token) {
		commit, err := g.commitFromHash(plumbing.NewHash(strings.ToLower(token)))
		if err != nil {
			return nil, err
		}
		if commit != nil {
			return commit, nil
		}
	} else if len(token) >= 4 && isHex(token) {
		commit, err := g.resolvePrefix(strings.ToLower(token))
		if err != nil {
			return nil, err
		}
		if commit != nil {
			return commit, nil
		}
	}

	commit, err := g.resolveRefName(token)
	if err != nil {
		return nil, err
	}
	if commit != nil {
		return commit, nil
	}
	return nil, &vc.NoSuchRevisionError{Rev: token}
}

// resolvePrefix finds the commit an abbreviated hex id denotes. The
// prefix must match exactly one commit or annotated tag; an ambiguous
// prefix resolves to nothing.
func (g *Graph) resolvePrefix(prefix string) (*object.Commit, error) {
	var found *object.Commit
	matches := 0
	err := g.forEachCommitObject(func(c *object.Commit) error {
		if strings.HasPrefix(c.Hash.String(), prefix) {
			matches++
			found = c
			if matches > 1 {
				return storer.ErrStop
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if matches > 1 {
		return nil, nil
	}
	err = g.forEachTagObject(func(t *object.Tag) error {
		if strings.HasPrefix(t.Hash.String(), prefix) {
			matches++
			if matches > 1 {
				return storer.ErrStop
			}
			commit, err := g.derefTag(t)
			if err != nil {
				return err
			}
			found = commit
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if matches != 1 {
		return nil, nil
	}
	return found, nil
}

// resolveRefName scans all references for refs/heads/<token> or
// refs/tags/<token>, exact match only.
func (g *Graph) resolveRefName(token string) (*object.Commit, error) {
	var found *object.Commit
	err := g.ForEachRef(func(name string, _ *plumbing.Reference, commit *object.Commit) error {
		var match bool
		switch {
		case strings.HasPrefix(name, branchPrefix):
			match = name[len(branchPrefix):] == token
		case strings.HasPrefix(name, tagPrefix):
			match = name[len(tagPrefix):] == token
		}
		if match {
			found = commit
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// NormalizeRev resolves a token to the canonical full lowercase hex id.
func (g *Graph) NormalizeRev(token string) (string, error) {
	commit, err := g.Resolve(token)
	if err != nil {
		return "", err
	}
	return commit.Hash.String(), nil
}

// ShortRev computes the shortest prefix of rev, at least the configured
// minimum length, that denotes exactly one commit in the graph right
// now. The result is never memoized: graph growth can invalidate it.
func (g *Graph) ShortRev(rev string) (string, error) {
	full, err := g.NormalizeRev(rev)
	if err != nil {
		return "", err
	}
	var hashes []string
	err = g.forEachCommitObject(func(c *object.Commit) error {
		hashes = append(hashes, c.Hash.String())
		return nil
	})
	if err != nil {
		return "", err
	}
	err = g.forEachTagObject(func(t *object.Tag) error {
		hashes = append(hashes, t.Hash.String())
		return nil
	})
	if err != nil {
		return "", err
	}
	for size := g.opts.ShortRevLen; size < hashLen; size++ {
		prefix := full[:size]
		matches := 0
		for _, h := range hashes {
			if strings.HasPrefix(h, prefix) {
				matches++
				if matches > 1 {
					break
				}
			}
		}
		if matches == 1 {
			return prefix, nil
		}
	}
	return full, nil
}
