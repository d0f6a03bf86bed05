package gitio

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// IsSubmodule reports whether a tree entry is a submodule boundary.
// Submodules present as directories but have no children and no content.
func IsSubmodule(mode filemode.FileMode) bool {
	return mode == filemode.Submodule
}

func (g *Graph) treeObject(h plumbing.Hash) (*object.Tree, error) {
	tree, err := g.repo.TreeObject(h)
	if err != nil {
		if err == plumbing.ErrObjectNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup tree %s: %w", h, err)
	}
	return tree, nil
}

func findEntry(tree *object.Tree, name string) *object.TreeEntry {
	for i := range tree.Entries {
		if tree.Entries[i].Name == name {
			return &tree.Entries[i]
		}
	}
	return nil
}

// Entry resolves path against a tree snapshot, one `/`-separated segment
// at a time. It returns nil as soon as a segment is missing or an
// intermediate entry is not a descendable directory. The empty path has
// no entry.
func (g *Graph) Entry(tree *object.Tree, path string) (*object.TreeEntry, error) {
	if path == "" || tree == nil {
		return nil, nil
	}
	var entry *object.TreeEntry
	cur := tree
	for _, seg := range strings.Split(path, "/") {
		if cur == nil {
			return nil, nil
		}
		entry = findEntry(cur, seg)
		if entry == nil {
			return nil, nil
		}
		if entry.Mode == filemode.Dir {
			next, err := g.treeObject(entry.Hash)
			if err != nil {
				return nil, err
			}
			cur = next
		} else {
			// Files and submodules terminate the descent.
			cur = nil
		}
	}
	return entry, nil
}

// Subtree resolves path to its tree object. It returns nil when the path
// is missing, denotes a file, or crosses a submodule boundary. The empty
// path is the tree itself.
func (g *Graph) Subtree(tree *object.Tree, path string) (*object.Tree, error) {
	if path == "" {
		return tree, nil
	}
	entry, err := g.Entry(tree, path)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.Mode != filemode.Dir {
		return nil, nil
	}
	return g.treeObject(entry.Hash)
}

// CommitTree returns the root tree of a commit.
func (g *Graph) CommitTree(c *object.Commit) (*object.Tree, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("tree of %s: %w", c.Hash, err)
	}
	return tree, nil
}

// WalkFiles enumerates every file path reachable from tree, recursively,
// sorted ascending. Submodule entries are excluded along with anything
// below them.
func (g *Graph) WalkFiles(tree *object.Tree) ([]string, error) {
	var paths []string
	var walk func(t *object.Tree, prefix string) error
	walk = func(t *object.Tree, prefix string) error {
		for i := range t.Entries {
			entry := &t.Entries[i]
			if IsSubmodule(entry.Mode) {
				continue
			}
			name := entry.Name
			if prefix != "" {
				name = prefix + "/" + entry.Name
			}
			if entry.Mode == filemode.Dir {
				sub, err := g.treeObject(entry.Hash)
				if err != nil {
					return err
				}
				if sub == nil {
					continue
				}
				if err := walk(sub, name); err != nil {
					return err
				}
			} else {
				paths = append(paths, name)
			}
		}
		return nil
	}
	if tree != nil {
		if err := walk(tree, ""); err != nil {
			return nil, err
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// NormalizePath strips surrounding slashes; the repository root is "".
func NormalizePath(path string) string {
	return strings.Trim(path, "/")
}
