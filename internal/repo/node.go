package repo

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"revcache/internal/gitio"
	"revcache/internal/vc"
)

// Node is a file or directory resolved at one revision. Submodule
// boundaries present as directories with no entries and no content.
type Node struct {
	Path string
	Rev  string
	Kind vc.Kind

	r      *Direct
	commit *object.Commit
	entry  *object.TreeEntry
	tree   *object.Tree
	mode   filemode.FileMode

	createdCommit *object.Commit
}

// Node resolves path at rev. An empty rev means the current head; an
// empty path is the repository root.
func (r *Direct) Node(path, rev string) (*Node, error) {
	path = gitio.NormalizePath(path)
	commit, err := r.g.Resolve(rev)
	if err != nil {
		if rev == "" && vc.IsNoSuchRevision(err) && path == "" {
			// Empty repository: the root directory still exists.
			return &Node{Path: "", Kind: vc.KindDirectory, r: r}, nil
		}
		return nil, err
	}

	node := &Node{Path: path, Rev: commit.Hash.String(), r: r, commit: commit}
	tree, err := r.g.CommitTree(commit)
	if err != nil {
		return nil, err
	}
	if path == "" {
		node.Kind = vc.KindDirectory
		node.tree = tree
		node.mode = filemode.Dir
		return node, nil
	}

	entry, err := r.g.Entry(tree, path)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, &vc.NoSuchNodeError{Path: path, Rev: node.Rev}
	}
	node.entry = entry
	node.mode = entry.Mode
	switch {
	case gitio.IsSubmodule(entry.Mode):
		node.Kind = vc.KindDirectory
	case entry.Mode == filemode.Dir:
		node.Kind = vc.KindDirectory
		sub, err := r.g.Subtree(tree, path)
		if err != nil {
			return nil, err
		}
		node.tree = sub
	default:
		node.Kind = vc.KindFile
	}
	return node, nil
}

// IsFile reports whether the node is a file.
func (n *Node) IsFile() bool { return n.Kind == vc.KindFile }

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool { return n.Kind == vc.KindDirectory }

// Entries lists the direct children of a directory node, sorted by name.
// Files, submodules and empty-repository roots have none.
func (n *Node) Entries() ([]*Node, error) {
	if n.tree == nil || !n.IsDir() {
		return nil, nil
	}
	names := make([]string, 0, len(n.tree.Entries))
	for i := range n.tree.Entries {
		names = append(names, n.tree.Entries[i].Name)
	}
	sort.Strings(names)

	children := make([]*Node, 0, len(names))
	for _, name := range names {
		childPath := name
		if n.Path != "" {
			childPath = n.Path + "/" + name
		}
		child, err := n.r.Node(childPath, n.Rev)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// Content returns the file content. Directories and submodules have none.
func (n *Node) Content() ([]byte, error) {
	if !n.IsFile() || n.entry == nil {
		return nil, nil
	}
	return n.r.g.BlobBytes(n.entry.Hash)
}

// ContentLength returns the file size in bytes.
func (n *Node) ContentLength() (int64, error) {
	if !n.IsFile() || n.entry == nil {
		return 0, nil
	}
	blob, err := n.r.g.Blob(n.entry.Hash)
	if err != nil {
		return 0, err
	}
	return blob.Size, nil
}

// Annotations returns the originating revision id per line of a file.
func (n *Node) Annotations() ([]string, error) {
	if !n.IsFile() {
		return nil, nil
	}
	return n.r.g.Blame(n.commit, n.Path)
}

// History walks the revisions that altered this node, newest first.
func (n *Node) History(limit int) (*gitio.HistoryIter, error) {
	if n.commit == nil {
		return nil, &vc.NoSuchRevisionError{}
	}
	return n.r.g.History(n.Path, n.commit, n.IsFile(), limit)
}

// Properties returns the node's metadata properties (the file mode).
func (n *Node) Properties() map[string]string {
	props := make(map[string]string)
	if n.entry != nil {
		props["mode"] = fmt.Sprintf("%06o", n.mode)
	}
	return props
}

// CreatedRev returns the revision that last altered this node. When the
// node is unchanged relative to the revision's first parent, the walk
// continues back to the actual change.
func (n *Node) CreatedRev() (string, error) {
	commit, err := n.createdAt()
	if err != nil {
		return "", err
	}
	if commit == nil {
		return "", nil
	}
	return commit.Hash.String(), nil
}

func (n *Node) createdAt() (*object.Commit, error) {
	if n.createdCommit != nil {
		return n.createdCommit, nil
	}
	if n.commit == nil || n.Path == "" {
		return n.commit, nil
	}
	created := n.commit
	if n.commit.NumParents() > 0 && n.entry != nil {
		parent, err := n.commit.Parent(0)
		if err != nil {
			return nil, err
		}
		parentTree, err := n.r.g.CommitTree(parent)
		if err != nil {
			return nil, err
		}
		parentEntry, err := n.r.g.Entry(parentTree, n.Path)
		if err != nil {
			return nil, err
		}
		if parentEntry != nil && parentEntry.Hash == n.entry.Hash {
			// Unchanged here; find the revision that introduced it.
			iter, err := n.History(1)
			if err != nil {
				return nil, err
			}
			defer iter.Close()
			ev, err := iter.Next()
			if err != nil && err != io.EOF {
				return nil, err
			}
			if ev != nil {
				created = ev.Commit
			}
		}
	}
	n.createdCommit = created
	return created, nil
}

// LastModified returns the configured timestamp of the revision that
// last altered a file node.
func (n *Node) LastModified() (time.Time, error) {
	if !n.IsFile() {
		return time.Time{}, nil
	}
	commit, err := n.createdAt()
	if err != nil || commit == nil {
		return time.Time{}, err
	}
	return n.r.g.When(commit), nil
}
