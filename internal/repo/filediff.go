package repo

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pmezard/go-difflib/difflib"

	"revcache/internal/gitio"
	"revcache/internal/vc"
)

// Changes lists the file-level differences between two trees, each
// addressed by a directory path and a revision. Empty paths compare the
// repository roots; records reference the old side through their base
// path and base revision.
func (r *Direct) Changes(oldPath, oldRev, newPath, newRev string) ([]vc.ChangeRecord, error) {
	oldTree, oldFull, err := r.subtreeAt(oldPath, oldRev)
	if err != nil {
		return nil, err
	}
	newTree, _, err := r.subtreeAt(newPath, newRev)
	if err != nil {
		return nil, err
	}
	return r.g.ChangesBetween(oldTree, newTree,
		gitio.NormalizePath(oldPath), gitio.NormalizePath(newPath), oldFull)
}

func (r *Direct) subtreeAt(path, rev string) (*object.Tree, string, error) {
	commit, err := r.g.Resolve(rev)
	if err != nil {
		return nil, "", err
	}
	root, err := r.g.CommitTree(commit)
	if err != nil {
		return nil, "", err
	}
	p := gitio.NormalizePath(path)
	tree, err := r.g.Subtree(root, p)
	if err != nil {
		return nil, "", err
	}
	if tree == nil {
		return nil, "", &vc.NoSuchNodeError{Path: p, Rev: commit.Hash.String()}
	}
	return tree, commit.Hash.String(), nil
}

// ContentDiff renders a unified diff of one file between two revisions.
// A side where the path does not exist diffs against empty content.
func (r *Direct) ContentDiff(path, oldRev, newRev string) (string, error) {
	oldLines, oldID, err := r.fileLines(path, oldRev)
	if err != nil {
		return "", err
	}
	newLines, newID, err := r.fileLines(path, newRev)
	if err != nil {
		return "", err
	}
	ud := difflib.UnifiedDiff{
		A:        oldLines,
		B:        newLines,
		FromFile: fmt.Sprintf("a/%s (%s)", path, oldID),
		ToFile:   fmt.Sprintf("b/%s (%s)", path, newID),
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(ud)
}

func (r *Direct) fileLines(path, rev string) ([]string, string, error) {
	short, err := r.ShortRev(rev)
	if err != nil {
		return nil, "", err
	}
	node, err := r.Node(path, rev)
	if err != nil {
		if vc.IsNoSuchNode(err) {
			return nil, short, nil
		}
		return nil, "", err
	}
	content, err := node.Content()
	if err != nil {
		return nil, "", err
	}
	return difflib.SplitLines(string(content)), short, nil
}
