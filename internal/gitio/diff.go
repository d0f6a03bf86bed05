package gitio

import (
	"fmt"
	"path"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"revcache/internal/vc"
)

type rawChange struct {
	oldPath string
	newPath string
	oldHash plumbing.Hash
	newHash plumbing.Hash
	action  vc.Action
}

// Changes diffs a commit's tree against its first parent's tree and
// returns the change records sorted by path. A nil parent means a root
// commit: every reachable file is an addition. Merge commits are diffed
// against the first parent only; the changeset of a merge is what the
// merge itself changed relative to mainline.
func (g *Graph) Changes(parent, commit *object.Commit) ([]vc.ChangeRecord, error) {
	tree, err := g.CommitTree(commit)
	if err != nil {
		return nil, err
	}

	if parent == nil {
		paths, err := g.WalkFiles(tree)
		if err != nil {
			return nil, err
		}
		records := make([]vc.ChangeRecord, 0, len(paths))
		for _, p := range paths {
			records = append(records, vc.ChangeRecord{
				Path:   p,
				Kind:   vc.KindFile,
				Action: vc.ActionAdd,
			})
		}
		return records, nil
	}

	parentTree, err := g.CommitTree(parent)
	if err != nil {
		return nil, err
	}
	raw, err := g.rawChanges(parentTree, tree)
	if err != nil {
		return nil, err
	}

	// Rename/copy detection is skipped on huge diffs as a cost control;
	// either the total change count or the pure-addition count must stay
	// within the limit.
	additions := 0
	for _, rc := range raw {
		if rc.action == vc.ActionAdd {
			additions++
		}
	}
	if len(raw) <= g.opts.RenameLimit || additions <= g.opts.RenameLimit {
		raw = detectRenames(raw)
	}

	baseRev := parent.Hash.String()
	records := make([]vc.ChangeRecord, 0, len(raw))
	for _, rc := range raw {
		rec := vc.ChangeRecord{
			Path:   rc.newPath,
			Kind:   vc.KindFile,
			Action: rc.action,
		}
		if rc.action != vc.ActionAdd {
			rec.BasePath = rc.oldPath
			rec.BaseRev = baseRev
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records, nil
}

// ChangesBetween diffs two subtrees taken from arbitrary revisions and
// joins each side's relative file paths onto its base path. Records that
// reference the old side carry oldRev as their base revision. Rename and
// copy detection follows the same limit gate as first-parent changesets.
func (g *Graph) ChangesBetween(oldTree, newTree *object.Tree, oldBase, newBase, oldRev string) ([]vc.ChangeRecord, error) {
	raw, err := g.rawChanges(oldTree, newTree)
	if err != nil {
		return nil, err
	}
	additions := 0
	for _, rc := range raw {
		if rc.action == vc.ActionAdd {
			additions++
		}
	}
	if len(raw) <= g.opts.RenameLimit || additions <= g.opts.RenameLimit {
		raw = detectRenames(raw)
	}

	records := make([]vc.ChangeRecord, 0, len(raw))
	for _, rc := range raw {
		base := newBase
		if rc.action == vc.ActionDelete {
			base = oldBase
		}
		rec := vc.ChangeRecord{
			Path:   path.Join(base, rc.newPath),
			Kind:   vc.KindFile,
			Action: rc.action,
		}
		if rc.action != vc.ActionAdd {
			rec.BasePath = path.Join(oldBase, rc.oldPath)
			rec.BaseRev = oldRev
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records, nil
}

// rawChanges computes the per-path statuses between two trees, submodule
// entries excluded.
func (g *Graph) rawChanges(from, to *object.Tree) ([]rawChange, error) {
	changes, err := from.Diff(to)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}
	var raw []rawChange
	for _, ch := range changes {
		if IsSubmodule(ch.From.TreeEntry.Mode) || IsSubmodule(ch.To.TreeEntry.Mode) {
			continue
		}
		action, err := ch.Action()
		if err != nil {
			return nil, fmt.Errorf("classify change: %w", err)
		}
		switch action {
		case merkletrie.Insert:
			raw = append(raw, rawChange{
				newPath: ch.To.Name,
				newHash: ch.To.TreeEntry.Hash,
				action:  vc.ActionAdd,
			})
		case merkletrie.Delete:
			raw = append(raw, rawChange{
				oldPath: ch.From.Name,
				newPath: ch.From.Name,
				oldHash: ch.From.TreeEntry.Hash,
				action:  vc.ActionDelete,
			})
		case merkletrie.Modify:
			raw = append(raw, rawChange{
				oldPath: ch.From.Name,
				newPath: ch.To.Name,
				oldHash: ch.From.TreeEntry.Hash,
				newHash: ch.To.TreeEntry.Hash,
				action:  vc.ActionEdit,
			})
		}
	}
	return raw, nil
}

// detectRenames pairs deletions with content-identical additions. The
// first addition matching a deleted blob becomes a move; further
// identical additions become copies of the moved path. Blob identity is
// the content hash, so only exact-content renames are recognized.
func detectRenames(raw []rawChange) []rawChange {
	deleted := make(map[plumbing.Hash]int)
	for i, rc := range raw {
		if rc.action == vc.ActionDelete {
			if _, ok := deleted[rc.oldHash]; !ok {
				deleted[rc.oldHash] = i
			}
		}
	}
	if len(deleted) == 0 {
		return raw
	}

	paired := make(map[int]bool)
	out := make([]rawChange, len(raw))
	copy(out, raw)
	for i := range out {
		rc := &out[i]
		if rc.action != vc.ActionAdd {
			continue
		}
		di, ok := deleted[rc.newHash]
		if !ok {
			continue
		}
		rc.oldPath = raw[di].oldPath
		rc.oldHash = raw[di].oldHash
		if paired[di] {
			rc.action = vc.ActionCopy
		} else {
			paired[di] = true
			rc.action = vc.ActionMove
		}
	}
	// Drop the deletions consumed by a move.
	final := out[:0]
	for i := range out {
		if out[i].action == vc.ActionDelete && paired[i] {
			continue
		}
		final = append(final, out[i])
	}
	return final
}
