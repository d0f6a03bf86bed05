package gitio

import (
	"io"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"revcache/internal/vc"
)

// HistoryEvent is one revision that altered the queried path.
type HistoryEvent struct {
	Path   string
	Commit *object.Commit
	Action vc.Action
}

// HistoryIter walks the commit graph backward from a start revision and
// yields the revisions that altered one path, newest first. It is finite
// and not restartable; build a new iterator to walk again.
type HistoryIter struct {
	g          *Graph
	path       string
	skipMerges bool
	limit      int

	iter    object.CommitIter
	yielded int
	done    bool

	// prevParent carries the previous step's first parent so the walk can
	// reuse its tree-entry lookup instead of descending again when it
	// lands on that same commit.
	prevParent        *object.Commit
	prevParentHash    plumbing.Hash
	prevParentPresent bool
}

// History starts a path history walk from start. File targets skip merge
// commits entirely; directory targets do not. A limit of zero or less
// means unlimited.
func (g *Graph) History(path string, start *object.Commit, isFile bool, limit int) (*HistoryIter, error) {
	iter, err := g.Walk(start.Hash)
	if err != nil {
		return nil, err
	}
	return &HistoryIter{
		g:          g,
		path:       NormalizePath(path),
		skipMerges: isFile,
		limit:      limit,
		iter:       iter,
	}, nil
}

// Close releases the underlying commit iterator.
func (h *HistoryIter) Close() {
	if h.iter != nil {
		h.iter.Close()
	}
	h.done = true
}

// entryAt resolves the queried path in a commit to its object id. The
// empty path denotes the root tree itself.
func (h *HistoryIter) entryAt(commit *object.Commit) (plumbing.Hash, bool, error) {
	if h.path == "" {
		return commit.TreeHash, true, nil
	}
	tree, err := h.g.CommitTree(commit)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	entry, err := h.g.Entry(tree, h.path)
	if err != nil || entry == nil {
		return plumbing.ZeroHash, false, err
	}
	return entry.Hash, true, nil
}

// Next returns the next history event, or io.EOF when the walk is over.
func (h *HistoryIter) Next() (*HistoryEvent, error) {
	if h.done {
		return nil, io.EOF
	}
	for {
		commit, err := h.iter.Next()
		if err != nil {
			if err == io.EOF {
				h.done = true
			}
			return nil, err
		}

		var hash plumbing.Hash
		var present bool
		if h.prevParent != nil && h.prevParent.Hash == commit.Hash {
			hash, present = h.prevParentHash, h.prevParentPresent
		} else {
			hash, present, err = h.entryAt(commit)
			if err != nil {
				return nil, err
			}
		}

		numParents := commit.NumParents()
		if h.skipMerges && numParents > 1 {
			continue
		}
		if numParents == 0 {
			h.done = true
			if present {
				return h.emit(commit, vc.ActionAdd), nil
			}
			return nil, io.EOF
		}

		parent, err := commit.Parent(0)
		if err != nil {
			return nil, err
		}
		parentHash, parentPresent, err := h.entryAt(parent)
		if err != nil {
			return nil, err
		}
		h.prevParent = parent
		h.prevParentHash = parentHash
		h.prevParentPresent = parentPresent

		var action vc.Action
		switch {
		case !present && !parentPresent:
			continue
		case !present:
			action = vc.ActionDelete
		case !parentPresent:
			action = vc.ActionAdd
		case hash != parentHash:
			action = vc.ActionEdit
		default:
			continue
		}
		return h.emit(commit, action), nil
	}
}

func (h *HistoryIter) emit(commit *object.Commit, action vc.Action) *HistoryEvent {
	h.yielded++
	if h.limit > 0 && h.yielded >= h.limit {
		h.done = true
	}
	return &HistoryEvent{Path: h.path, Commit: commit, Action: action}
}

// ForEach drains the iterator through fn, stopping on the first error.
func (h *HistoryIter) ForEach(fn func(*HistoryEvent) error) error {
	defer h.Close()
	for {
		ev, err := h.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
