// Package syncer imports the commit graph into the revision cache and
// provides the cache-backed repository implementation.
package syncer

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"revcache/internal/repo"
	"revcache/internal/store"
	"revcache/internal/vc"
)

// Engine performs the incremental import of every commit reachable from
// any branch or tag reference, in parent-before-child order, exactly
// once. Concurrent synchronizers are tolerated: a duplicate insert is
// rolled back and skipped.
type Engine struct {
	direct *repo.Direct
	db     *store.DB
	repoID string
	log    *slog.Logger
}

// NewEngine builds a sync engine for one repository and cache.
func NewEngine(direct *repo.Direct, db *store.DB, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		direct: direct,
		db:     db,
		repoID: store.RepoID(direct.Graph().Path()),
		log:    log,
	}
}

// RepoID returns the cache key the engine writes under.
func (e *Engine) RepoID() string { return e.repoID }

// Sync runs import passes until one makes no changes, then records the
// youngest known revision. feedback, if non-nil, is invoked once per
// discovered revision in insertion order.
func (e *Engine) Sync(feedback func(rev string), clean bool) error {
	if clean {
		e.log.Info("clearing revision cache", "repo", e.repoID)
		if err := e.db.Clear(e.repoID); err != nil {
			return err
		}
	}
	if err := e.checkMetadata(); err != nil {
		return err
	}
	meta, err := e.db.Metadata(e.repoID)
	if err != nil {
		return err
	}
	metaYoungest := meta[store.MetaYoungestRev]

	g := e.direct.Graph()
	for {
		youngest, err := e.direct.YoungestRev()
		if err != nil {
			return err
		}
		updated := false
		seen := make(map[plumbing.Hash]bool)

		var tips []*object.Commit
		err = g.ForEachRef(func(_ string, _ *plumbing.Reference, commit *object.Commit) error {
			tips = append(tips, commit)
			return nil
		})
		if err != nil {
			return err
		}

		for _, tip := range tips {
			commits, err := e.collect(tip, seen)
			if err != nil {
				return err
			}
			// Discovery is newest-to-oldest; insertion replays it
			// oldest-to-newest so parents always precede children.
			for i := len(commits) - 1; i >= 0; i-- {
				commit := commits[i]
				rev := commit.Hash.String()
				e.log.Info("syncing revision", "rev", rev)
				cset, err := e.direct.ChangesetOf(commit)
				if err != nil {
					return err
				}
				inserted, err := e.insertChangeset(cset)
				if err != nil {
					return err
				}
				if inserted {
					updated = true
				}
				if feedback != nil {
					feedback(rev)
				}
			}
		}

		if updated {
			// New commits may have arrived while scanning; go again.
			continue
		}

		if metaYoungest != youngest {
			tx, err := e.db.Begin()
			if err != nil {
				return err
			}
			if err := e.db.SetMetadata(tx, e.repoID, store.MetaYoungestRev, youngest); err != nil {
				tx.Rollback()
				return err
			}
			if err := tx.Commit(); err != nil {
				return err
			}
		}
		return nil
	}
}

// checkMetadata validates the cache against the configured repository
// location. A recorded location that disagrees with the configured one
// is fatal: the cache belongs to a different graph and only an explicit
// reset may reconcile them.
func (e *Engine) checkMetadata() error {
	meta, err := e.db.Metadata(e.repoID)
	if err != nil {
		return err
	}
	name := e.direct.Graph().Path()

	tx, err := e.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	dir, ok := meta[store.MetaRepositoryDir]
	switch {
	case ok && dir != "":
		if filepath.Clean(dir) != filepath.Clean(name) {
			e.log.Warn("cache directory mismatch", "stored", dir, "configured", name)
			return &vc.DirectoryMismatchError{Stored: dir, Configured: name}
		}
	case ok:
		// Cleared by a resync; record the location again.
		e.log.Info("resetting repository_dir", "dir", name)
		if err := e.db.SetMetadata(tx, e.repoID, store.MetaRepositoryDir, name); err != nil {
			return err
		}
	default:
		e.log.Info("storing initial repository_dir", "dir", name)
		if err := e.db.SetMetadata(tx, e.repoID, store.MetaRepositoryDir, name); err != nil {
			return err
		}
	}
	if _, ok := meta[store.MetaYoungestRev]; !ok {
		if err := e.db.SetMetadata(tx, e.repoID, store.MetaYoungestRev, ""); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// mergePoint records a merge whose extra parents still need their
// histories spliced in, at segment index at.
type mergePoint struct {
	at      int
	parents []plumbing.Hash
}

// linear follows first parents from tip, newest first, stopping at the
// first commit already seen in this pass or already cached. Extra merge
// parents are recorded for later splicing.
func (e *Engine) linear(tip *object.Commit, seen map[plumbing.Hash]bool) ([]*object.Commit, []mergePoint, error) {
	g := e.direct.Graph()
	var segment []*object.Commit
	var merges []mergePoint
	commit := tip
	for commit != nil {
		if seen[commit.Hash] {
			break
		}
		seen[commit.Hash] = true
		cached, err := e.db.HasRevision(e.repoID, commit.Hash.String())
		if err != nil {
			return nil, nil, err
		}
		if cached {
			break
		}
		segment = append(segment, commit)
		parents := commit.ParentHashes
		if len(parents) == 0 {
			break
		}
		if len(parents) > 1 {
			merges = append(merges, mergePoint{at: len(segment), parents: parents[1:]})
		}
		next, err := g.Commit(parents[0])
		if err != nil {
			return nil, nil, err
		}
		if next == nil {
			return nil, nil, fmt.Errorf("missing parent commit %s", parents[0])
		}
		commit = next
	}
	return segment, merges, nil
}

// frame is one in-progress segment on the explicit splice worklist. The
// worklist replaces the per-merge-parent recursion of the discovery
// algorithm so stack usage stays bounded on merge-heavy histories.
type frame struct {
	segment []*object.Commit
	merges  []mergePoint // consumed from the end

	cur    []plumbing.Hash // parents of the merge being expanded
	curIdx int
	curAt  int

	parent   *frame
	spliceAt int
}

// collect discovers the commits reachable from tip that are not yet
// cached, newest first, with every merge parent's history spliced in at
// the correct topological position.
func (e *Engine) collect(tip *object.Commit, seen map[plumbing.Hash]bool) ([]*object.Commit, error) {
	g := e.direct.Graph()
	segment, merges, err := e.linear(tip, seen)
	if err != nil {
		return nil, err
	}
	root := &frame{segment: segment, merges: merges}
	stack := []*frame{root}

	for len(stack) > 0 {
		f := stack[len(stack)-1]

		if f.cur == nil || f.curIdx >= len(f.cur) {
			if n := len(f.merges); n > 0 {
				m := f.merges[n-1]
				f.merges = f.merges[:n-1]
				f.cur = m.parents
				f.curIdx = 0
				f.curAt = m.at
				continue
			}
			// Frame complete: splice into its parent segment.
			stack = stack[:len(stack)-1]
			if f.parent != nil {
				f.parent.segment = spliceInto(f.parent.segment, f.spliceAt, f.segment)
			}
			continue
		}

		ph := f.cur[f.curIdx]
		f.curIdx++
		commit, err := g.Commit(ph)
		if err != nil {
			return nil, err
		}
		if commit == nil {
			return nil, fmt.Errorf("missing merge parent commit %s", ph)
		}
		seg, subMerges, err := e.linear(commit, seen)
		if err != nil {
			return nil, err
		}
		stack = append(stack, &frame{
			segment:  seg,
			merges:   subMerges,
			parent:   f,
			spliceAt: f.curAt,
		})
	}
	return root.segment, nil
}

func spliceInto(dst []*object.Commit, at int, src []*object.Commit) []*object.Commit {
	if len(src) == 0 {
		return dst
	}
	out := make([]*object.Commit, 0, len(dst)+len(src))
	out = append(out, dst[:at]...)
	out = append(out, src...)
	out = append(out, dst[at:]...)
	return out
}

// insertChangeset writes one revision row plus its change records in a
// single transaction. A uniqueness violation means a concurrent writer
// already imported the revision; the transaction is rolled back and the
// revision skipped.
func (e *Engine) insertChangeset(cset *vc.Changeset) (bool, error) {
	tx, err := e.db.Begin()
	if err != nil {
		return false, err
	}
	row := &store.RevisionRow{
		Rev:       cset.Rev,
		TimeMicro: cset.Time.UnixMicro(),
		Author:    cset.Author,
		Message:   cset.Message,
	}
	if err := e.db.InsertRevision(tx, e.repoID, row); err != nil {
		tx.Rollback()
		if store.IsUniqueViolation(err) {
			e.log.Info("revision already cached", "rev", cset.Rev)
			return false, nil
		}
		return false, err
	}
	for _, rec := range cset.Changes {
		e.log.Debug("caching node change", "rev", cset.Rev, "path", rec.Path, "action", string(rec.Action))
		if err := e.db.InsertChange(tx, e.repoID, cset.Rev, rec); err != nil {
			tx.Rollback()
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing revision %s: %w", cset.Rev, err)
	}
	return true, nil
}
