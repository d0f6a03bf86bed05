package syncer

import (
	"errors"
	"log/slog"
	"time"

	"revcache/internal/gitio"
	"revcache/internal/repo"
	"revcache/internal/store"
	"revcache/internal/vc"
)

// Cached serves changeset and youngest-revision queries from the
// revision cache, synchronizing on demand when a revision is missing.
// Everything the cache does not hold is answered by the underlying
// direct repository.
type Cached struct {
	*repo.Direct

	db     *store.DB
	eng    *Engine
	repoID string
	log    *slog.Logger
}

// NewCached wraps a direct repository with the revision cache. The
// caller keeps ownership of neither: Close releases both.
func NewCached(direct *repo.Direct, db *store.DB, log *slog.Logger) *Cached {
	if log == nil {
		log = slog.Default()
	}
	eng := NewEngine(direct, db, log)
	return &Cached{
		Direct: direct,
		db:     db,
		eng:    eng,
		repoID: eng.RepoID(),
		log:    log,
	}
}

// Open builds a Repository for the repository at path. With an empty
// cachePath the cache layer is skipped and queries always hit the
// commit graph.
func Open(path, cachePath string, opts gitio.Options, log *slog.Logger) (repo.Repository, error) {
	direct, err := repo.Open(path, opts, log)
	if err != nil {
		return nil, err
	}
	if cachePath == "" {
		return direct, nil
	}
	db, err := store.Open(cachePath)
	if err != nil {
		direct.Close()
		return nil, err
	}
	return NewCached(direct, db, log), nil
}

func (c *Cached) Close() error {
	gerr := c.Direct.Close()
	derr := c.db.Close()
	if gerr != nil {
		return gerr
	}
	return derr
}

// Sync runs the import engine.
func (c *Cached) Sync(feedback func(rev string), clean bool) error {
	return c.eng.Sync(feedback, clean)
}

// Changeset reads the revision row and its change records from the
// cache. A miss triggers one synchronization before giving up.
func (c *Cached) Changeset(rev string) (*vc.Changeset, error) {
	full, err := c.Direct.Resolve(rev)
	if err != nil {
		return nil, err
	}
	cset, err := c.cachedChangeset(full)
	if err == nil || !errors.Is(err, store.ErrRevisionNotFound) {
		return cset, err
	}
	c.log.Info("revision not cached, synchronizing", "rev", full)
	if err := c.eng.Sync(nil, false); err != nil {
		return nil, err
	}
	cset, err = c.cachedChangeset(full)
	if errors.Is(err, store.ErrRevisionNotFound) {
		return nil, &vc.NoSuchRevisionError{Rev: rev}
	}
	return cset, err
}

func (c *Cached) cachedChangeset(rev string) (*vc.Changeset, error) {
	row, err := c.db.GetRevision(c.repoID, rev)
	if err != nil {
		return nil, err
	}
	changes, err := c.db.Changes(c.repoID, rev)
	if err != nil {
		return nil, err
	}
	parents, err := c.Direct.ParentRevs(rev)
	if err != nil {
		return nil, err
	}
	return &vc.Changeset{
		Rev:     row.Rev,
		Author:  row.Author,
		Message: row.Message,
		Time:    time.UnixMicro(row.TimeMicro).UTC(),
		Parents: parents,
		Changes: changes,
	}, nil
}

// YoungestRev reads the recorded youngest revision. The value trails
// the graph head until the next synchronization completes.
func (c *Cached) YoungestRev() (string, error) {
	meta, err := c.db.Metadata(c.repoID)
	if err != nil {
		return "", err
	}
	return meta[store.MetaYoungestRev], nil
}

// PathRevisions lists cached revisions that changed path, newest first.
// limit <= 0 means no limit. Only available on the cached repository:
// answering it from the graph would walk full history per call.
func (c *Cached) PathRevisions(path string, limit int) ([]string, error) {
	return c.db.PathRevisions(c.repoID, gitio.NormalizePath(path), limit)
}

// ClearCache drops all cached rows for this repository.
func (c *Cached) ClearCache() error {
	return c.db.Clear(c.repoID)
}
