// Package vc defines the version-control abstraction shared by the direct
// and cache-backed repository implementations: revisions, change records,
// changesets, and the error taxonomy.
package vc

import "time"

// Kind classifies a node in a tree snapshot.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "dir"
)

// Code returns the single-letter form used in the cache tables.
func (k Kind) Code() string {
	if k == KindDirectory {
		return "D"
	}
	return "F"
}

// KindFromCode is the inverse of Kind.Code.
func KindFromCode(code string) Kind {
	if code == "D" {
		return KindDirectory
	}
	return KindFile
}

// Action classifies a single path-level change within a changeset.
type Action string

const (
	ActionAdd    Action = "add"
	ActionCopy   Action = "copy"
	ActionDelete Action = "delete"
	ActionEdit   Action = "edit"
	ActionMove   Action = "move"
)

var actionCodes = map[Action]string{
	ActionAdd:    "A",
	ActionCopy:   "C",
	ActionDelete: "D",
	ActionEdit:   "E",
	ActionMove:   "M",
}

// Code returns the single-letter form used in the cache tables.
func (a Action) Code() string { return actionCodes[a] }

// ActionFromCode is the inverse of Action.Code.
func ActionFromCode(code string) Action {
	for action, c := range actionCodes {
		if c == code {
			return action
		}
	}
	return ""
}

// ChangeRecord is one path-level change introduced by a revision.
// Path is the path after the change (for deletions, the deleted path).
// BasePath and BaseRev identify the origin for copy, edit and move
// actions and are empty for additions.
type ChangeRecord struct {
	Path     string
	Kind     Kind
	Action   Action
	BasePath string
	BaseRev  string
}

// Changeset is the set of changes introduced by one revision, along with
// the revision's metadata. For merge commits the changes reflect the diff
// against the first parent only.
type Changeset struct {
	Rev     string
	Author  string
	Message string
	Time    time.Time
	Parents []string
	Changes []ChangeRecord
}

// QuickJumpEntry is one branch or tag navigation target.
type QuickJumpEntry struct {
	Category string // "branches" or "tags"
	Name     string
	Path     string
	Rev      string
}

// BranchPoint names a branch whose history contains a revision; Head
// reports whether the revision is the branch tip itself.
type BranchPoint struct {
	Name string
	Rev  string
	Head bool
}
