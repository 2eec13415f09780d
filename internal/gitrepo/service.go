// Package gitrepo keeps one git repository per form and commits a snapshot
// of the definition every time the form is published.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"formdeck/api/internal/form"
	"formdeck/api/internal/store"
)

const (
	snapshotFile   = "form.json"
	definitionFile = "form.yaml"
	mainBranch     = "main"
)

// ErrNoRevisions is returned for forms that were never published.
var ErrNoRevisions = errors.New("form has no revisions")

// Snapshot is the published state of a form.
type Snapshot struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Version     int          `json:"version"`
	Fields      []form.Field `json:"fields"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{baseDir: baseDir, locks: make(map[string]*sync.Mutex), now: time.Now}
}

// CommitRevision writes the snapshot on main and tags it v{version}. An
// unchanged definition still gets its tag, pointing at the existing head.
func (s *Service) CommitRevision(formID string, snap Snapshot, author string) (store.CommitInfo, error) {
	lock := s.formLock(formID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(formID)
	if err != nil {
		return store.CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}
	if err := writeSnapshot(worktree.Filesystem.Root(), snap); err != nil {
		return store.CommitInfo{}, err
	}
	for _, name := range []string{snapshotFile, definitionFile} {
		if _, err := worktree.Add(name); err != nil {
			return store.CommitInfo{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	signature := &object.Signature{Name: author, Email: authorEmail(author), When: s.now()}
	hash, err := worktree.Commit(fmt.Sprintf("Publish version %d", snap.Version), &git.CommitOptions{Author: signature})
	if errors.Is(err, git.ErrEmptyCommit) {
		head, headErr := repo.Head()
		if headErr != nil {
			return store.CommitInfo{}, fmt.Errorf("resolve head: %w", headErr)
		}
		hash, err = head.Hash(), nil
	}
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("commit revision: %w", err)
	}

	tag := fmt.Sprintf("v%d", snap.Version)
	_, err = repo.CreateTag(tag, hash, &git.CreateTagOptions{Tagger: signature, Message: tag})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return store.CommitInfo{}, fmt.Errorf("create tag %s: %w", tag, err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists revisions newest first.
func (s *Service) History(formID string, limit int) ([]store.CommitInfo, error) {
	lock := s.formLock(formID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(formID)
	if err != nil {
		return nil, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", mainBranch, err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var items []store.CommitInfo
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Snapshot loads the definition at a commit hash, short hash or tag name.
func (s *Service) Snapshot(formID, revision string) (Snapshot, store.CommitInfo, error) {
	lock := s.formLock(formID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(formID)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, fmt.Errorf("resolve revision %s: %w", revision, err)
	}
	commitObj, err := repo.CommitObject(*hash)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, fmt.Errorf("read commit %s: %w", revision, err)
	}
	snap, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	return snap, toCommitInfo(commitObj), nil
}

func (s *Service) repoPath(formID string) string {
	return filepath.Join(s.baseDir, formID)
}

func (s *Service) open(formID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(formID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoRevisions
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(formID string) (*git.Repository, error) {
	repo, err := s.open(formID)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, ErrNoRevisions) {
		return nil, err
	}

	path := s.repoPath(formID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, fmt.Errorf("point HEAD at %s: %w", mainBranch, err)
	}
	return repo, nil
}

func (s *Service) formLock(formID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[formID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[formID] = lock
	}
	return lock
}

func writeSnapshot(root string, snap Snapshot) error {
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	definition, err := form.MarshalDefinition(form.Definition{Title: snap.Title, Description: snap.Description, Fields: snap.Fields})
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, definitionFile), definition, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", definitionFile, err)
	}
	return nil
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", snapshotFile, err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(contents), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Change describes how one field differs between two snapshots.
type Change struct {
	FieldID string `json:"fieldId"`
	Label   string `json:"label"`
	Kind    string `json:"kind"`
}

// Diff compares two snapshots field by field. Kinds are added, removed,
// modified and moved; a modified field that also moved reports modified.
func Diff(from, to Snapshot) []Change {
	before := make(map[string]int, len(from.Fields))
	for i, field := range from.Fields {
		before[field.ID] = i
	}
	var changes []Change
	seen := make(map[string]bool, len(to.Fields))
	for i, field := range to.Fields {
		seen[field.ID] = true
		j, ok := before[field.ID]
		switch {
		case !ok:
			changes = append(changes, Change{FieldID: field.ID, Label: field.DisplayName(), Kind: "added"})
		case !sameDefinition(from.Fields[j], field):
			changes = append(changes, Change{FieldID: field.ID, Label: field.DisplayName(), Kind: "modified"})
		case i != j:
			changes = append(changes, Change{FieldID: field.ID, Label: field.DisplayName(), Kind: "moved"})
		}
	}
	for _, field := range from.Fields {
		if !seen[field.ID] {
			changes = append(changes, Change{FieldID: field.ID, Label: field.DisplayName(), Kind: "removed"})
		}
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Kind < changes[j].Kind })
	return changes
}

func sameDefinition(a, b form.Field) bool {
	a.Position, b.Position = 0, 0
	a.FormID, b.FormID = "", ""
	left, errA := json.Marshal(a)
	right, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(left) == string(right)
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String(),
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func authorEmail(author string) string {
	local := make([]rune, 0, len(author))
	for _, r := range strings.ToLower(author) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			local = append(local, r)
		case r == ' ' || r == '-' || r == '_' || r == '.':
			local = append(local, '.')
		}
	}
	if len(local) == 0 {
		return "user@formdeck.local"
	}
	return string(local) + "@formdeck.local"
}
