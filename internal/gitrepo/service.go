// Package gitrepo keeps the version history of the stimulus tables in a
// local git repository.
package gitrepo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const mainBranch = "main"

var ErrNoVersions = errors.New("no stimulus versions committed")

// Version is one commit of the stimulus tables.
type Version struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Files     []string  `json:"files,omitempty"`
}

type Service struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Service {
	return &Service{dir: dir}
}

// Ensure opens the repository, initializing it if needed. Table files
// already present in a fresh directory are committed as the baseline.
func (s *Service) Ensure(author string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := git.PlainOpen(s.dir); err == nil {
		return nil
	} else if !errors.Is(err, git.ErrRepositoryNotExists) {
		return fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(s.dir, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}

	existing, err := filepath.Glob(filepath.Join(s.dir, "*.csv"))
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	if len(existing) == 0 {
		return nil
	}
	names := make([]string, len(existing))
	for i, path := range existing {
		names[i] = filepath.Base(path)
	}
	_, err = s.commit(repo, names, author, "Import stimulus baseline")
	return err
}

// Commit writes files (name to contents) into the repository and commits
// them. Committing unchanged contents returns the current version.
func (s *Service) Commit(files map[string][]byte, author, message string) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if err != nil {
		return Version{}, fmt.Errorf("open repo: %w", err)
	}

	names := make([]string, 0, len(files))
	for name, contents := range files {
		if name != filepath.Base(name) || name == "." || name == ".." {
			return Version{}, fmt.Errorf("invalid table name %q", name)
		}
		if err := os.WriteFile(filepath.Join(s.dir, name), contents, 0o644); err != nil {
			return Version{}, fmt.Errorf("write %s: %w", name, err)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return s.commit(repo, names, author, message)
}

func (s *Service) commit(repo *git.Repository, names []string, author, message string) (Version, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return Version{}, fmt.Errorf("open worktree: %w", err)
	}
	for _, name := range names {
		if _, err := worktree.Add(name); err != nil {
			return Version{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}
	status, err := worktree.Status()
	if err != nil {
		return Version{}, fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		return headVersion(repo)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@pcibex.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return Version{}, fmt.Errorf("commit tables: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Version{}, fmt.Errorf("read commit object: %w", err)
	}
	version := toVersion(commitObj)
	version.Files = names
	return version, nil
}

func headVersion(repo *git.Repository) (Version, error) {
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return Version{}, ErrNoVersions
	}
	if err != nil {
		return Version{}, fmt.Errorf("resolve HEAD: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Version{}, fmt.Errorf("read commit object: %w", err)
	}
	return toVersion(commitObj), nil
}

// Head returns the latest version.
func (s *Service) Head() (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if err != nil {
		return Version{}, fmt.Errorf("open repo: %w", err)
	}
	return headVersion(repo)
}

// History lists versions newest first. A non-empty file restricts it to
// commits that touched that table.
func (s *Service) History(file string, limit int) ([]Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Version{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	opts := &git.LogOptions{From: ref.Hash()}
	if file != "" {
		opts.FileName = &file
	}
	iter, err := repo.Log(opts)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	versions := make([]Version, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		if limit > 0 && len(versions) >= limit {
			return io.EOF
		}
		version := toVersion(commitObj)
		version.Files = changedFiles(commitObj)
		versions = append(versions, version)
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("walk log: %w", err)
	}
	return versions, nil
}

// ReadFile returns a table as of hash, or as of HEAD when hash is empty.
func (s *Service) ReadFile(name, hash string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	revision := "HEAD"
	if hash != "" {
		revision = hash
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", revision, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", revision, err)
	}
	file, err := commitObj.File(name)
	if err != nil {
		return nil, fmt.Errorf("load %s from %s: %w", name, revision, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// Tag names a version, e.g. the tables a data collection wave ran with.
func (s *Service) Tag(hash, name, author string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", hash, err)
	}
	_, err = repo.CreateTag(name, *resolved, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@pcibex.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
		Message: name,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag %s: %w", name, err)
	}
	return nil
}

func changedFiles(commitObj *object.Commit) []string {
	stats, err := commitObj.Stats()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(stats))
	for _, stat := range stats {
		names = append(names, stat.Name)
	}
	slices.Sort(names)
	return names
}

func toVersion(commitObj *object.Commit) Version {
	return Version{
		Hash:      commitObj.Hash.String(),
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' || r == '.' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "researcher"
	}
	return string(out)
}
