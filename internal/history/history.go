// Records store files in a git repository using go-git.

package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// maxLog caps the number of commits Log returns.
const maxLog = 1000

// Commit is one entry of a file's history.
type Commit struct {
	Hash        string    `json:"hash"`
	Message     string    `json:"message"`
	Body        string    `json:"body,omitempty"`
	Author      string    `json:"author"`
	AuthorEmail string    `json:"author_email"`
	AuthorDate  time.Time `json:"author_date"`
}

// Repo commits store files to a git repository rooted at the data directory.
type Repo struct {
	dir   string
	name  string
	email string
	repo  *gogit.Repository
	mu    sync.Mutex
	now   func() time.Time
}

// Open opens the git repository at dir, initializing it when needed.
func Open(dir, name, email string) (*Repo, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil { //nolint:gosec // G301: data directory
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(abs)
	if err != nil {
		repo, err = gogit.PlainInit(abs, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = name
		cfg.User.Email = email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}
	return &Repo{dir: abs, name: name, email: email, repo: repo, now: time.Now}, nil
}

// Dir returns the repository root.
func (r *Repo) Dir() string {
	return r.dir
}

// Record stages files and commits them with msg. Nothing is committed when
// none of the files changed since the last commit.
//
// Files are absolute or relative to the repository root. A file that no
// longer exists is removed from the tree.
func (r *Repo) Record(ctx context.Context, msg string, files ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}
	rels := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := r.rel(f)
		if err != nil {
			return err
		}
		rels = append(rels, rel)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	w, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	for _, rel := range rels {
		if _, err := os.Stat(filepath.Join(r.dir, filepath.FromSlash(rel))); errors.Is(err, os.ErrNotExist) {
			if _, err := w.Remove(rel); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
				return fmt.Errorf("failed to unstage %s: %w", rel, err)
			}
			continue
		}
		if _, err := w.Add(rel); err != nil {
			return fmt.Errorf("failed to stage %s: %w", rel, err)
		}
	}

	// Other files in the directory stay untracked; only look at ours.
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	changed := false
	for _, rel := range rels {
		if fs, ok := status[rel]; ok && fs.Staging != gogit.Unmodified && fs.Staging != gogit.Untracked {
			changed = true
			break
		}
	}
	if !changed {
		return nil
	}

	sig := &object.Signature{Name: r.name, Email: r.email, When: r.now()}
	if _, err := w.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Log returns up to n commits touching path, newest first. An empty path
// lists every commit. A repository without commits has no history.
func (r *Repo) Log(ctx context.Context, path string, n int) ([]Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 || n > maxLog {
		n = maxLog
	}
	opts := &gogit.LogOptions{}
	if path != "" && path != "." {
		rel, err := r.rel(path)
		if err != nil {
			return nil, err
		}
		opts.FileName = &rel
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	iter, err := r.repo.Log(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	var commits []Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return commits, fmt.Errorf("failed to read log: %w", err)
		}
		subject, body, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, Commit{
			Hash:        c.Hash.String(),
			Message:     subject,
			Body:        strings.TrimSpace(body),
			Author:      c.Author.Name,
			AuthorEmail: c.Author.Email,
			AuthorDate:  c.Author.When,
		})
	}
	return commits, nil
}

// FileAt returns the content of path at the commit hash. "HEAD" names the
// latest commit.
func (r *Repo) FileAt(ctx context.Context, hash, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, err := r.rel(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	h := plumbing.NewHash(hash)
	if hash == "HEAD" {
		ref, err := r.repo.Head()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		h = ref.Hash()
	}
	c, err := r.repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", hash, err)
	}
	f, err := c.File(rel)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s at %s: %w", rel, hash, err)
	}
	reader, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", rel, err)
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}

// rel converts a path to the slash separated form git uses, relative to the
// repository root.
func (r *Repo) rel(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.dir, path)
	}
	rel, err := filepath.Rel(r.dir, filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside of %s", path, r.dir)
	}
	rel = filepath.ToSlash(rel)
	if slices.Contains(strings.Split(rel, "/"), ".git") {
		return "", fmt.Errorf("%s is inside the git directory", path)
	}
	return rel, nil
}
