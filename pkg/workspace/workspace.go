// Package workspace manages the isolated on-disk clone a single submission
// works in. A workspace is created empty, cloned once, checked out tag by
// tag, archived, pushed to a mirror, and removed when the submission ends.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/google/uuid"

	"github.com/xelpkg/registry/pkg/semver"
)

// ErrNotCloned is returned by operations that need a repository before Clone
// has succeeded.
var ErrNotCloned = errors.New("workspace has no cloned repository")

// OriginRemote is the remote rewritten to point at the mirror.
const OriginRemote = "origin"

// Workspace is a single-owner checkout directory.
type Workspace struct {
	ID   string
	Path string

	repo   *gogit.Repository
	logger *slog.Logger
}

// NewID returns a fresh opaque workspace id.
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// New creates an empty workspace directory under baseDir. A stale directory
// left behind under the same id is purged first.
func New(baseDir string, logger *slog.Logger) (*Workspace, error) {
	return NewWithID(baseDir, NewID(), logger)
}

// NewWithID is New with a caller-chosen id.
func NewWithID(baseDir, id string, logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	ws := &Workspace{
		ID:     id,
		Path:   filepath.Join(baseDir, "index-"+id),
		logger: logger,
	}

	if _, err := os.Stat(ws.Path); err == nil {
		logger.Warn("purging stale workspace", "path", ws.Path)
		if err := ws.Remove(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(ws.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", ws.Path, err)
	}
	return ws, nil
}

// Clone clones repoURL into the workspace directory, fetching all tags.
func (w *Workspace) Clone(ctx context.Context, repoURL string) error {
	w.logger.Info("cloning repository", "url", repoURL, "path", w.Path)
	repo, err := gogit.PlainCloneContext(ctx, w.Path, false, &gogit.CloneOptions{
		URL:  repoURL,
		Tags: gogit.AllTags,
	})
	if err != nil {
		return fmt.Errorf("git clone failed for %s: %w", repoURL, err)
	}
	w.repo = repo
	return nil
}

// Tags returns the repository's tags that parse as semantic versions, sorted
// by ascending version precedence.
func (w *Workspace) Tags() ([]string, error) {
	if w.repo == nil {
		return nil, ErrNotCloned
	}
	iter, err := w.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	var tags []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		if _, ok := semver.Valid(name); ok {
			tags = append(tags, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	semver.Sort(tags)
	return tags, nil
}

// commitForTag peels a tag reference down to its commit. Both annotated and
// lightweight tags are accepted.
func (w *Workspace) commitForTag(tag string) (*object.Commit, error) {
	if w.repo == nil {
		return nil, ErrNotCloned
	}
	ref, err := w.repo.Tag(tag)
	if err != nil {
		return nil, fmt.Errorf("resolve tag %s: %w", tag, err)
	}
	if tagObj, err := w.repo.TagObject(ref.Hash()); err == nil {
		commit, err := tagObj.Commit()
		if err != nil {
			return nil, fmt.Errorf("peel tag %s: %w", tag, err)
		}
		return commit, nil
	} else if !errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("read tag %s: %w", tag, err)
	}
	commit, err := w.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("read commit for tag %s: %w", tag, err)
	}
	return commit, nil
}

// Checkout replaces the working tree with the contents of tag. The checkout
// is destructive, so callers process tags one at a time.
func (w *Workspace) Checkout(tag string) error {
	commit, err := w.commitForTag(tag)
	if err != nil {
		return err
	}
	wt, err := w.repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{Hash: commit.Hash, Force: true}); err != nil {
		return fmt.Errorf("checkout %s: %w", tag, err)
	}
	return nil
}

// Dir returns the working tree root.
func (w *Workspace) Dir() string {
	return w.Path
}

// SetOrigin points the origin remote at url, replacing any existing origin.
func (w *Workspace) SetOrigin(url string) error {
	if w.repo == nil {
		return ErrNotCloned
	}
	if err := w.repo.DeleteRemote(OriginRemote); err != nil && !errors.Is(err, gogit.ErrRemoteNotFound) {
		return fmt.Errorf("remove origin: %w", err)
	}
	if _, err := w.repo.CreateRemote(&config.RemoteConfig{
		Name: OriginRemote,
		URLs: []string{url},
	}); err != nil {
		return fmt.Errorf("add origin: %w", err)
	}
	return nil
}

// PushMirror force-pushes every branch and tag to origin. Branches that were
// only fetched as remote-tracking refs are materialized as local branches
// first so the mirror receives the full branch set. Remote refs that do not
// exist locally are pruned.
func (w *Workspace) PushMirror(ctx context.Context, auth transport.AuthMethod) error {
	if w.repo == nil {
		return ErrNotCloned
	}
	if err := w.materializeBranches(); err != nil {
		return err
	}
	err := w.repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: OriginRemote,
		RefSpecs: []config.RefSpec{
			"+refs/heads/*:refs/heads/*",
			"+refs/tags/*:refs/tags/*",
		},
		Auth:  auth,
		Force: true,
		Prune: true,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("mirror push: %w", err)
	}
	return nil
}

func (w *Workspace) materializeBranches() error {
	refs, err := w.repo.References()
	if err != nil {
		return fmt.Errorf("list references: %w", err)
	}
	prefix := "refs/remotes/" + OriginRemote + "/"
	var local []*plumbing.Reference
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		if ref.Type() != plumbing.HashReference || !strings.HasPrefix(name, prefix) {
			return nil
		}
		branch := strings.TrimPrefix(name, prefix)
		if branch == "HEAD" {
			return nil
		}
		local = append(local, plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), ref.Hash()))
		return nil
	})
	if err != nil {
		return fmt.Errorf("list references: %w", err)
	}
	for _, ref := range local {
		if err := w.repo.Storer.SetReference(ref); err != nil {
			return fmt.Errorf("create branch %s: %w", ref.Name().Short(), err)
		}
	}
	return nil
}

// Remove deletes the workspace directory and everything beneath it. It is
// safe to call more than once.
func (w *Workspace) Remove() error {
	if err := os.RemoveAll(w.Path); err != nil {
		return fmt.Errorf("remove workspace %s: %w", w.Path, err)
	}
	return nil
}
