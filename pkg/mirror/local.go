package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Local is a Host that keeps mirrors as bare repositories and release
// assets as plain files under Root. It serves development setups and
// self-hosted registries that front Root with a static file server.
type Local struct {
	Root string
	// BaseURL prefixes published asset URLs. When empty, file:// URLs are
	// returned.
	BaseURL string
}

var _ Host = (*Local)(nil)

// NewLocal creates a Local host rooted at root.
func NewLocal(root, baseURL string) (*Local, error) {
	if root == "" {
		return nil, errors.New("local mirror root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve mirror root: %w", err)
	}
	return &Local{Root: abs, BaseURL: baseURL}, nil
}

func (l *Local) repoDir(name string) string {
	return filepath.Join(l.Root, "repos", name+".git")
}

// EnsureRepository initializes a bare repository, or opens the existing one.
func (l *Local) EnsureRepository(_ context.Context, name, _ string) (*Repository, error) {
	dir := l.repoDir(name)
	if _, err := gogit.PlainInit(dir, true); err != nil {
		if !errors.Is(err, gogit.ErrRepositoryAlreadyExists) {
			return nil, fmt.Errorf("init mirror %s: %w", name, err)
		}
	}
	return &Repository{Owner: "local", Name: name, CloneURL: dir, HTMLURL: l.url("repos", name+".git")}, nil
}

// PublishRelease copies the asset to releases/<repo>/<tag>/.
func (l *Local) PublishRelease(_ context.Context, repo *Repository, rel Release) (*Asset, error) {
	dir := filepath.Join(l.Root, "releases", repo.Name, rel.Tag)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create release dir for %s: %w", rel.Tag, err)
	}
	if err := copyFile(rel.AssetPath, filepath.Join(dir, AssetName)); err != nil {
		return nil, fmt.Errorf("store asset for %s: %w", rel.Tag, err)
	}
	return &Asset{URL: l.url("releases", repo.Name, rel.Tag, AssetName)}, nil
}

// PushURL returns the bare repository path.
func (l *Local) PushURL(repo *Repository) string {
	return repo.CloneURL
}

// PushAuth returns nil; local pushes need no credentials.
func (l *Local) PushAuth() transport.AuthMethod {
	return nil
}

func (l *Local) url(elem ...string) string {
	if l.BaseURL == "" {
		u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(append([]string{l.Root}, elem...)...))}
		return u.String()
	}
	base, err := url.Parse(l.BaseURL)
	if err != nil {
		return l.BaseURL + "/" + path.Join(elem...)
	}
	return base.JoinPath(elem...).String()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
