// Package mirror publishes a submitted repository to a registry-controlled
// host: it creates the mirror repository, force-pushes every ref into it,
// and publishes one release with one downloadable asset per version tag.
package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing/transport"
)

// RepoPrefix prefixes every mirror repository name.
const RepoPrefix = "pkg-"

// AssetName is the file name every release asset is uploaded under.
const AssetName = "tarball.tar.gz"

// AssetMediaType is the content type of release assets.
const AssetMediaType = "application/gzip"

// Repository identifies a mirror repository on the host.
type Repository struct {
	Owner    string
	Name     string
	CloneURL string
	HTMLURL  string
}

// Release describes one version release to publish.
type Release struct {
	Tag        string
	Prerelease bool
	AssetPath  string
}

// Asset is a published release asset.
type Asset struct {
	ReleaseID int64
	URL       string
}

// Host is a registry-controlled repository host.
type Host interface {
	// EnsureRepository creates the named repository, or returns the existing
	// one when it already exists.
	EnsureRepository(ctx context.Context, name, description string) (*Repository, error)
	// PublishRelease creates a release for rel.Tag and uploads rel.AssetPath
	// as its asset.
	PublishRelease(ctx context.Context, repo *Repository, rel Release) (*Asset, error)
	// PushURL is the git URL refs are pushed to.
	PushURL(repo *Repository) string
	// PushAuth returns the credentials used for pushing.
	PushAuth() transport.AuthMethod
}

// RepoName returns the mirror repository name for a workspace id.
func RepoName(id string) string {
	return RepoPrefix + id
}

// Pusher is the part of a workspace the publisher needs.
type Pusher interface {
	SetOrigin(url string) error
	PushMirror(ctx context.Context, auth transport.AuthMethod) error
}

// Publisher mirrors workspaces to a Host.
type Publisher struct {
	host   Host
	logger *slog.Logger
}

// NewPublisher creates a Publisher for host.
func NewPublisher(host Host, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{host: host, logger: logger}
}

// Host returns the underlying host.
func (p *Publisher) Host() Host {
	return p.host
}

// Mirror ensures the mirror repository for id exists, rewrites the
// workspace origin to it and force-pushes every branch and tag. Existing
// mirror content is overwritten.
func (p *Publisher) Mirror(ctx context.Context, ws Pusher, id, description string) (*Repository, error) {
	name := RepoName(id)
	repo, err := p.host.EnsureRepository(ctx, name, description)
	if err != nil {
		return nil, fmt.Errorf("ensure mirror repository %s: %w", name, err)
	}
	if err := ws.SetOrigin(p.host.PushURL(repo)); err != nil {
		return nil, fmt.Errorf("set mirror origin: %w", err)
	}
	if err := ws.PushMirror(ctx, p.host.PushAuth()); err != nil {
		return nil, fmt.Errorf("push to mirror %s: %w", name, err)
	}
	p.logger.Info("mirrored repository", "repo", name, "url", repo.HTMLURL)
	return repo, nil
}
