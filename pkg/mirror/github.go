package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-github/v66/github"
	"github.com/hashicorp/go-retryablehttp"
)

// GitHubConfig configures the GitHub mirror host.
type GitHubConfig struct {
	Token string
	// Org creates mirrors under an organization instead of the token's user.
	Org string
	// APIURL and UploadURL override the public GitHub endpoints.
	APIURL    string
	UploadURL string
	Private   bool

	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// GitHub is a Host backed by the GitHub REST API. Requests are retried on
// transient failures (connection errors, 429 and 5xx responses).
type GitHub struct {
	cfg    GitHubConfig
	client *github.Client
	logger *slog.Logger

	ownerOnce sync.Once
	owner     string
	ownerErr  error
}

var _ Host = (*GitHub)(nil)

// NewGitHub creates a GitHub host.
func NewGitHub(cfg GitHubConfig, logger *slog.Logger) (*GitHub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Token == "" {
		return nil, errors.New("github token is required")
	}

	rc := retryablehttp.NewClient()
	rc.Logger = logger
	if cfg.RetryMax > 0 {
		rc.RetryMax = cfg.RetryMax
	}
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}

	client := github.NewClient(rc.StandardClient()).WithAuthToken(cfg.Token)
	if cfg.APIURL != "" {
		u, err := parseEndpoint(cfg.APIURL)
		if err != nil {
			return nil, fmt.Errorf("github api url: %w", err)
		}
		client.BaseURL = u
	}
	if cfg.UploadURL != "" {
		u, err := parseEndpoint(cfg.UploadURL)
		if err != nil {
			return nil, fmt.Errorf("github upload url: %w", err)
		}
		client.UploadURL = u
	}
	return &GitHub{cfg: cfg, client: client, logger: logger}, nil
}

func parseEndpoint(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return url.Parse(raw)
}

func (g *GitHub) resolveOwner(ctx context.Context) (string, error) {
	if g.cfg.Org != "" {
		return g.cfg.Org, nil
	}
	g.ownerOnce.Do(func() {
		user, _, err := g.client.Users.Get(ctx, "")
		if err != nil {
			g.ownerErr = fmt.Errorf("resolve authenticated user: %w", err)
			return
		}
		g.owner = user.GetLogin()
	})
	return g.owner, g.ownerErr
}

// EnsureRepository creates the repository, reusing it when GitHub reports
// that it already exists.
func (g *GitHub) EnsureRepository(ctx context.Context, name, description string) (*Repository, error) {
	created, _, err := g.client.Repositories.Create(ctx, g.cfg.Org, &github.Repository{
		Name:        github.String(name),
		Description: github.String(description),
		Private:     github.Bool(g.cfg.Private),
	})
	if err == nil {
		g.logger.Info("created mirror repository", "repo", created.GetFullName())
		return toRepository(created), nil
	}
	if !nameTaken(err) {
		return nil, fmt.Errorf("create repository %s: %w", name, err)
	}

	owner, err := g.resolveOwner(ctx)
	if err != nil {
		return nil, err
	}
	existing, _, err := g.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("get repository %s/%s: %w", owner, name, err)
	}
	g.logger.Info("reusing mirror repository", "repo", existing.GetFullName())
	return toRepository(existing), nil
}

// PublishRelease creates the release for rel.Tag and uploads the asset.
func (g *GitHub) PublishRelease(ctx context.Context, repo *Repository, rel Release) (*Asset, error) {
	release, _, err := g.client.Repositories.CreateRelease(ctx, repo.Owner, repo.Name, &github.RepositoryRelease{
		TagName:    github.String(rel.Tag),
		Name:       github.String(rel.Tag),
		Body:       github.String("Release for tag " + rel.Tag),
		Prerelease: github.Bool(rel.Prerelease),
	})
	if err != nil {
		return nil, fmt.Errorf("create release %s: %w", rel.Tag, err)
	}

	f, err := os.Open(rel.AssetPath)
	if err != nil {
		return nil, fmt.Errorf("open asset for %s: %w", rel.Tag, err)
	}
	defer f.Close()

	asset, _, err := g.client.Repositories.UploadReleaseAsset(ctx, repo.Owner, repo.Name, release.GetID(), &github.UploadOptions{
		Name:      AssetName,
		MediaType: AssetMediaType,
	}, f)
	if err != nil {
		return nil, fmt.Errorf("upload asset for %s: %w", rel.Tag, err)
	}
	return &Asset{ReleaseID: release.GetID(), URL: asset.GetBrowserDownloadURL()}, nil
}

// PushURL returns the repository's HTTPS clone URL.
func (g *GitHub) PushURL(repo *Repository) string {
	return repo.CloneURL
}

// PushAuth authenticates pushes with the API token.
func (g *GitHub) PushAuth() transport.AuthMethod {
	return &githttp.BasicAuth{Username: "x-access-token", Password: g.cfg.Token}
}

func toRepository(r *github.Repository) *Repository {
	return &Repository{
		Owner:    r.GetOwner().GetLogin(),
		Name:     r.GetName(),
		CloneURL: r.GetCloneURL(),
		HTMLURL:  r.GetHTMLURL(),
	}
}

// nameTaken reports whether a create failed only because the repository
// name is already in use.
func nameTaken(err error) bool {
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) || ghErr.Response == nil || ghErr.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	for _, e := range ghErr.Errors {
		if e.Field == "name" && strings.Contains(strings.ToLower(e.Message), "already exists") {
			return true
		}
	}
	return false
}
