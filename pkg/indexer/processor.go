// Package indexer drives one submission from clone to commit. Each
// submission gets its own workspace and its own registry transaction; the
// workspace is always removed and the submitter always receives exactly one
// terminal notification.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xelpkg/registry/pkg/artifact"
	"github.com/xelpkg/registry/pkg/manifest"
	"github.com/xelpkg/registry/pkg/mirror"
	"github.com/xelpkg/registry/pkg/notify"
	"github.com/xelpkg/registry/pkg/registry"
	"github.com/xelpkg/registry/pkg/workspace"
)

// Submission is one request to index a repository.
type Submission struct {
	RepositoryURL string
	NotifyAddress string
}

// Committer persists a batch atomically.
type Committer interface {
	Commit(ctx context.Context, b *registry.Batch) (*registry.Package, error)
}

// Mirrorer pushes a workspace to the mirror host.
type Mirrorer interface {
	Mirror(ctx context.Context, ws mirror.Pusher, id, description string) (*mirror.Repository, error)
}

// ArtifactGenerator publishes one tarball per tag.
type ArtifactGenerator interface {
	Generate(ctx context.Context, src artifact.Archiver, repo *mirror.Repository, tags []string) ([]artifact.Tarball, error)
}

// Discoverer validates the manifest history of a checkout.
type Discoverer interface {
	Discover(ctx context.Context, co manifest.Checkout, tags []string) (*manifest.Result, error)
}

// Options configures a Processor.
type Options struct {
	WorkspaceDir string
	Store        Committer
	Mirror       Mirrorer
	Artifacts    ArtifactGenerator
	Discoverer   Discoverer
	Notifier     notify.Notifier
	Logger       *slog.Logger
}

// Outcome is the result of one submission.
type Outcome struct {
	Submission Submission
	State      State
	// FailedIn is the state that failed; empty on success.
	FailedIn State
	Package  *registry.Package
	Versions int
	Err      error
	Timings  map[State]time.Duration
}

// Processor runs submissions. It is safe for concurrent use; all
// per-submission state lives in a run.
type Processor struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Processor.
func New(opts Options) (*Processor, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("indexer: store is required")
	case opts.Mirror == nil:
		return nil, errors.New("indexer: mirror is required")
	case opts.Artifacts == nil:
		return nil, errors.New("indexer: artifact generator is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Discoverer == nil {
		opts.Discoverer = manifest.NewDiscoverer("", opts.Logger)
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLogNotifier(opts.Logger)
	}
	return &Processor{opts: opts, logger: opts.Logger}, nil
}

// Process runs a submission to completion. It never returns a nil Outcome
// and never panics because of a phase.
func (p *Processor) Process(ctx context.Context, sub Submission) *Outcome {
	r := &run{
		p:       p,
		sub:     sub,
		state:   StateCloning,
		timings: make(map[State]time.Duration),
		logger:  p.logger.With("url", sub.RepositoryURL),
	}

	p.notify(ctx, sub.NotifyAddress, "Indexing started",
		fmt.Sprintf("Indexing of %s has started. You will receive another message when it finishes.", sub.RepositoryURL))

	r.drive(ctx)
	r.cleanup()

	out := r.outcome()
	if out.Err != nil {
		r.logger.Error("submission failed", "state", out.FailedIn, "error", out.Err)
		p.notify(ctx, sub.NotifyAddress, "Indexing failed",
			fmt.Sprintf("Indexing of %s failed: %v", sub.RepositoryURL, out.Err))
	} else {
		r.logger.Info("submission indexed", "package", out.Package.Name, "versions", out.Versions)
		p.notify(ctx, sub.NotifyAddress, "Indexing succeeded",
			fmt.Sprintf("Package %s was indexed from %s with %d version(s).", out.Package.Name, sub.RepositoryURL, out.Versions))
	}
	return out
}

func (p *Processor) notify(ctx context.Context, address, subject, body string) {
	if address == "" {
		return
	}
	if err := p.opts.Notifier.Notify(ctx, address, subject, body); err != nil {
		p.logger.Warn("notification failed", "to", address, "subject", subject, "error", err)
	}
}

// run is the state of one submission.
type run struct {
	p      *Processor
	sub    Submission
	logger *slog.Logger

	state    State
	failedIn State
	err      error
	timings  map[State]time.Duration

	ws       *workspace.Workspace
	tags     []string
	result   *manifest.Result
	repo     *mirror.Repository
	tarballs []artifact.Tarball
	pkg      *registry.Package
}

type transition func(ctx context.Context) (State, error)

func (r *run) transitions() map[State]transition {
	return map[State]transition{
		StateCloning:     r.clone,
		StateDiscovering: r.discover,
		StateMirroring:   r.mirror,
		StateGenerating:  r.generate,
		StateCommitting:  r.commit,
	}
}

func (r *run) drive(ctx context.Context) {
	steps := r.transitions()
	for !r.state.Terminal() {
		step, ok := steps[r.state]
		if !ok {
			r.fail(fmt.Errorf("no transition from state %q", r.state))
			return
		}
		r.logger.Debug("entering state", "state", r.state)
		start := time.Now()
		next, err := r.step(ctx, step)
		r.timings[r.state] += time.Since(start)
		if err != nil {
			r.fail(err)
			return
		}
		r.state = next
	}
}

// step runs one transition, turning a panic into an error.
func (r *run) step(ctx context.Context, fn transition) (next State, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while %s: %v", r.state, rec)
		}
	}()
	return fn(ctx)
}

func (r *run) fail(err error) {
	r.failedIn = r.state
	r.err = err
	r.state = StateFailed
}

func (r *run) cleanup() {
	if r.ws == nil {
		return
	}
	if err := r.ws.Remove(); err != nil {
		r.logger.Error("failed to remove workspace", "path", r.ws.Path, "error", err)
	}
}

func (r *run) outcome() *Outcome {
	out := &Outcome{
		Submission: r.sub,
		State:      r.state,
		FailedIn:   r.failedIn,
		Err:        r.err,
		Timings:    r.timings,
	}
	if r.err == nil {
		out.Package = r.pkg
		if r.result != nil {
			out.Versions = len(r.result.Records)
		}
	}
	return out
}

func (r *run) clone(ctx context.Context) (State, error) {
	ws, err := workspace.New(r.p.opts.WorkspaceDir, r.logger)
	if err != nil {
		return "", &CloneError{URL: r.sub.RepositoryURL, Err: err}
	}
	r.ws = ws

	if err := ws.Clone(ctx, r.sub.RepositoryURL); err != nil {
		return "", &CloneError{URL: r.sub.RepositoryURL, Err: err}
	}
	tags, err := ws.Tags()
	if err != nil {
		return "", &CloneError{URL: r.sub.RepositoryURL, Err: err}
	}
	if len(tags) == 0 {
		return "", &EmptyHistoryError{URL: r.sub.RepositoryURL}
	}
	r.logger.Info("found version tags", "count", len(tags), "workspace", ws.ID)
	r.tags = tags
	return StateDiscovering, nil
}

func (r *run) discover(ctx context.Context) (State, error) {
	res, err := r.p.opts.Discoverer.Discover(ctx, r.ws, r.tags)
	if err != nil {
		return "", &ManifestValidationError{Err: err}
	}
	r.result = res
	r.logger = r.logger.With("package", res.Name)
	return StateMirroring, nil
}

func (r *run) mirror(ctx context.Context) (State, error) {
	repo, err := r.p.opts.Mirror.Mirror(ctx, r.ws, r.ws.ID, "Mirrored repository for "+r.sub.RepositoryURL)
	if err != nil {
		return "", &MirrorError{Err: err}
	}
	r.repo = repo
	return StateGenerating, nil
}

func (r *run) generate(ctx context.Context) (State, error) {
	tarballs, err := r.p.opts.Artifacts.Generate(ctx, r.ws, r.repo, r.result.SourceTags())
	if err != nil {
		ae := &ArtifactError{Err: err}
		var te *artifact.TagError
		if errors.As(err, &te) {
			ae.Tag = te.Tag
			ae.Err = te.Err
		}
		return "", ae
	}
	r.tarballs = tarballs
	return StateCommitting, nil
}

func (r *run) commit(ctx context.Context) (State, error) {
	batch, err := buildBatch(r.sub, r.repo, r.result, r.tarballs)
	if err != nil {
		return "", &CommitError{Err: err}
	}
	pkg, err := r.p.opts.Store.Commit(ctx, batch)
	if err != nil {
		if errors.Is(err, registry.ErrNameConflict) {
			return "", &PersistenceConflictError{Name: r.result.Name, Err: err}
		}
		return "", &CommitError{Err: err}
	}
	r.pkg = pkg
	return StateDone, nil
}
