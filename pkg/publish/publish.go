// Package publish uploads the artifacts of a finished batch to object
// storage: the summary report, the archives of compressed passing runs, and
// the logs of failing runs.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/verifarm/pkg/engine"
	"github.com/3leaps/verifarm/pkg/provider"
)

const (
	// DefaultConcurrency bounds parallel uploads.
	DefaultConcurrency = 4

	// DefaultMaxAttempts bounds uploads that fail with a retryable error.
	DefaultMaxAttempts = 3

	DefaultRetryBackoff = 250 * time.Millisecond
)

// Artifact is one local file to upload.
type Artifact struct {
	// Source is the absolute local path.
	Source string

	// Key is the destination object key.
	Key string

	ContentType string
}

// Published describes an uploaded (or skipped) artifact.
type Published struct {
	Artifact
	Size    int64
	Skipped bool
}

// Options configures a Publisher.
type Options struct {
	// Prefix is prepended to every key.
	Prefix string

	// SkipExisting leaves objects that already exist untouched.
	SkipExisting bool

	// Concurrency bounds parallel uploads. Zero uses DefaultConcurrency.
	Concurrency int

	// MaxAttempts bounds each upload when the provider reports throttling or
	// unavailability. Zero uses DefaultMaxAttempts.
	MaxAttempts int

	// RetryBackoff is the first wait between attempts; it doubles after each
	// retry. Zero uses DefaultRetryBackoff.
	RetryBackoff time.Duration

	// OnPublished, if set, is called for every artifact handled.
	OnPublished func(Published)

	Logger *zap.Logger
}

// Publisher uploads run artifacts through a provider.
type Publisher struct {
	prov provider.Provider
	opts Options
}

// New creates a Publisher.
func New(prov provider.Provider, opts Options) *Publisher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	return &Publisher{prov: prov, opts: opts}
}

// Artifacts lists what a result left behind that is worth publishing.
// Keys are relative to the output directory, so they start with the
// project name.
func (p *Publisher) Artifacts(res *engine.Result) []Artifact {
	root := filepath.Dir(res.ProjectDir)

	var out []Artifact
	add := func(src, contentType string) {
		out = append(out, Artifact{Source: src, Key: p.key(root, src), ContentType: contentType})
	}

	if res.ReportPath != "" {
		add(res.ReportPath, "text/csv")
	}
	for _, o := range res.Outcomes {
		switch {
		case !o.Passed():
			add(filepath.Join(o.RunPath, engine.StdoutLogName), "text/plain")
			add(filepath.Join(o.RunPath, engine.StderrLogName), "text/plain")
		case engine.ArtifactPath(o) != o.RunPath && engine.ArtifactPath(o) != "":
			add(engine.ArtifactPath(o), "application/gzip")
		}
	}
	return out
}

// Publish uploads every artifact of res. Missing local files are skipped
// with a warning; any upload failure is returned after the remaining
// uploads finish.
func (p *Publisher) Publish(ctx context.Context, runID string, res *engine.Result) ([]Published, error) {
	artifacts := p.Artifacts(res)
	results := make([]Published, len(artifacts))
	handled := make([]bool, len(artifacts))

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)

	errs := make([]error, len(artifacts))
	for i, a := range artifacts {
		g.Go(func() error {
			pub, ok, err := p.publishOne(ctx, runID, a)
			if err != nil {
				errs[i] = err
				return nil
			}
			if ok {
				results[i] = pub
				handled[i] = true
				if p.opts.OnPublished != nil {
					p.opts.OnPublished(pub)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	published := make([]Published, 0, len(artifacts))
	for i := range results {
		if handled[i] {
			published = append(published, results[i])
		}
	}
	return published, errors.Join(errs...)
}

func (p *Publisher) publishOne(ctx context.Context, runID string, a Artifact) (Published, bool, error) {
	f, err := os.Open(a.Source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.opts.Logger.Warn("Artifact missing, skipping", zap.String("path", a.Source))
			return Published{}, false, nil
		}
		return Published{}, false, fmt.Errorf("open %s: %w", a.Source, err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return Published{}, false, fmt.Errorf("stat %s: %w", a.Source, err)
	}
	pub := Published{Artifact: a, Size: st.Size()}

	if p.opts.SkipExisting {
		_, err := p.prov.Head(ctx, a.Key)
		switch {
		case err == nil:
			pub.Skipped = true
			p.opts.Logger.Debug("Artifact already published", zap.String("key", a.Key))
			return pub, true, nil
		case !provider.IsNotFound(err):
			return Published{}, false, fmt.Errorf("head %s: %w", a.Key, err)
		}
	}

	if err := p.put(ctx, runID, a, f, st.Size()); err != nil {
		return Published{}, false, fmt.Errorf("upload %s: %w", a.Source, err)
	}
	p.opts.Logger.Debug("Artifact published", zap.String("key", a.Key), zap.Int64("size", st.Size()))
	return pub, true, nil
}

// put uploads f, rewinding and retrying while the provider reports a
// retryable failure.
func (p *Publisher) put(ctx context.Context, runID string, a Artifact, f *os.File, size int64) error {
	opts := provider.PutOptions{
		ContentType: a.ContentType,
		Metadata:    map[string]string{"run-id": runID},
	}
	backoff := p.opts.RetryBackoff
	for attempt := 1; ; attempt++ {
		err := p.prov.PutObject(ctx, a.Key, f, size, opts)
		if err == nil || attempt >= p.opts.MaxAttempts || !provider.Retryable(err) {
			return err
		}
		p.opts.Logger.Warn("Upload failed, retrying",
			zap.String("key", a.Key),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return errors.Join(err, fmt.Errorf("rewind %s: %w", a.Source, serr))
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
	}
}

func (p *Publisher) key(root, src string) string {
	rel, err := filepath.Rel(root, src)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Base(src)
	}
	rel = filepath.ToSlash(rel)
	if p.opts.Prefix == "" {
		return rel
	}
	return path.Join(p.opts.Prefix, rel)
}
