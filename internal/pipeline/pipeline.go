package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/dshills/prreview/internal/broadcast"
	"github.com/dshills/prreview/internal/output"
	"github.com/dshills/prreview/internal/review"
)

// FallbackError is reported when a failure carries no usable message.
const FallbackError = "Bilinmeyen bir pipeline hatası oluştu."

var (
	ErrMissingDiffURL = errors.New("PR verisi diff_url içermiyor")
	ErrEmptyDiff      = errors.New("empty diff: GitHub'dan diff içeriği alınamadı veya içerik boş")
	ErrTimedOut       = errors.New("analysis timed out")
	ErrRunInProgress  = errors.New("analysis already in progress")
	ErrShuttingDown   = errors.New("pipeline is shutting down")

	errUnknown = errors.New(FallbackError)
)

// Default limits.
const (
	DefaultDiffTimeout    = 30 * time.Second
	DefaultRunTimeout     = 10 * time.Minute
	DefaultResultTTL      = 24 * time.Hour
	DefaultCommentTimeout = 30 * time.Second
)

// DiffSource fetches unified diffs.
type DiffSource interface {
	GetDiff(ctx context.Context, diffURL string) (string, error)
	PRDiffURL(owner, repo string, number int) string
}

// Classifier runs the two experts over a diff.
type Classifier interface {
	Classify(ctx context.Context, diff string) review.Classification
}

// Publisher delivers status events to observers.
type Publisher interface {
	Broadcast(channel string, payload any) broadcast.Message
}

// CommentPoster posts a report on the pull request.
type CommentPoster interface {
	PostComment(ctx context.Context, owner, repo string, number int, body string) error
}

// Request starts one run. A run without a PR identity is keyed by its
// diff URL.
type Request struct {
	PR      PRRef  `json:"pr"`
	DiffURL string `json:"diffUrl"`
}

func (r Request) key() string {
	if r.PR.Valid() {
		return r.PR.String()
	}
	return r.DiffURL
}

// Result is the outcome of one run.
type Result struct {
	RunID      string           `json:"runId"`
	PR         PRRef            `json:"pr"`
	DiffURL    string           `json:"diffUrl,omitempty"`
	Status     Status           `json:"status"`
	Report     string           `json:"report,omitempty"`
	Findings   []review.Finding `json:"findings"`
	Summary    review.Summary   `json:"summary"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	DurationMs int64            `json:"durationMs"`
}

// Options tune a Pipeline. Zero durations select defaults.
type Options struct {
	DiffTimeout    time.Duration
	RunTimeout     time.Duration
	ResultTTL      time.Duration
	DedupeInFlight bool
	Commenter      CommentPoster
	CommentTimeout time.Duration
	Logger         *zap.Logger
}

// Stats summarizes finished runs.
type Stats struct {
	Runs          int     `json:"runs"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	InFlight      int     `json:"inFlight"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}

// Pipeline turns pull request diffs into published analysis reports.
type Pipeline struct {
	source     DiffSource
	classifier Classifier
	pub        Publisher
	opts       Options
	log        *zap.Logger
	results    *gocache.Cache

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]int
	closing  bool
	stats    Stats
	totalMs  int64
}

// New creates a pipeline.
func New(source DiffSource, classifier Classifier, pub Publisher, opts Options) *Pipeline {
	if opts.DiffTimeout <= 0 {
		opts.DiffTimeout = DefaultDiffTimeout
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultResultTTL
	}
	if opts.CommentTimeout <= 0 {
		opts.CommentTimeout = DefaultCommentTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		source:     source,
		classifier: classifier,
		pub:        pub,
		opts:       opts,
		log:        log,
		results:    gocache.New(opts.ResultTTL, opts.ResultTTL),
		base:       base,
		cancel:     cancel,
		inflight:   make(map[string]int),
	}
}

// RequestFor builds the request for a manually triggered PR analysis.
func (p *Pipeline) RequestFor(owner, repo string, number int) Request {
	return Request{
		PR:      PRRef{Owner: owner, Repo: repo, Number: number},
		DiffURL: p.source.PRDiffURL(owner, repo, number),
	}
}

// Analyze runs the pipeline for a PR and waits for the result.
func (p *Pipeline) Analyze(ctx context.Context, owner, repo string, number int) Result {
	return p.Run(ctx, p.RequestFor(owner, repo, number))
}

// Submit starts req on its own goroutine and returns immediately.
func (p *Pipeline) Submit(req Request) error {
	key := req.key()

	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return ErrShuttingDown
	}
	if p.opts.DedupeInFlight && key != "" && p.inflight[key] > 0 {
		p.mu.Unlock()
		return ErrRunInProgress
	}
	if key != "" {
		p.inflight[key]++
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer func() {
			if key == "" {
				return
			}
			p.mu.Lock()
			if p.inflight[key]--; p.inflight[key] <= 0 {
				delete(p.inflight, key)
			}
			p.mu.Unlock()
		}()
		p.Run(p.base, req)
	}()
	return nil
}

// Run executes one analysis. It publishes STARTED first and exactly one of
// COMPLETE or FAILED last, whatever happens in between.
func (p *Pipeline) Run(ctx context.Context, req Request) Result {
	res := Result{
		RunID:     uuid.New().String(),
		PR:        req.PR,
		DiffURL:   req.DiffURL,
		StartedAt: time.Now().UTC(),
	}
	log := p.log.With(zap.String("runId", res.RunID), zap.String("pr", req.key()))
	log.Info("analysis started")

	p.publish(Event{Status: StatusStarted, RunID: res.RunID, PR: req.PR, Message: MessageStarted})

	findings, report, err := p.analyze(ctx, req, res.RunID)

	res.FinishedAt = time.Now().UTC()
	res.DurationMs = res.FinishedAt.Sub(res.StartedAt).Milliseconds()

	if err != nil {
		res.Status = StatusFailed
		res.Error = failureMessage(err)
		res.Findings = []review.Finding{}
		log.Error("analysis failed", zap.String("status", string(res.Status)), zap.Error(err))
		p.publish(Event{Status: StatusFailed, RunID: res.RunID, PR: req.PR, Error: res.Error})
	} else {
		res.Status = StatusComplete
		res.Findings = findings
		res.Report = report
		res.Summary = review.ComputeSummary(findings)
		log.Info("analysis complete",
			zap.String("status", string(res.Status)),
			zap.Int("findings", len(findings)),
			zap.Int64("durationMs", res.DurationMs))
		p.publish(Event{Status: StatusComplete, RunID: res.RunID, PR: req.PR, Report: report, Findings: findings})
	}

	p.record(req, res)

	if res.Status == StatusComplete {
		p.postComment(ctx, req.PR, report, log)
	}
	return res
}

// analyze converts every error and panic into its error return.
func (p *Pipeline) analyze(ctx context.Context, req Request, runID string) (findings []review.Finding, report string, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("analysis panicked", zap.String("runId", runID), zap.Any("panic", r))
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = errUnknown
			}
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, p.opts.RunTimeout)
	defer cancel()

	if strings.TrimSpace(req.DiffURL) == "" {
		return nil, "", ErrMissingDiffURL
	}

	diffCtx, cancelDiff := context.WithTimeout(runCtx, p.opts.DiffTimeout)
	diff, err := p.source.GetDiff(diffCtx, req.DiffURL)
	cancelDiff()
	if err != nil {
		if runCtx.Err() != nil {
			return nil, "", timeoutOr(runCtx.Err())
		}
		return nil, "", fmt.Errorf("fetching diff: %w", err)
	}
	if strings.TrimSpace(diff) == "" {
		return nil, "", ErrEmptyDiff
	}

	p.publish(Event{Status: StatusRunning, RunID: runID, PR: req.PR, Message: MessageRunning})

	cls := p.classifier.Classify(runCtx, diff)
	if runCtx.Err() != nil {
		return nil, "", timeoutOr(runCtx.Err())
	}

	p.publish(Event{Status: StatusProcessing, RunID: runID, PR: req.PR, Message: MessageProcessing})

	findings = review.Merge(cls.CriticalBugs, cls.StyleSuggestions)
	report = output.FormatFindings(findings)
	return findings, report, nil
}

func (p *Pipeline) publish(e Event) {
	if p.pub == nil {
		return
	}
	p.pub.Broadcast(broadcast.ChannelAnalysis, e)
}

func (p *Pipeline) record(req Request, res Result) {
	if key := req.key(); key != "" {
		p.results.SetDefault(key, res)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Runs++
	if res.Status == StatusComplete {
		p.stats.Completed++
	} else {
		p.stats.Failed++
	}
	p.totalMs += res.DurationMs
}

func (p *Pipeline) postComment(ctx context.Context, ref PRRef, report string, log *zap.Logger) {
	if p.opts.Commenter == nil || !ref.Valid() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.CommentTimeout)
	defer cancel()
	if err := p.opts.Commenter.PostComment(ctx, ref.Owner, ref.Repo, ref.Number, report); err != nil {
		log.Warn("posting report comment failed", zap.Error(err))
		return
	}
	log.Info("report posted as PR comment")
}

// Result returns the last stored result for a PR.
func (p *Pipeline) Result(ref PRRef) (Result, bool) {
	v, ok := p.results.Get(ref.String())
	if !ok {
		return Result{}, false
	}
	return v.(Result), true
}

// AnalysisStatus reports "in_progress", "completed", "failed" or "" for
// a PR.
func (p *Pipeline) AnalysisStatus(ref PRRef) string {
	p.mu.Lock()
	running := p.inflight[ref.String()] > 0
	p.mu.Unlock()
	if running {
		return "in_progress"
	}
	res, ok := p.Result(ref)
	if !ok {
		return ""
	}
	if res.Status == StatusComplete {
		return "completed"
	}
	return "failed"
}

// Stats returns run counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.InFlight = len(p.inflight)
	if s.Runs > 0 {
		s.AvgDurationMs = float64(p.totalMs) / float64(s.Runs)
	}
	return s
}

// Shutdown stops accepting submissions and waits for running analyses.
// When ctx expires first, running analyses are cancelled and still report
// their terminal event before Shutdown returns ctx's error.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func timeoutOr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimedOut
	}
	return err
}

func failureMessage(err error) string {
	if err == nil {
		return FallbackError
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return FallbackError
	}
	return msg
}
