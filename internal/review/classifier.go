package review

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/prreview/internal/cache"
	"github.com/dshills/prreview/internal/providers"
	"github.com/dshills/prreview/internal/redact"
	"github.com/dshills/prreview/internal/unidiff"
)

// ClassifierOptions tune the expert calls. Zero values select defaults.
type ClassifierOptions struct {
	Rules         *Rules
	Language      string
	Cache         *cache.Cache
	CallTimeout   time.Duration
	MaxTokens     int
	Temperature   float64
	RedactSecrets bool
	RedactPaths   []string
	Logger        *zap.Logger
}

// Default expert call settings.
const (
	DefaultExpertMaxTokens   = 8192
	DefaultExpertTemperature = 0.2
	DefaultCallTimeout       = 2 * time.Minute
)

// Classifier asks the critical-bug and style-suggestion experts about a diff.
type Classifier struct {
	reviewer providers.Reviewer
	critical Expert
	style    Expert
	opts     ClassifierOptions
	log      *zap.Logger
}

// NewClassifier builds a classifier over reviewer.
func NewClassifier(reviewer providers.Reviewer, opts ClassifierOptions) *Classifier {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultExpertMaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultExpertTemperature
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{
		reviewer: reviewer,
		critical: CriticalBugExpert(opts.Rules, opts.Language),
		style:    StyleSuggestionExpert(opts.Rules, opts.Language),
		opts:     opts,
		log:      log.Named("classifier"),
	}
}

// Classify runs both experts concurrently and waits for both. It never
// fails: an expert that errors, times out, panics or answers with something
// other than a findings array contributes an empty list.
func (c *Classifier) Classify(ctx context.Context, diff string) Classification {
	if c.opts.RedactSecrets || len(c.opts.RedactPaths) > 0 {
		diff = redact.Diff(diff, c.opts.RedactPaths)
	}
	userPrompt := BuildUserPrompt(diff, unidiff.Files(diff))

	var out Classification
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		out.CriticalBugs = c.consult(ctx, c.critical, diff, userPrompt)
	}()
	go func() {
		defer wg.Done()
		out.StyleSuggestions = c.consult(ctx, c.style, diff, userPrompt)
	}()
	wg.Wait()
	return out
}

func (c *Classifier) consult(ctx context.Context, e Expert, diff, userPrompt string) (findings []RawFinding) {
	log := c.log.With(zap.String("expert", e.Name))
	findings = []RawFinding{}
	defer func() {
		if r := recover(); r != nil {
			log.Warn("expert panicked", zap.Any("panic", r))
			findings = []RawFinding{}
		}
	}()

	key := cache.BuildCacheKey(c.reviewer.Name(), c.reviewer.Model(), e.Name, diff)
	content, hit := c.opts.Cache.Get(key)
	if !hit {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()

		start := time.Now()
		resp, err := c.reviewer.Review(callCtx, providers.ReviewRequest{
			SystemPrompt: e.SystemPrompt,
			UserPrompt:   userPrompt,
			MaxTokens:    c.opts.MaxTokens,
			Temperature:  c.opts.Temperature,
		})
		if err != nil {
			log.Warn("expert call failed",
				zap.Error(err),
				zap.Bool("timeout", providers.IsTimeout(err)),
				zap.Duration("elapsed", time.Since(start)))
			return findings
		}
		content = resp.Content
		log.Debug("expert answered",
			zap.Int("tokens", resp.TokensUsed),
			zap.Duration("elapsed", time.Since(start)))
	}

	parsed, dropped, err := ParseRawFindings(content)
	if err != nil {
		log.Warn("expert response unusable", zap.Error(err), zap.String("response", truncate(content, 500)))
		return findings
	}
	if dropped > 0 {
		log.Warn("dropped malformed findings", zap.Int("dropped", dropped))
	}
	if !hit {
		c.opts.Cache.Put(key, content)
	}
	return parsed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:n], len(s))
}
