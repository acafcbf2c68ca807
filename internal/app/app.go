// Package app assembles prreview's components from a Config and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/dshills/prreview/internal/activity"
	"github.com/dshills/prreview/internal/broadcast"
	"github.com/dshills/prreview/internal/cache"
	"github.com/dshills/prreview/internal/config"
	"github.com/dshills/prreview/internal/github"
	"github.com/dshills/prreview/internal/notify"
	"github.com/dshills/prreview/internal/pipeline"
	"github.com/dshills/prreview/internal/providers"
	"github.com/dshills/prreview/internal/pulls"
	"github.com/dshills/prreview/internal/review"
	"github.com/dshills/prreview/internal/server"
	"github.com/dshills/prreview/internal/settings"
	"github.com/dshills/prreview/internal/webhook"
)

// App holds the wired components of one prreview process.
type App struct {
	Config      config.Config
	Log         *zap.Logger
	Broadcaster *broadcast.Broadcaster
	Activity    *activity.Log
	GitHub      *github.Client
	Reviewer    providers.Reviewer
	Cache       *cache.Cache
	Pipeline    *pipeline.Pipeline
	Settings    *settings.Store
	Pulls       *pulls.Store
	Webhook     *webhook.Handler
	Server      *server.Server

	scheduler *pulls.Scheduler
}

// NewReviewer creates the configured LLM provider.
func NewReviewer(cfg config.LLMConfig) (providers.Reviewer, error) {
	model := cfg.Model
	if model == "" {
		model = providers.DefaultModel(cfg.Provider)
	}
	return providers.New(cfg.Provider, model, providers.Options{
		APIKey:     cfg.ProviderAPIKey(),
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.CallTimeout,
		MaxRetries: cfg.MaxRetries,
	})
}

// NewGitHub creates a GitHub client from cfg.
func NewGitHub(cfg config.GitHubConfig) *github.Client {
	return github.NewClient(github.Options{Token: cfg.Token, APIURL: cfg.APIURL})
}

// New wires every component. Nothing runs until Run is called, but the
// broadcaster subscribers are attached so direct pipeline runs are observed.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	reviewer, err := NewReviewer(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("creating provider: %w", err)
	}
	rules, err := review.LoadRules(cfg.Analysis.RulesFile)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Log:      log,
		Reviewer: reviewer,
		GitHub:   NewGitHub(cfg.GitHub),
		Cache:    cache.New(cfg.LLM.Cache.Enabled, cfg.LLM.Cache.TTL),
	}

	a.Broadcaster = broadcast.New(broadcast.Options{
		Backlog:   cfg.Events.Backlog,
		QueueSize: cfg.Events.QueueSize,
		Logger:    log.Named("broadcast"),
	})
	a.Activity = activity.NewLog(cfg.Events.Retained, a.Broadcaster)
	a.Activity.Watch(a.Broadcaster)

	classifier := review.NewClassifier(reviewer, review.ClassifierOptions{
		Rules:         rules,
		Language:      cfg.LLM.Language,
		Cache:         a.Cache,
		CallTimeout:   cfg.LLM.CallTimeout,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		RedactSecrets: cfg.Privacy.RedactSecrets,
		RedactPaths:   cfg.Privacy.RedactPaths,
		Logger:        log,
	})

	popts := pipeline.Options{
		DiffTimeout:    cfg.Analysis.DiffTimeout,
		RunTimeout:     cfg.Analysis.RunTimeout,
		ResultTTL:      cfg.Analysis.ResultTTL,
		DedupeInFlight: cfg.Analysis.DedupeInFlight,
		Logger:         log.Named("pipeline"),
	}
	if cfg.GitHub.PostComments {
		popts.Commenter = a.GitHub
	}
	a.Pipeline = pipeline.New(a.GitHub, classifier, a.Broadcaster, popts)

	a.Settings = settings.NewStore(settings.Settings{
		SelectedRepositories: cfg.GitHub.Repositories,
		DefaultRepository:    cfg.GitHub.DefaultRepository,
		AutoAnalysis:         cfg.GitHub.AutoAnalysis,
		Notifications:        settings.Notifications{Slack: cfg.Slack.Enabled},
	})

	a.Pulls = pulls.NewStore(a.GitHub, pulls.Options{
		Repositories: func() []string {
			return a.Settings.Repositories()
		},
		AnalysisStatus: a.analysisStatus,
		TTL:            cfg.Sync.PRCacheTTL,
		Logger:         log.Named("pulls"),
	})
	a.scheduler, err = pulls.NewScheduler(cfg.Sync.Schedule, a.Pulls, log.Named("sync"))
	if err != nil {
		a.Broadcaster.Close()
		return nil, err
	}

	if cfg.Slack.BotToken != "" {
		n := notify.NewSlack(slack.New(cfg.Slack.BotToken), notify.SlackOptions{
			ChannelID: cfg.Slack.ChannelID,
			Enabled:   func() bool { return a.Settings.Get().Notifications.Slack },
			Logger:    log.Named("slack"),
		})
		n.Attach(a.Broadcaster)
	}

	a.Webhook = webhook.NewHandler(a.Pipeline, a.Activity, a.Pulls, webhook.Options{
		Secret:         cfg.Webhook.Secret,
		TriggerActions: cfg.Webhook.TriggerActions,
		AutoAnalysis:   a.Settings.AutoAnalysis,
		DeliveryTTL:    cfg.Webhook.DeliveryTTL,
		Logger:         log.Named("webhook"),
	})

	a.Server = server.New(server.Deps{
		Pipeline: a.Pipeline,
		Pulls:    a.Pulls,
		Events:   a.Activity,
		Settings: a.Settings,
		GitHub:   a.GitHub,
		Webhook:  a.Webhook,
		Push: a.Broadcaster.ServeWS(broadcast.WSOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Replay:         cfg.Events.Backlog,
			Logger:         log.Named("ws"),
		}),
		BroadcastStats: a.Broadcaster.Stats,
	}, server.Options{
		Addr:            cfg.Server.Addr,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          log.Named("http"),
	})

	return a, nil
}

func (a *App) analysisStatus(repository string, number int) string {
	ref, err := pipeline.ParsePRRef(fmt.Sprintf("%s#%d", repository, number))
	if err != nil {
		return ""
	}
	return a.Pipeline.AnalysisStatus(ref)
}

// Run starts the sync schedule and serves HTTP until ctx is cancelled, then
// shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start()
	a.Pulls.RefreshAsync()

	a.Log.Info("prreview starting",
		zap.String("addr", a.Config.Server.Addr),
		zap.String("provider", a.Reviewer.Name()),
		zap.String("model", a.Reviewer.Model()),
		zap.Bool("signatureCheck", a.Config.Webhook.Secret != ""))

	serveErr := a.Server.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	return errors.Join(serveErr, a.Close(shutdownCtx))
}

// Close stops the schedule, waits for running analyses, then closes the
// broadcaster once subscribers have drained. Runs still going when ctx
// expires are cancelled.
func (a *App) Close(ctx context.Context) error {
	a.scheduler.Stop()
	err := a.Pipeline.Shutdown(ctx)
	a.Broadcaster.Close()
	if err != nil {
		return fmt.Errorf("waiting for analyses: %w", err)
	}
	return nil
}

func (a *App) shutdownTimeout() time.Duration {
	if a.Config.Server.ShutdownTimeout > 0 {
		return a.Config.Server.ShutdownTimeout
	}
	return 15 * time.Second
}
