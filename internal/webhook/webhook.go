package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/dshills/prreview/internal/activity"
	"github.com/dshills/prreview/internal/pipeline"
)

// Header names GitHub sets on deliveries.
const (
	HeaderSignature = "X-Hub-Signature-256"
	HeaderEvent     = "X-GitHub-Event"
	HeaderDelivery  = "X-GitHub-Delivery"
)

const (
	signaturePrefix    = "sha256="
	defaultMaxBody     = 25 << 20
	defaultDeliveryTTL = 10 * time.Minute
)

// DefaultTriggerActions start an analysis.
var DefaultTriggerActions = []string{"opened", "synchronize"}

// Submitter starts analyses in the background.
type Submitter interface {
	Submit(req pipeline.Request) error
}

// Recorder stores and pushes activity events.
type Recorder interface {
	Record(e activity.Event) activity.Event
}

// Refresher forces a pull request listing refresh.
type Refresher interface {
	RefreshAsync()
}

// Options configure a Handler.
type Options struct {
	// Secret enables signature verification when not empty.
	Secret         string
	TriggerActions []string
	// AutoAnalysis gates triggering; nil means always on.
	AutoAnalysis func() bool
	// DeliveryTTL bounds redelivery detection by X-GitHub-Delivery.
	DeliveryTTL  time.Duration
	MaxBodyBytes int64
	Logger       *zap.Logger
}

// Handler is the GitHub webhook endpoint.
type Handler struct {
	submit     Submitter
	record     Recorder
	refresh    Refresher
	opts       Options
	triggers   map[string]bool
	deliveries *gocache.Cache
	log        *zap.Logger
}

// NewHandler creates the endpoint. refresh may be nil.
func NewHandler(submit Submitter, record Recorder, refresh Refresher, opts Options) *Handler {
	if len(opts.TriggerActions) == 0 {
		opts.TriggerActions = DefaultTriggerActions
	}
	if opts.DeliveryTTL <= 0 {
		opts.DeliveryTTL = defaultDeliveryTTL
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Secret == "" {
		log.Warn("webhook secret not set, signature verification disabled")
	}
	triggers := make(map[string]bool, len(opts.TriggerActions))
	for _, a := range opts.TriggerActions {
		triggers[strings.ToLower(strings.TrimSpace(a))] = true
	}
	return &Handler{
		submit:     submit,
		record:     record,
		refresh:    refresh,
		opts:       opts,
		triggers:   triggers,
		deliveries: gocache.New(opts.DeliveryTTL, opts.DeliveryTTL),
		log:        log,
	}
}

// VerifySignature reports whether signature is "sha256=" followed by the
// hex HMAC-SHA256 of payload under secret. The comparison is constant time.
func VerifySignature(payload []byte, signature, secret string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(Sign(payload, secret)))
}

// Sign returns the signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.opts.MaxBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Could not read payload"})
		return
	}
	if int64(len(body)) > h.opts.MaxBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "Payload too large"})
		return
	}

	eventType := strings.ToLower(r.Header.Get(HeaderEvent))
	log := h.log.With(zap.String("event", eventType), zap.String("delivery", r.Header.Get(HeaderDelivery)))

	if h.opts.Secret != "" && !VerifySignature(body, r.Header.Get(HeaderSignature), h.opts.Secret) {
		log.Warn("webhook signature verification failed", zap.Int("bytes", len(body)))
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid signature"})
		return
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		log.Warn("invalid webhook payload", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON payload"})
		return
	}

	if id := r.Header.Get(HeaderDelivery); id != "" {
		if err := h.deliveries.Add(id, struct{}{}, gocache.DefaultExpiration); err != nil {
			log.Info("duplicate webhook delivery ignored")
			writeJSON(w, http.StatusOK, map[string]any{"message": "Duplicate delivery ignored", "delivery": id})
			return
		}
	}

	log.Info("webhook received",
		zap.String("action", p.Action),
		zap.String("repository", p.RepositoryName()),
		zap.Int("pr", p.PRNumber()),
		zap.String("sender", p.SenderLogin()))

	h.record.Record(activity.Event{
		Type:       activity.TypeWebhookReceived,
		Repository: p.RepositoryName(),
		PRNumber:   p.PRNumber(),
		Message:    fmt.Sprintf("Webhook: %s / action: %s", r.Header.Get(HeaderEvent), p.Action),
		Data: map[string]any{
			"event":  r.Header.Get(HeaderEvent),
			"action": p.Action,
			"pr":     p.PRNumber(),
			"sender": p.SenderLogin(),
		},
	})

	if eventType == "pull_request" && h.refresh != nil {
		h.refresh.RefreshAsync()
	}

	if !h.triggers[p.Action] || p.PullRequest == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Event received, no action taken",
			"action":  p.Action,
			"event":   r.Header.Get(HeaderEvent),
		})
		return
	}

	ref, ok := p.PRRef()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Pull request payload lacks repository or number"})
		return
	}

	if h.opts.AutoAnalysis != nil && !h.opts.AutoAnalysis() {
		log.Info("auto analysis disabled, not starting review", zap.String("pr", ref.String()))
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Event received, auto analysis disabled",
			"action":  p.Action,
			"event":   r.Header.Get(HeaderEvent),
		})
		return
	}

	err = h.submit.Submit(pipeline.Request{PR: ref, DiffURL: p.PullRequest.DiffURL})
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		log.Info("review already in progress", zap.String("pr", ref.String()))
		writeJSON(w, http.StatusAccepted, map[string]any{
			"message":   "PR review already in progress",
			"pr":        ref.Number,
			"repo":      ref.Slug(),
			"action":    p.Action,
			"duplicate": true,
		})
		return
	case err != nil:
		log.Error("could not start review", zap.String("pr", ref.String()), zap.Error(err))
		h.record.Record(activity.Event{
			Type:       activity.TypePRReviewError,
			Repository: ref.Slug(),
			PRNumber:   ref.Number,
			Message:    fmt.Sprintf("PR #%d analiz hatası: %s", ref.Number, err),
			Data:       map[string]any{"pr": ref.Number},
		})
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}

	log.Info("review started", zap.String("pr", ref.String()))
	h.record.Record(activity.Event{
		Type:       activity.TypePRReviewStarted,
		Repository: ref.Slug(),
		PRNumber:   ref.Number,
		Message:    fmt.Sprintf("PR #%d için analiz başlatıldı", ref.Number),
		Data:       map[string]any{"pr": ref.Number},
	})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "PR review started",
		"pr":      ref.Number,
		"repo":    ref.Slug(),
		"action":  p.Action,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
