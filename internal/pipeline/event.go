package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dshills/prreview/internal/activity"
	"github.com/dshills/prreview/internal/review"
)

// Status is the discriminant observers switch on.
type Status string

const (
	StatusStarted    Status = "ANALYSIS_STARTED"
	StatusRunning    Status = "ANALYSIS_RUNNING"
	StatusProcessing Status = "ANALYSIS_PROCESSING"
	StatusComplete   Status = "ANALYSIS_COMPLETE"
	StatusFailed     Status = "ANALYSIS_FAILED"
)

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Progress messages shown while a run advances.
const (
	MessageStarted    = "GitHub'dan PR verileri alınıyor..."
	MessageRunning    = "LLM analizi başlatıldı (Kritik Hatalar ve Stil Önerileri)..."
	MessageProcessing = "Sonuçlar birleştiriliyor..."
)

// PRRef identifies a pull request.
type PRRef struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

// Valid reports whether all parts are set.
func (r PRRef) Valid() bool {
	return r.Owner != "" && r.Repo != "" && r.Number > 0
}

// Slug returns "owner/repo".
func (r PRRef) Slug() string {
	return r.Owner + "/" + r.Repo
}

func (r PRRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

// ParsePRRef parses "owner/repo#number".
func ParsePRRef(s string) (PRRef, error) {
	slug, num, ok := strings.Cut(strings.TrimSpace(s), "#")
	if !ok {
		return PRRef{}, fmt.Errorf("invalid pull request %q: want owner/repo#number", s)
	}
	owner, repo, ok := strings.Cut(slug, "/")
	n, err := strconv.Atoi(num)
	if !ok || err != nil {
		return PRRef{}, fmt.Errorf("invalid pull request %q: want owner/repo#number", s)
	}
	ref := PRRef{Owner: owner, Repo: repo, Number: n}
	if !ref.Valid() || strings.Contains(repo, "/") {
		return PRRef{}, fmt.Errorf("invalid pull request %q: want owner/repo#number", s)
	}
	return ref, nil
}

// Event is one status message of a run.
type Event struct {
	Status   Status
	RunID    string
	PR       PRRef
	Message  string
	Report   string
	Findings []review.Finding
	Error    string
}

type wireEvent struct {
	Status     Status            `json:"status"`
	RunID      string            `json:"runId,omitempty"`
	Repository string            `json:"repository,omitempty"`
	PR         int               `json:"pr,omitempty"`
	Message    string            `json:"message,omitempty"`
	Report     string            `json:"report,omitempty"`
	Findings   *[]review.Finding `json:"findings,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// MarshalJSON renders the dashboard wire form. COMPLETE always carries a
// findings array and FAILED always carries an error message.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Status:  e.Status,
		RunID:   e.RunID,
		Message: e.Message,
		Report:  e.Report,
		Error:   e.Error,
	}
	if e.PR.Valid() {
		w.Repository = e.PR.Slug()
		w.PR = e.PR.Number
	}
	switch e.Status {
	case StatusComplete:
		findings := e.Findings
		if findings == nil {
			findings = []review.Finding{}
		}
		w.Findings = &findings
	case StatusFailed:
		if strings.TrimSpace(w.Error) == "" {
			w.Error = FallbackError
		}
	}
	return json.Marshal(w)
}

// Activity maps start and terminal statuses onto activity log entries.
func (e Event) Activity() (activity.Event, bool) {
	a := activity.Event{Data: map[string]any{"runId": e.RunID}}
	if e.PR.Valid() {
		a.Repository = e.PR.Slug()
		a.PRNumber = e.PR.Number
		a.Data["pr"] = e.PR.Number
	}
	switch e.Status {
	case StatusStarted:
		a.Type = activity.TypeAnalysisStarted
		a.Message = "Analiz başlatıldı"
		if e.PR.Valid() {
			a.Message = fmt.Sprintf("PR #%d için analiz başlatıldı", e.PR.Number)
		}
	case StatusComplete:
		a.Type = activity.TypeAnalysisCompleted
		a.Message = fmt.Sprintf("Analiz tamamlandı: %d bulgu", len(e.Findings))
		a.Data["findings"] = len(e.Findings)
	case StatusFailed:
		a.Type = activity.TypeError
		a.Message = "Analiz hatası: " + e.Error
	default:
		return activity.Event{}, false
	}
	return a, true
}
