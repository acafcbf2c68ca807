package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/prreview/internal/broadcast"
	"github.com/dshills/prreview/internal/pipeline"
	"github.com/dshills/prreview/internal/review"
)

type fakePoster struct {
	mu       sync.Mutex
	channels []string
	err      error
}

func (f *fakePoster) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channelID)
	return channelID, "1", f.err
}

func (f *fakePoster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

var ref = pipeline.PRRef{Owner: "acme", Repo: "api", Number: 7}

func TestFormatMessage(t *testing.T) {
	got := FormatMessage(pipeline.Event{Status: pipeline.StatusFailed, PR: ref, Error: "fetching diff: 404"})
	assert.Equal(t, ":x: Analiz başarısız (acme/api#7): fetching diff: 404", got)

	got = FormatMessage(pipeline.Event{Status: pipeline.StatusComplete})
	assert.Equal(t, ":white_check_mark: Analiz tamamlandı (diff): sorun bulunamadı", got)

	got = FormatMessage(pipeline.Event{Status: pipeline.StatusComplete, PR: ref, Findings: []review.Finding{
		{Category: review.CategoryCriticalBug},
		{Category: review.CategoryStyleSuggestion},
		{Category: review.CategoryStyleSuggestion},
	}})
	assert.Equal(t, ":mag: Analiz tamamlandı (acme/api#7): 3 bulgu, 1 kritik hata, 2 öneri", got)
}

func TestHandle_OnlyTerminalEvents(t *testing.T) {
	p := &fakePoster{}
	s := NewSlack(p, SlackOptions{ChannelID: "C1"})

	for _, st := range []pipeline.Status{pipeline.StatusStarted, pipeline.StatusRunning, pipeline.StatusProcessing} {
		require.NoError(t, s.Handle(broadcast.Message{Payload: pipeline.Event{Status: st}}))
	}
	require.NoError(t, s.Handle(broadcast.Message{Payload: "not an event"}))
	assert.Equal(t, 0, p.count())

	require.NoError(t, s.Handle(broadcast.Message{Payload: pipeline.Event{Status: pipeline.StatusComplete}}))
	require.NoError(t, s.Handle(broadcast.Message{Payload: pipeline.Event{Status: pipeline.StatusFailed}}))
	assert.Equal(t, 2, p.count())
	assert.Equal(t, []string{"C1", "C1"}, p.channels)
}

func TestHandle_DisabledAndErrors(t *testing.T) {
	p := &fakePoster{}
	enabled := false
	s := NewSlack(p, SlackOptions{ChannelID: "C1", Enabled: func() bool { return enabled }})

	require.NoError(t, s.Handle(broadcast.Message{Payload: pipeline.Event{Status: pipeline.StatusComplete}}))
	assert.Equal(t, 0, p.count())

	enabled = true
	p.err = errors.New("channel_not_found")
	err := s.Handle(broadcast.Message{Payload: pipeline.Event{Status: pipeline.StatusComplete}})
	assert.ErrorContains(t, err, "channel_not_found")

	noChannel := NewSlack(p, SlackOptions{})
	assert.Error(t, noChannel.Handle(broadcast.Message{Payload: pipeline.Event{Status: pipeline.StatusFailed}}))
}

func TestAttach_PostsThroughSlackClient(t *testing.T) {
	texts := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("Path = %q", r.URL.Path)
		}
		_ = r.ParseForm()
		texts <- r.Form.Get("text")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`))
	}))
	defer server.Close()

	api := slack.New("xoxb-test", slack.OptionAPIURL(server.URL+"/"))
	b := broadcast.New(broadcast.Options{})
	defer b.Close()

	unsubscribe := NewSlack(api, SlackOptions{ChannelID: "C1"}).Attach(b)
	defer unsubscribe()

	b.Broadcast(broadcast.ChannelAnalysis, pipeline.Event{Status: pipeline.StatusFailed, PR: ref, Error: "boom"})

	select {
	case text := <-texts:
		assert.Equal(t, ":x: Analiz başarısız (acme/api#7): boom", text)
	case <-time.After(2 * time.Second):
		t.Fatal("slack message not posted")
	}
}
