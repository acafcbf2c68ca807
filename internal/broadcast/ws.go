package broadcast

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Greeting is the first frame every push client receives.
type Greeting struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ConnectedGreeting is sent on connect, before any replayed message.
var ConnectedGreeting = Greeting{Status: "CONNECTED", Message: "Analiz sunucusuna bağlandınız."}

// WSOptions configure the push endpoint.
type WSOptions struct {
	// AllowedOrigins lists dashboard origins. Empty allows any origin.
	AllowedOrigins []string
	// Replay is the number of backlog messages sent after the greeting.
	Replay       int
	WriteTimeout time.Duration
	PingInterval time.Duration
	Logger       *zap.Logger
}

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	maxClientFrame      = 4096
)

// ServeWS returns a handler that upgrades the request to a WebSocket and
// streams every broadcast payload to the client as JSON until it
// disconnects.
func (b *Broadcaster) ServeWS(opts WSOptions) http.Handler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.Replay < 0 {
		opts.Replay = 0
	}
	log := opts.Logger
	if log == nil {
		log = b.log
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		remote := r.RemoteAddr
		log.Info("push client connected", zap.String("remote", remote))

		_ = conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
		if err := conn.WriteJSON(ConnectedGreeting); err != nil {
			log.Warn("websocket greeting failed", zap.String("remote", remote), zap.Error(err))
			return
		}

		done := make(chan struct{})
		unsubscribe := b.Subscribe("", func(m Message) error {
			select {
			case <-done:
				return nil
			default:
			}
			_ = conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			return conn.WriteJSON(m.Payload)
		}, WithReplay(opts.Replay), WithName("ws:"+remote))
		defer unsubscribe()

		go func() {
			ticker := time.NewTicker(opts.PingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(opts.WriteTimeout)); err != nil {
						return
					}
				}
			}
		}()

		conn.SetReadLimit(maxClientFrame)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		close(done)
		log.Info("push client disconnected", zap.String("remote", remote))
	})
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[normalizeOrigin(o)] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return set[normalizeOrigin(origin)]
	}
}

func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}
