package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/trix-server/internal/auth"
	"github.com/vovakirdan/trix-server/internal/config"
	"github.com/vovakirdan/trix-server/internal/core"
	"github.com/vovakirdan/trix-server/internal/metrics"
	"github.com/vovakirdan/trix-server/internal/proto"
	"github.com/vovakirdan/trix-server/internal/service/messages"
	"github.com/vovakirdan/trix-server/internal/service/rename"
	"github.com/vovakirdan/trix-server/internal/store/sqlite"
	"github.com/vovakirdan/trix-server/internal/utils"
)

type testEnv struct {
	ts      *httptest.Server
	hub     *core.Hub
	auth    *auth.Service
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.AuthRateLimit = 0
	cfg.EventBuffer = 64
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	logger := zerolog.Nop()
	m := metrics.New()

	authSvc := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}, auth.NewHasher([]byte("pepper"), auth.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32}))

	ctx, cancel := context.WithCancel(context.Background())
	hub := core.NewHub(&logger, m)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	locks := utils.NewKeyLock()
	msgs := messages.New(st, locks, messages.NewClock(0), hub, messages.Config{HistoryWindow: cfg.HistoryWindow}, &logger, m)
	renamer := rename.New(st, locks, hub, authSvc, &logger, m)

	router := NewRouter(hub, Services{Auth: authSvc, Messages: msgs, Rename: renamer}, &cfg, &logger, m)
	ts := httptest.NewServer(router)

	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-stopped
		_ = st.Close()
	})

	return &testEnv{ts: ts, hub: hub, auth: authSvc, metrics: m}
}

// doJSON sends a JSON request and decodes the JSON response into out when non-nil.
func (e *testEnv) doJSON(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := stdhttp.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) expectError(t *testing.T, method, path, token string, body any, status int, code string) {
	t.Helper()

	var resp ErrorResponse
	got := e.doJSON(t, method, path, token, body, &resp)
	if got != status || resp.Error != code {
		t.Fatalf("%s %s: expected %d %q, got %d %q", method, path, status, code, got, resp.Error)
	}
}

// signup registers and logs in a user, returning a session token.
func (e *testEnv) signup(t *testing.T, username string) string {
	t.Helper()

	creds := CredentialsRequest{Username: username, Password: "password"}
	if status := e.doJSON(t, stdhttp.MethodPost, "/api/register", "", creds, nil); status != stdhttp.StatusCreated {
		t.Fatalf("register %s: status %d", username, status)
	}
	var login LoginResponse
	if status := e.doJSON(t, stdhttp.MethodPost, "/api/login", "", creds, &login); status != stdhttp.StatusOK {
		t.Fatalf("login %s: status %d", username, status)
	}
	return login.Token
}

func (e *testEnv) dial(t *testing.T, ctx context.Context, token string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: stdhttp.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

type outboundFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

// readUntil reads frames until one matches, skipping everything else.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(outboundFrame) bool) outboundFrame {
	t.Helper()

	for {
		var frame outboundFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if match(frame) {
			return frame
		}
	}
}

func isEvent(name string) func(outboundFrame) bool {
	return func(f outboundFrame) bool {
		return f.Type == proto.OutboundTypeEvent && f.Event == name
	}
}

func isPresence(username string, online bool) func(outboundFrame) bool {
	return func(f outboundFrame) bool {
		if f.Event != proto.EventNamePresence {
			return false
		}
		var p proto.EventPresence
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return false
		}
		return p.Username == username && p.Online == online
	}
}

func sendInbound(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal inbound: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("write inbound: %v", err)
	}
}

// waitOnline blocks until the hub sees username online, so presence-dependent
// assertions do not race with connection registration.
func (e *testEnv) waitOnline(t *testing.T, username string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		users, err := e.hub.OnlineUsers()
		if err != nil {
			t.Fatalf("online users: %v", err)
		}
		for _, u := range users {
			if u == username {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s never came online", username)
}
