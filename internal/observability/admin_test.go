package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/brainrot/internal/auth"
	"github.com/danmuck/brainrot/internal/protocol/frame"
	"github.com/danmuck/brainrot/internal/protocol/session"
	"github.com/danmuck/brainrot/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snap    session.Snapshot
	sendErr error
	sent    []frame.Command
}

func (f *fakeSource) SessionID() string          { return "sess-1" }
func (f *fakeSource) Snapshot() session.Snapshot { return f.snap }
func (f *fakeSource) Send(_ context.Context, cmd frame.Command) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	if _, err := cmd.Encode(); err != nil {
		return err
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func serve(t *testing.T, a *Admin, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAdminRoutes(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	src := &fakeSource{snap: session.Snapshot{Phase: "registering", Nickname: "bot", Channels: map[string][]string{}}}
	a := NewAdmin("127.0.0.1:0", src, nil)

	rec := serve(t, a, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = serve(t, a, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	src.snap = session.Snapshot{Phase: "ready", Nickname: "bot", Channels: map[string][]string{"#a": {"alice", "bot"}}}
	rec = serve(t, a, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, a, http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Session string           `json:"session"`
		State   session.Snapshot `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "sess-1", body.Session)
	require.Equal(t, []string{"alice", "bot"}, body.State.Channels["#a"])

	rec = serve(t, a, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "brainrot_http_requests_total")
}

func TestAdminCommands(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	src := &fakeSource{}
	a := NewAdmin("127.0.0.1:0", src, []string{"http://example.test"})

	rec := serve(t, a, http.MethodPost, "/commands", `{"verb":"PRIVMSG","params":["#a","hello there"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "PRIVMSG #a :hello there")
	require.Len(t, src.sent, 1)

	rec = serve(t, a, http.MethodPost, "/commands", `{"verb":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, a, http.MethodPost, "/commands", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	src.sendErr = errors.New("throttle: session closed")
	rec = serve(t, a, http.MethodPost, "/commands", `{"verb":"PING","params":["x"]}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminCommandsRequireToken(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	src := &fakeSource{snap: session.Snapshot{Phase: "ready"}}
	a := NewAdmin("127.0.0.1:0", src, nil).RequireToken(auth.StaticToken{Token: "s3cret"})

	rec := serve(t, a, http.MethodPost, "/commands", `{"verb":"PING","params":["x"]}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, src.sent)

	req := httptest.NewRequest(http.MethodPost, "/commands", strings.NewReader(`{"verb":"PING","params":["x"]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, src.sent, 1)

	rec = serve(t, a, http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
