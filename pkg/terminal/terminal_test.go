package terminal

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antibyte/webterm/pkg/auth"
	"github.com/antibyte/webterm/pkg/shared"
	"github.com/antibyte/webterm/pkg/shell"
	"github.com/antibyte/webterm/pkg/store"
	"github.com/antibyte/webterm/pkg/virtualfs"
)

type testServer struct {
	srv      *httptest.Server
	handler  *TerminalHandler
	registry *virtualfs.Registry
}

func newTestServer(t *testing.T, limits RateLimitConfig) *testServer {
	t.Helper()
	registry := virtualfs.NewRegistry(store.NewMemory(), virtualfs.Limits{MaxFiles: 10})
	opts := shell.Options{
		Prompt:      "$",
		Welcome:     "Welcome",
		Defaults:    shell.Settings{Theme: "cyan", Bg: "gray-800", FontSize: "base"},
		Backgrounds: []string{"gray-800", "black"},
		MaxHistory:  100,
		MaxSteps:    10000,
		EvalTimeout: time.Second,
	}
	h := NewTerminalHandler(registry, opts, NewIPRateLimiter(limits))
	mux := http.NewServeMux()
	h.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		h.Shutdown()
		srv.Close()
	})
	return &testServer{srv: srv, handler: h, registry: registry}
}

var generous = RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000}

func profileToken(t *testing.T) (string, string) {
	t.Helper()
	id := auth.NewProfileID()
	token, err := auth.GenerateProfileToken(id)
	require.NoError(t, err)
	return id, token
}

func (ts *testServer) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntilScroll collects messages up to and including the next scroll.
func readUntilScroll(t *testing.T, conn *websocket.Conn) []shared.Message {
	t.Helper()
	var msgs []shared.Message
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg shared.Message
		require.NoError(t, conn.ReadJSON(&msg))
		msgs = append(msgs, msg)
		if msg.Type == shared.MessageTypeScroll {
			return msgs
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, req shared.Request) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
}

func texts(msgs []shared.Message) []string {
	var out []string
	for _, m := range msgs {
		if m.Type == shared.MessageTypeText {
			out = append(out, m.Content)
		}
	}
	return out
}

func TestWebSocketRequiresToken(t *testing.T) {
	ts := newTestServer(t, generous)
	base := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base+"?token=bogus", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketSessionFlow(t *testing.T) {
	ts := newTestServer(t, generous)
	id, token := profileToken(t)
	conn := ts.dial(t, token)

	welcome := readUntilScroll(t, conn)
	require.GreaterOrEqual(t, len(welcome), 3)
	assert.Equal(t, shared.MessageTypeSession, welcome[0].Type)
	assert.Equal(t, id, welcome[0].SessionID)
	assert.Equal(t, shared.MessageTypeSettings, welcome[1].Type)
	assert.Equal(t, "cyan", welcome[1].Theme)
	assert.Contains(t, texts(welcome), "Welcome")

	send(t, conn, shared.Request{Type: shared.RequestLine, Content: "touch a.txt"})
	assert.Contains(t, texts(readUntilScroll(t, conn)), "File 'a.txt' created.")

	send(t, conn, shared.Request{Type: shared.RequestLine, Content: "edit a.txt"})
	var editor *shared.Message
	for _, m := range readUntilScroll(t, conn) {
		if m.Type == shared.MessageTypeEditor {
			editor = &m
		}
	}
	require.NotNil(t, editor)
	assert.Equal(t, "a.txt", editor.FileName)

	send(t, conn, shared.Request{Type: shared.RequestEditor, Confirm: true, EditorData: "hello"})
	assert.Contains(t, texts(readUntilScroll(t, conn)), "File 'a.txt' updated.")

	// A second tab on the same profile sees the same files.
	other := ts.dial(t, token)
	readUntilScroll(t, other)
	send(t, other, shared.Request{Type: shared.RequestLine, Content: "cat a.txt"})
	assert.Contains(t, texts(readUntilScroll(t, other)), "<pre>hello</pre>")
	assert.Equal(t, 1, ts.registry.OpenCount())
	assert.Equal(t, 2, ts.handler.ClientCount())
}

func TestWebSocketHistoryKeys(t *testing.T) {
	ts := newTestServer(t, generous)
	_, token := profileToken(t)
	conn := ts.dial(t, token)
	readUntilScroll(t, conn)

	send(t, conn, shared.Request{Type: shared.RequestLine, Content: "echo hi"})
	readUntilScroll(t, conn)
	send(t, conn, shared.Request{Type: shared.RequestKey, Key: "ArrowUp"})

	var msg shared.Message
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, shared.MessageTypeInput, msg.Type)
	assert.Equal(t, "echo hi", msg.Content)
}

func TestWebSocketRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t, generous)
	_, token := profileToken(t)
	conn := ts.dial(t, token)
	readUntilScroll(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msgs := readUntilScroll(t, conn)
	assert.Equal(t, []string{"Invalid request."}, texts(msgs))
	assert.True(t, msgs[0].IsError)

	send(t, conn, shared.Request{Type: "format-disk"})
	assert.Equal(t, []string{"Invalid input."}, texts(readUntilScroll(t, conn)))

	send(t, conn, shared.Request{Type: shared.RequestLine, Content: "echo \x07"})
	assert.Equal(t, []string{"Invalid input."}, texts(readUntilScroll(t, conn)))
}

func TestWebSocketRateLimit(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2})
	_, token := profileToken(t)
	conn := ts.dial(t, token) // first token
	readUntilScroll(t, conn)

	send(t, conn, shared.Request{Type: shared.RequestLine, Content: "echo one"}) // second token
	assert.Contains(t, texts(readUntilScroll(t, conn)), "one")

	send(t, conn, shared.Request{Type: shared.RequestLine, Content: "echo two"})
	assert.Equal(t, []string{"Too many requests. Please slow down."}, texts(readUntilScroll(t, conn)))
}

func TestDisconnectReleasesFiles(t *testing.T) {
	ts := newTestServer(t, generous)
	_, token := profileToken(t)
	conn := ts.dial(t, token)
	readUntilScroll(t, conn)
	require.Equal(t, 1, ts.registry.OpenCount())

	conn.Close()
	assert.Eventually(t, func() bool {
		return ts.registry.OpenCount() == 0 && ts.handler.ClientCount() == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestBackupEndpoints(t *testing.T) {
	ts := newTestServer(t, generous)
	_, token := profileToken(t)

	post := func(body string) (*http.Response, BackupResponse) {
		req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/fs/import", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var br BackupResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&br))
		return resp, br
	}

	resp, br := post(`{"a.txt":"1","b.md":"<b>"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, br.Imported)

	resp, br = post(`[1,2]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, br.Success)

	resp, _ = post(`{"x":{"nested":true}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	many := map[string]string{}
	for i := 0; i < 20; i++ {
		many[strings.Repeat("f", i+1)] = ""
	}
	body, _ := json.Marshal(many)
	resp, _ = post(string(body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	get, err := http.Get(ts.srv.URL + "/api/fs/export?token=" + token)
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode)
	assert.Contains(t, get.Header.Get("Content-Disposition"), shell.BackupFileName)
	data, err := io.ReadAll(get.Body)
	require.NoError(t, err)
	var files map[string]string
	require.NoError(t, json.Unmarshal(data, &files))
	assert.Equal(t, map[string]string{"a.txt": "1", "b.md": "<b>"}, files)
	assert.True(t, bytes.Contains(data, []byte("\n  ")))

	unauth, err := http.Get(ts.srv.URL + "/api/fs/export")
	require.NoError(t, err)
	unauth.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, unauth.StatusCode)
}

func TestSessionEndpoint(t *testing.T) {
	ts := newTestServer(t, generous)
	resp, err := http.Post(ts.srv.URL+"/api/auth/session", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	var sr auth.SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
	assert.True(t, sr.Success)

	conn := ts.dial(t, sr.Token)
	assert.Equal(t, sr.ProfileID, readUntilScroll(t, conn)[0].SessionID)
}

func TestCheckOrigin(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://term.example:8080/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, checkOrigin(req(""), nil))
	assert.True(t, checkOrigin(req("http://term.example:8080"), nil))
	assert.False(t, checkOrigin(req("http://evil.example"), nil))

	allowed := []string{"https://app.example"}
	assert.True(t, checkOrigin(req("https://app.example"), allowed))
	assert.False(t, checkOrigin(req("http://term.example:8080"), allowed))
}
