package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/poechat/pkg/config"
	"github.com/go-go-golems/poechat/pkg/demux"
	"github.com/go-go-golems/poechat/pkg/types"
)

// sendHandler answers one send mutation. It runs before the response is written.
type sendHandler func(fs *fakeService, vars map[string]any) (status int, body string)

// fakeService serves the settings fetch, the send mutation and the push channel.
type fakeService struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	settingsCalls atomic.Int32
	nextChatID    atomic.Int64

	mu        sync.Mutex
	conn      *websocket.Conn
	connects  int
	onSend    sendHandler
	sendsSeen []map[string]any
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	fs := &fakeService{t: t}
	fs.nextChatID.Store(1000)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/settings", fs.handleSettings)
	mux.HandleFunc("/api/gql_POST", fs.handleSend)
	mux.HandleFunc("/up/box/updates", fs.handleWS)
	fs.srv = httptest.NewServer(mux)
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeService) config() config.Config {
	cfg := config.Default()
	cfg.Tokens.PB = "pb"
	cfg.Tokens.PLat = "plat"
	cfg.Service.BaseURL = fs.srv.URL
	cfg.Channel.Scheme = "ws"
	cfg.Channel.RandomSubdomain = false
	cfg.Stream.PollInterval = 5 * time.Millisecond
	cfg.Stream.IdleTimeout = 5 * time.Second
	return cfg
}

func (fs *fakeService) handleSettings(w http.ResponseWriter, r *http.Request) {
	fs.settingsCalls.Add(1)
	host := strings.TrimPrefix(fs.srv.URL, "http://")
	_, _ = fmt.Fprintf(w, `{"tchannelData":{"baseHost":%q,"boxName":"box","minSeq":1,"channel":"chan-1","channelHash":"h"}}`, host)
}

func (fs *fakeService) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Variables map[string]any `json:"variables"`
	}
	body, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fs.mu.Lock()
	fs.sendsSeen = append(fs.sendsSeen, req.Variables)
	handler := fs.onSend
	fs.mu.Unlock()

	if handler == nil {
		handler = acceptNew
	}
	status, resp := handler(fs, req.Variables)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp)
}

func (fs *fakeService) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	fs.mu.Lock()
	fs.conn = conn
	fs.connects++
	fs.mu.Unlock()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (fs *fakeService) setOnSend(h sendHandler) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.onSend = h
}

func (fs *fakeService) connectCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.connects
}

func (fs *fakeService) sends() []map[string]any {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]map[string]any(nil), fs.sendsSeen...)
}

// pushRaw writes one raw frame to the open push connection, waiting briefly for
// the server side of a fresh handshake to register it.
func (fs *fakeService) pushRaw(frame string) {
	deadline := time.Now().Add(2 * time.Second)
	for {
		fs.mu.Lock()
		if fs.conn != nil {
			err := fs.conn.WriteMessage(websocket.TextMessage, []byte(frame))
			fs.mu.Unlock()
			require.NoError(fs.t, err)
			return
		}
		fs.mu.Unlock()
		require.True(fs.t, time.Now().Before(deadline), "push channel not connected")
		time.Sleep(5 * time.Millisecond)
	}
}

// push writes one frame carrying the given updates.
func (fs *fakeService) push(updates ...types.RawUpdate) {
	fs.pushRaw(string(encodeFrame(fs.t, updates...)))
}

// dropConnection closes the push connection abnormally.
func (fs *fakeService) dropConnection() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.conn != nil {
		_ = fs.conn.Close()
		fs.conn = nil
	}
}

func encodeFrame(t *testing.T, updates ...types.RawUpdate) []byte {
	t.Helper()
	envs := make([]demux.Envelope, 0, len(updates))
	for _, u := range updates {
		env, err := demux.NewUpdateEnvelope(u)
		require.NoError(t, err)
		envs = append(envs, env)
	}
	frame, err := demux.EncodeFrame(envs...)
	require.NoError(t, err)
	return frame
}

func envelopeJSON(t *testing.T, u types.RawUpdate) string {
	t.Helper()
	env, err := demux.NewUpdateEnvelope(u)
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return string(b)
}

func acceptNew(fs *fakeService, vars map[string]any) (int, string) {
	chatID := fs.nextChatID.Add(1)
	if v, ok := vars["chatId"].(float64); ok && v != 0 {
		chatID = int64(v)
	}
	return http.StatusOK, fmt.Sprintf(`{"data":{"messageEdgeCreate":{"status":"success","chat":{"chatId":%d,"chatCode":"code-%d"}}}}`, chatID, chatID)
}

func update(chatID int64, text string, state types.LifecycleState) types.RawUpdate {
	return types.RawUpdate{
		Text:           text,
		ConversationID: chatID,
		ChatCode:       fmt.Sprintf("code-%d", chatID),
		ReplyID:        chatID * 10,
		State:          state,
		Author:         "echoBot",
	}
}
