package gql

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/poechat/pkg/types"
)

func testTokens() Tokens {
	return Tokens{PB: "pb-token", PLat: "plat-token", Formkey: "fk"}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Tokens: testTokens()}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestTokensCookie(t *testing.T) {
	tok := Tokens{PB: "a", PLat: "b"}
	require.Equal(t, "p-b=a; p-lat=b", tok.Cookie())

	tok.CFBm = "c"
	require.Equal(t, "p-b=a; p-lat=b", tok.Cookie())

	tok.CFClearance = "d"
	require.Equal(t, "p-b=a; p-lat=b; __cf_bm=c; cf_clearance=d", tok.Cookie())

	require.NoError(t, tok.Validate())
	require.Error(t, Tokens{PB: "a"}.Validate())
	require.Error(t, Tokens{PLat: "b"}.Validate())
}

func TestChannelSettingsDecodesAndRemembersChannel(t *testing.T) {
	sawTchannel := make(chan string, 2)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, DefaultSettingsPath, r.URL.Path)
		require.Equal(t, "p-b=pb-token; p-lat=plat-token", r.Header.Get("Cookie"))
		require.Equal(t, "fk", r.Header.Get("Poe-Formkey"))
		sawTchannel <- r.Header.Get("Poe-Tchannel")
		_, _ = io.WriteString(w, `{"tchannelData":{"baseHost":"poe.example","boxName":"box-3","minSeq":123456789,"channel":"poe-chan-9","channelHash":"h4sh"}}`)
	})

	s, err := c.ChannelSettings(context.Background())
	require.NoError(t, err)
	require.Equal(t, "poe.example", s.BaseHost)
	require.Equal(t, "box-3", s.BoxName)
	require.Equal(t, "123456789", s.MinSeq)
	require.Equal(t, "poe-chan-9", s.Channel)
	require.Equal(t, "h4sh", s.ChannelHash)
	require.Equal(t, "poe-chan-9", c.Tchannel())

	_, err = c.ChannelSettings(context.Background())
	require.NoError(t, err)
	require.Equal(t, "", <-sawTchannel)
	require.Equal(t, "poe-chan-9", <-sawTchannel)
}

func TestChannelSettingsStringMinSeq(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"tchannelData":{"baseHost":"h","boxName":"b","minSeq":"42","channel":"c","channelHash":"x"}}`)
	})
	s, err := c.ChannelSettings(context.Background())
	require.NoError(t, err)
	require.Equal(t, "42", s.MinSeq)
}

func TestChannelSettingsFailures(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	_, err := c.ChannelSettings(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP 403")

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	_, err = c.ChannelSettings(context.Background())
	require.Error(t, err)
}

func TestSendMessageAccepted(t *testing.T) {
	requests := make(chan gqlRequest, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var got gqlRequest
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, DefaultGQLPath, r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		requests <- got
		_, _ = io.WriteString(w, `{"data":{"messageEdgeCreate":{"status":"success","chat":{"chatId":777,"chatCode":"abc"},"message":{"messageId":5}}}}`)
	})

	res, err := c.SendMessage(context.Background(), SendRequest{
		Bot:            "echoBot",
		Message:        "hi",
		ChatCode:       "abc",
		SuggestReplies: true,
		Attachments:    []string{"/tmp/a.png", "/tmp/b.txt"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(777), res.ChatID)
	require.Equal(t, "abc", res.ChatCode)
	require.Equal(t, int64(5), res.MessageID)
	require.Len(t, res.Nonce, 32)

	got := <-requests
	require.Equal(t, SendMessageQueryName, got.QueryName)
	require.Equal(t, "echoBot", got.Variables.Bot)
	require.Equal(t, "hi", got.Variables.Message)
	require.Nil(t, got.Variables.ChatID)
	require.NotNil(t, got.Variables.ChatCode)
	require.Equal(t, "abc", *got.Variables.ChatCode)
	require.Equal(t, res.Nonce, got.Variables.ClientNonce)
	require.Equal(t, []string{"file0", "file1"}, got.Variables.Attachments)
	require.True(t, got.Variables.WithSuggestedReplies)
}

func TestSendMessageRejected(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"no data": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"data":null,"errors":[{"message":"bot not found"}]}`)
		},
		"bad status": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"data":{"messageEdgeCreate":{"status":"rate_limited"}}}`)
		},
		"http error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `not json`)
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, handler)
			_, err := c.SendMessage(context.Background(), SendRequest{Bot: "echoBot", Message: "hi", ChatID: 9})
			require.Error(t, err)
			require.True(t, errors.Is(err, types.ErrSendRejected), "got %v", err)
		})
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "ftp://example.com"})
	require.Error(t, err)

	c, err := New(Config{})
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, c.BaseURL())
	require.Equal(t, DefaultBaseURL, c.HandshakeHeader().Get("Origin"))
}

func TestNonceIsUnique(t *testing.T) {
	a, b := NewNonce(), NewNonce()
	require.Len(t, a, 32)
	require.NotEqual(t, a, b)
	require.Regexp(t, `^[0-9a-f]{32}$`, a)

	// version nibble of a v4 UUID
	require.Equal(t, byte('4'), a[12])
}
