// Package gql is the request/response side of the service: the channel routing
// fetch and the send-message mutation.
package gql

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/poechat/pkg/channel"
	"github.com/go-go-golems/poechat/pkg/types"
)

const (
	DefaultBaseURL      = "https://poe.com"
	DefaultSettingsPath = "/api/settings"
	DefaultGQLPath      = "/api/gql_POST"
	DefaultUserAgent    = "poechat/0.1"
	DefaultTimeout      = 30 * time.Second

	SendMessageQueryName = "SendMessageMutation"
	sendMessageQuery     = `mutation SendMessageMutation($bot: String!, $message: String!, $chatId: BigInt, $chatCode: String, $clientNonce: String, $sdid: String!, $attachments: [String!]!, $withSuggestedReplies: Boolean) { messageEdgeCreate(bot: $bot, query: $message, chatId: $chatId, chatCode: $chatCode, clientNonce: $clientNonce, sdid: $sdid, attachments: $attachments, withSuggestedReplies: $withSuggestedReplies) { status chat { chatId chatCode } message { messageId } } }`

	maxErrorBody = 4 << 10
)

type Config struct {
	BaseURL      string        `yaml:"base_url"`
	SettingsPath string        `yaml:"settings_path"`
	GQLPath      string        `yaml:"gql_path"`
	UserAgent    string        `yaml:"user_agent"`
	Timeout      time.Duration `yaml:"timeout"`
	Tokens       Tokens        `yaml:"-"`
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.SettingsPath == "" {
		c.SettingsPath = DefaultSettingsPath
	}
	if c.GQLPath == "" {
		c.GQLPath = DefaultGQLPath
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client issues the service's HTTP calls with the session headers attached.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger

	mu       sync.RWMutex
	tchannel string
}

var _ channel.SettingsFetcher = (*Client)(nil)

func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.applyDefaults()
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "gql: invalid base URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("gql: unsupported base URL scheme %q", u.Scheme)
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: log.With().Str("component", "gql").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Tchannel returns the channel name learned from the last settings fetch.
func (c *Client) Tchannel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tchannel
}

// Header returns the headers sent with every HTTP call.
func (c *Client) Header() http.Header {
	h := http.Header{}
	h.Set("Cookie", c.cfg.Tokens.Cookie())
	h.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.Tokens.Formkey != "" {
		h.Set("Poe-Formkey", c.cfg.Tokens.Formkey)
	}
	if tch := c.Tchannel(); tch != "" {
		h.Set("Poe-Tchannel", tch)
	}
	return h
}

// HandshakeHeader returns the headers for the push channel handshake.
func (c *Client) HandshakeHeader() http.Header {
	h := http.Header{}
	h.Set("Cookie", c.cfg.Tokens.Cookie())
	h.Set("User-Agent", c.cfg.UserAgent)
	h.Set("Origin", c.cfg.BaseURL)
	return h
}

type settingsResponse struct {
	TchannelData *struct {
		BaseHost    string          `json:"baseHost"`
		BoxName     string          `json:"boxName"`
		MinSeq      json.RawMessage `json:"minSeq"`
		Channel     string          `json:"channel"`
		ChannelHash string          `json:"channelHash"`
	} `json:"tchannelData"`
}

// ChannelSettings fetches the push channel routing metadata. The channel name is
// remembered and sent as Poe-Tchannel on later calls.
func (c *Client) ChannelSettings(ctx context.Context) (channel.Settings, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+c.cfg.SettingsPath, nil)
	if err != nil {
		return channel.Settings{}, errors.Wrap(err, "gql: build settings request")
	}
	req.Header = c.Header()

	body, err := c.do(req)
	if err != nil {
		return channel.Settings{}, errors.Wrap(err, "gql: fetch settings")
	}
	var resp settingsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return channel.Settings{}, errors.Wrap(err, "gql: decode settings")
	}
	if resp.TchannelData == nil {
		return channel.Settings{}, errors.New("gql: settings response has no tchannelData")
	}
	td := resp.TchannelData
	s := channel.Settings{
		BaseHost:    td.BaseHost,
		BoxName:     td.BoxName,
		MinSeq:      scalarString(td.MinSeq),
		Channel:     td.Channel,
		ChannelHash: td.ChannelHash,
	}
	if err := s.Validate(); err != nil {
		return channel.Settings{}, errors.Wrap(err, "gql: settings")
	}

	c.mu.Lock()
	c.tchannel = s.Channel
	c.mu.Unlock()
	c.logger.Debug().Str("channel", s.Channel).Str("base_host", s.BaseHost).Msg("fetched channel settings")
	return s, nil
}

// SendRequest is one send-message call.
type SendRequest struct {
	Bot            string
	Message        string
	ChatID         int64
	ChatCode       string
	SuggestReplies bool
	// Attachments are local file paths; only their file<N> references are sent.
	Attachments []string
}

// SendResult is the accepted mutation. ChatID is 0 when the service did not
// report the conversation.
type SendResult struct {
	Status    string
	ChatID    int64
	ChatCode  string
	MessageID int64
	Nonce     string
}

type sendVariables struct {
	Bot                  string   `json:"bot"`
	Message              string   `json:"message"`
	ChatID               *int64   `json:"chatId"`
	ChatCode             *string  `json:"chatCode"`
	ClientNonce          string   `json:"clientNonce"`
	SDID                 string   `json:"sdid"`
	Attachments          []string `json:"attachments"`
	WithSuggestedReplies bool     `json:"withSuggestedReplies"`
}

type gqlRequest struct {
	Query     string        `json:"query"`
	QueryName string        `json:"queryName"`
	Variables sendVariables `json:"variables"`
}

type gqlError struct {
	Message string `json:"message"`
}

type sendResponse struct {
	Data *struct {
		MessageEdgeCreate *struct {
			Status string `json:"status"`
			Chat   *struct {
				ChatID   int64  `json:"chatId"`
				ChatCode string `json:"chatCode"`
			} `json:"chat"`
			Message *struct {
				MessageID int64 `json:"messageId"`
			} `json:"message"`
		} `json:"messageEdgeCreate"`
	} `json:"data"`
	Errors []gqlError `json:"errors"`
}

// NewNonce returns a fresh per-call client nonce: a random (v4) UUID with its
// hyphens removed, 32 lowercase hex characters.
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// AttachmentRefs maps attachment paths to the file0..fileN references the
// mutation expects.
func AttachmentRefs(paths []string) []string {
	refs := make([]string, len(paths))
	for i := range paths {
		refs[i] = "file" + strconv.Itoa(i)
	}
	return refs
}

// SendMessage issues the send mutation. Any failure to get an accepted data
// payload is reported as types.ErrSendRejected.
func (c *Client) SendMessage(ctx context.Context, sr SendRequest) (SendResult, error) {
	vars := sendVariables{
		Bot:                  sr.Bot,
		Message:              sr.Message,
		ClientNonce:          NewNonce(),
		Attachments:          AttachmentRefs(sr.Attachments),
		WithSuggestedReplies: sr.SuggestReplies,
	}
	if sr.ChatID != 0 {
		id := sr.ChatID
		vars.ChatID = &id
	}
	if sr.ChatCode != "" {
		code := sr.ChatCode
		vars.ChatCode = &code
	}
	payload, err := json.Marshal(gqlRequest{Query: sendMessageQuery, QueryName: SendMessageQueryName, Variables: vars})
	if err != nil {
		return SendResult{}, errors.Wrap(err, "gql: encode send request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.GQLPath, bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, errors.Wrap(err, "gql: build send request")
	}
	req.Header = c.Header()
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return SendResult{}, errors.Wrapf(types.ErrSendRejected, "send to %s: %v", sr.Bot, err)
	}
	var resp sendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return SendResult{}, errors.Wrapf(types.ErrSendRejected, "decode send response: %v", err)
	}
	if resp.Data == nil || resp.Data.MessageEdgeCreate == nil {
		return SendResult{}, errors.Wrapf(types.ErrSendRejected, "send to %s: no data%s", sr.Bot, describeErrors(resp.Errors))
	}
	edge := resp.Data.MessageEdgeCreate
	if edge.Status != "" && edge.Status != "success" {
		return SendResult{}, errors.Wrapf(types.ErrSendRejected, "send to %s: status %q%s", sr.Bot, edge.Status, describeErrors(resp.Errors))
	}

	res := SendResult{Status: edge.Status, Nonce: vars.ClientNonce}
	if edge.Chat != nil {
		res.ChatID = edge.Chat.ChatID
		res.ChatCode = edge.Chat.ChatCode
	}
	if edge.Message != nil {
		res.MessageID = edge.Message.MessageID
	}
	c.logger.Debug().
		Str("bot", sr.Bot).
		Int64("conversation_id", res.ChatID).
		Str("status", res.Status).
		Msg("send accepted")
	return res, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errors.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response body")
	}
	return body, nil
}

func describeErrors(errs []gqlError) string {
	if len(errs) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return ": " + strings.Join(msgs, "; ")
}

// scalarString accepts a JSON number or string.
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
