package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/matheus3301/huddle/internal/credentials"
)

const maxBody = 4 << 20

// Client calls the chat REST endpoints with the user's credentials attached.
type Client struct {
	base    *url.URL
	http    *http.Client
	creds   credentials.Credentials
	timeout time.Duration
	logger  *zap.Logger
}

// New returns a client for baseURL. timeout bounds each request.
func New(baseURL string, creds credentials.Credentials, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url %q: scheme must be http or https", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:    u,
		http:    &http.Client{},
		creds:   creds,
		timeout: timeout,
		logger:  logger.Named("backend"),
	}, nil
}

// ListChats fetches one page of the conversation list.
func (c *Client) ListChats(ctx context.Context, page, limit int) (Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	body, err := c.do(ctx, "list chats", http.MethodGet, "/chat/list", q, nil)
	if err != nil {
		return Page{}, err
	}
	return parsePage(body, c.creds.UserID, page), nil
}

// UnreadCount fetches the backend's unread totals.
func (c *Client) UnreadCount(ctx context.Context) (UnreadTotals, error) {
	body, err := c.do(ctx, "unread count", http.MethodGet, "/chat/list/unread-count", nil, nil)
	if err != nil {
		return UnreadTotals{}, err
	}
	return parseUnread(body), nil
}

// SearchChats runs a server-side conversation search.
func (c *Client) SearchChats(ctx context.Context, query string) ([]Chat, error) {
	q := url.Values{}
	q.Set("search", query)
	body, err := c.do(ctx, "search chats", http.MethodGet, "/chat/list/search", q, nil)
	if err != nil {
		return nil, err
	}
	return parseChats(chatsOf(body), c.creds.UserID), nil
}

// UpdateChat applies an action ("pin", "read", ...) to one conversation.
func (c *Client) UpdateChat(ctx context.Context, id, action string, value any) error {
	if id == "" {
		return &FetchError{Op: "update chat", Err: errors.New("empty conversation id")}
	}
	payload := map[string]any{"action": action, "value": value}
	_, err := c.do(ctx, "update chat "+action, http.MethodPut, "/chat/list/"+url.PathEscape(id), nil, payload)
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, payload any) (gjson.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// path arrives escaped so ids may carry reserved characters.
	u := *c.base
	u.RawPath = c.base.EscapedPath() + path
	u.Path, _ = url.PathUnescape(u.RawPath)
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return gjson.Result{}, &FetchError{Op: op, Err: err}
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return gjson.Result{}, &FetchError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.creds.Token)
		req.AddCookie(&http.Cookie{Name: "token", Value: c.creds.Token})
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, &FetchError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return gjson.Result{}, &FetchError{Op: op, Status: resp.StatusCode, Err: err}
	}
	c.logger.Debug("request",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	body := gjson.ParseBytes(data)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gjson.Result{}, &FetchError{Op: op, Status: resp.StatusCode, Err: errors.New(message(body, resp.Status))}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, &FetchError{Op: op, Status: resp.StatusCode, Err: errors.New("response is not JSON")}
	}
	if ok := body.Get("success"); ok.Exists() && !ok.Bool() {
		return gjson.Result{}, &FetchError{Op: op, Status: resp.StatusCode, Err: errors.New(message(body, "request rejected"))}
	}
	return body, nil
}

func message(body gjson.Result, fallback string) string {
	if m := body.Get("message"); m.Type == gjson.String && m.Str != "" {
		return m.Str
	}
	if m := body.Get("error"); m.Type == gjson.String && m.Str != "" {
		return m.Str
	}
	return fallback
}
