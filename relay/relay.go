// Package relay talks to an ntfy-compatible pub/sub relay.
//
// The relay serves two purposes: it delivers notifications, and its
// "latest message on a topic" read doubles as the only persistent store
// for the previous grades state.
//
// Publish POSTs a plain-text body to {base}/{topic} and expects a JSON ack.
// Latest polls {base}/{topic}/json?poll=1&since=latest and keeps the last
// "message" event of the newline-delimited response.
package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hazyhaar/gradewatch/horosafe"
)

// DefaultServer is the public relay used when no base URL is configured.
const DefaultServer = "https://ntfy.sh"

// publicHost is the only host for which the https->http retry applies.
const publicHost = "ntfy.sh"

const previewLen = 220

// ErrInvalidResponse is wrapped by every *ResponseError.
var ErrInvalidResponse = errors.New("relay: invalid response")

// ResponseError reports a relay reply that is not a usable ack or event
// stream. Preview holds the start of the body with line breaks flattened.
type ResponseError struct {
	URL     string
	Status  int
	Preview string
	Err     error
}

func (e *ResponseError) Error() string {
	msg := fmt.Sprintf("relay: invalid response from %s (status %d)", e.URL, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg + ". Body: " + e.Preview
}

func (e *ResponseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidResponse}
	}
	return []error{ErrInvalidResponse, e.Err}
}

// Message is a published or retrieved relay message.
type Message struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Topic   string    `json:"topic"`
	Message string    `json:"message"`
	Title   string    `json:"title,omitempty"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. The same *http.Client
// should be shared by every relay Client in a process.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMaxBody caps response bodies. Default: horosafe.MaxResponseBody.
func WithMaxBody(n int64) Option {
	return func(c *Client) { c.maxBody = n }
}

// Client publishes to and reads from one relay server.
type Client struct {
	base         string
	fallbackHost string
	hc           *http.Client
	rc           *resty.Client
	logger       *slog.Logger
	maxBody      int64
}

// New returns a Client for baseURL. An empty baseURL selects DefaultServer;
// a base without scheme is assumed to be https.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{base: NormalizeBaseURL(baseURL), fallbackHost: publicHost}
	for _, o := range opts {
		o(c)
	}
	if c.hc == nil {
		c.hc = http.DefaultClient
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.maxBody <= 0 {
		c.maxBody = horosafe.MaxResponseBody
	}
	c.rc = resty.NewWithClient(c.hc).
		SetHeader("Accept", "application/json").
		OnError(func(req *resty.Request, err error) {
			c.logger.Debug("relay: request failed", "method", req.Method, "url", req.URL, "error", err)
		})
	return c
}

// BaseURL returns the normalised server base.
func (c *Client) BaseURL() string { return c.base }

// NormalizeBaseURL trims s, defaults it to DefaultServer, prepends https://
// when no scheme is present and drops trailing slashes.
func NormalizeBaseURL(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		s = DefaultServer
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "https://" + s
	}
	return strings.TrimRight(s, "/")
}

// Publish posts message to topic, with an optional title.
func (c *Client) Publish(ctx context.Context, topic, message, title string) (*Message, error) {
	topic, err := cleanTopic(topic)
	if err != nil {
		return nil, err
	}
	var msg *Message
	err = c.withFallback(ctx, func(base string) error {
		var err error
		msg, err = c.publishOnce(ctx, base, topic, message, title)
		return err
	})
	return msg, err
}

// Latest returns the newest message on topic, or (nil, nil) when the topic
// holds none.
func (c *Client) Latest(ctx context.Context, topic string) (*Message, error) {
	topic, err := cleanTopic(topic)
	if err != nil {
		return nil, err
	}
	var msg *Message
	err = c.withFallback(ctx, func(base string) error {
		var err error
		msg, err = c.latestOnce(ctx, base, topic)
		return err
	})
	return msg, err
}

// withFallback runs op against the configured base and, for the public
// relay only, retries once over plain http. TLS-intercepting proxies have
// been seen answering https requests with a 2xx page that is not a relay
// reply.
func (c *Client) withFallback(ctx context.Context, op func(base string) error) error {
	err := op(c.base)
	if err == nil || ctx.Err() != nil || !c.canFallback() {
		return err
	}
	httpBase := "http://" + c.base[len("https://"):]
	c.logger.Warn("relay: https request failed, retrying over http", "base", httpBase, "error", err)
	return op(httpBase)
}

func (c *Client) canFallback() bool {
	u, err := url.Parse(c.base)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, "https") && strings.EqualFold(u.Hostname(), c.fallbackHost)
}

type ack struct {
	ID      string `json:"id"`
	Time    *int64 `json:"time"`
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Message string `json:"message"`
	Title   string `json:"title"`
}

func (a *ack) valid() bool {
	return strings.TrimSpace(a.ID) != "" && a.Time != nil && strings.TrimSpace(a.Topic) != ""
}

func (a *ack) toMessage() *Message {
	return &Message{
		ID:      a.ID,
		Time:    time.Unix(*a.Time, 0),
		Topic:   a.Topic,
		Message: a.Message,
		Title:   a.Title,
	}
}

func (c *Client) publishOnce(ctx context.Context, base, topic, message, title string) (*Message, error) {
	endpoint := base + "/" + url.PathEscape(topic)
	req := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain; charset=utf-8").
		SetBody(message).
		SetDoNotParseResponse(true)
	if title != "" {
		req.SetQueryParam("title", title)
	}

	res, err := req.Post(endpoint)
	if err != nil {
		return nil, fmt.Errorf("relay: publish %s: %w", endpoint, err)
	}
	body, err := c.readBody(res)
	if err != nil {
		return nil, fmt.Errorf("relay: publish %s: read body: %w", endpoint, err)
	}
	c.logger.Debug("relay: published", "url", endpoint, "status", res.StatusCode(), "bytes", len(message))
	if !res.IsSuccess() {
		return nil, &ResponseError{URL: endpoint, Status: res.StatusCode(), Preview: Preview(body)}
	}

	var a ack
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, &ResponseError{URL: endpoint, Status: res.StatusCode(), Preview: Preview(body), Err: err}
	}
	if !a.valid() {
		return nil, &ResponseError{URL: endpoint, Status: res.StatusCode(), Preview: Preview(body)}
	}
	return a.toMessage(), nil
}

func (c *Client) latestOnce(ctx context.Context, base, topic string) (*Message, error) {
	endpoint := base + "/" + url.PathEscape(topic) + "/json"
	res, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"poll": "1", "since": "latest"}).
		SetDoNotParseResponse(true).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("relay: poll %s: %w", endpoint, err)
	}
	body, err := c.readBody(res)
	if err != nil {
		return nil, fmt.Errorf("relay: poll %s: read body: %w", endpoint, err)
	}
	c.logger.Debug("relay: polled", "url", endpoint, "status", res.StatusCode(), "bytes", len(body))
	if !res.IsSuccess() {
		return nil, &ResponseError{URL: endpoint, Status: res.StatusCode(), Preview: Preview(body)}
	}
	return lastMessageEvent(body), nil
}

// lastMessageEvent scans NDJSON events and returns the last complete
// "message" event. Blank and unparsable lines are skipped.
func lastMessageEvent(body []byte) *Message {
	var last *ack
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), len(body)+1)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev ack
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if !strings.EqualFold(ev.Event, "message") || !ev.valid() {
			continue
		}
		last = &ev
	}
	if last == nil {
		return nil
	}
	return last.toMessage()
}

func (c *Client) readBody(res *resty.Response) ([]byte, error) {
	raw := res.RawBody()
	if raw == nil {
		return nil, nil
	}
	defer raw.Close()
	return horosafe.LimitedReadAll(raw, c.maxBody)
}

func cleanTopic(topic string) (string, error) {
	topic = strings.Trim(strings.TrimSpace(topic), "/")
	if topic == "" {
		return "", errors.New("relay: topic is required")
	}
	return topic, nil
}

// Preview flattens line breaks, trims, and truncates body to 220 runes
// followed by an ellipsis.
func Preview(body []byte) string {
	s := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(string(body))
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "…"
}
