package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"
)

func TestNormalizeBaseURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "https://ntfy.sh"},
		{"  ", "https://ntfy.sh"},
		{"ntfy.example.com", "https://ntfy.example.com"},
		{"http://10.0.0.2:8080/", "http://10.0.0.2:8080"},
		{"HTTPS://ntfy.sh", "HTTPS://ntfy.sh"},
	}
	for _, c := range cases {
		if got := NormalizeBaseURL(c.in); got != c.want {
			t.Errorf("NormalizeBaseURL(%q): got %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPublish(t *testing.T) {
	var gotBody, gotTitle, gotPath, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotTitle = r.URL.Query().Get("title")
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		fmt.Fprint(w, `{"id":"m1","time":1700000000,"topic":"grades","message":"hello","title":"新成绩：高数"}`)
	}))
	defer srv.Close()

	msg, err := New(srv.URL).Publish(context.Background(), "grades", "hello", "新成绩：高数")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if msg.ID != "m1" || msg.Topic != "grades" || msg.Time.Unix() != 1700000000 {
		t.Errorf("ack: %+v", msg)
	}
	if gotBody != "hello" || gotTitle != "新成绩：高数" || gotPath != "/grades" {
		t.Errorf("request: body=%q title=%q path=%q", gotBody, gotTitle, gotPath)
	}
	if !strings.HasPrefix(gotType, "text/plain") {
		t.Errorf("content type: got %q", gotType)
	}
}

func TestPublishInvalidAck(t *testing.T) {
	cases := map[string]string{
		"html":       "<html>\r\n<body>proxy login</body>\n</html>",
		"missing id": `{"time":1,"topic":"t"}`,
		"no time":    `{"id":"x","topic":"t"}`,
	}
	for name, body := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))
		_, err := New(srv.URL).Publish(context.Background(), "t", "m", "")
		srv.Close()

		if !errors.Is(err, ErrInvalidResponse) {
			t.Errorf("%s: got %v, want ErrInvalidResponse", name, err)
			continue
		}
		var re *ResponseError
		if !errors.As(err, &re) {
			t.Errorf("%s: not a *ResponseError", name)
			continue
		}
		if strings.ContainsAny(re.Preview, "\r\n") {
			t.Errorf("%s: preview keeps line breaks: %q", name, re.Preview)
		}
	}
}

func TestPublishHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Publish(context.Background(), "t", "m", "")
	var re *ResponseError
	if !errors.As(err, &re) || re.Status != http.StatusTooManyRequests {
		t.Fatalf("got %v, want 429 ResponseError", err)
	}
}

func TestLatestKeepsLastMessageEvent(t *testing.T) {
	var gotQuery, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotPath = r.URL.Path
		fmt.Fprintln(w, `{"id":"o1","time":1,"event":"open","topic":"s"}`)
		fmt.Fprintln(w, `{"id":"a","time":10,"event":"message","topic":"s","message":"first"}`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `not json`)
		fmt.Fprintln(w, `{"id":"b","time":20,"event":"message","topic":"s","message":"second","title":"watchdog_state"}`)
		fmt.Fprintln(w, `{"id":"","time":30,"event":"message","topic":"s","message":"no id"}`)
		fmt.Fprintln(w, `{"id":"k","time":40,"event":"keepalive","topic":"s"}`)
	}))
	defer srv.Close()

	msg, err := New(srv.URL).Latest(context.Background(), "s")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if msg == nil || msg.ID != "b" || msg.Message != "second" || msg.Title != "watchdog_state" {
		t.Fatalf("got %+v, want message b", msg)
	}
	if gotPath != "/s/json" {
		t.Errorf("path: got %q", gotPath)
	}
	if !strings.Contains(gotQuery, "poll=1") || !strings.Contains(gotQuery, "since=latest") {
		t.Errorf("query: got %q", gotQuery)
	}
}

func TestLatestEmptyTopic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"id":"o1","time":1,"event":"open","topic":"s"}`)
	}))
	defer srv.Close()

	msg, err := New(srv.URL).Latest(context.Background(), "s")
	if err != nil || msg != nil {
		t.Fatalf("got (%+v, %v), want (nil, nil)", msg, err)
	}
}

func TestHTTPFallbackOnlyForPublicHost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprintln(w, `{"id":"a","time":10,"event":"message","topic":"s","message":"ok"}`)
	}))
	defer srv.Close()
	httpsBase := "https://" + strings.TrimPrefix(srv.URL, "http://")

	// WHAT: an https base that fails on TLS is retried over http once.
	// WHY: only the public relay is known to serve the same API on both.
	c := New(httpsBase)
	c.fallbackHost = "127.0.0.1"
	msg, err := c.Latest(context.Background(), "s")
	if err != nil || msg == nil || msg.ID != "a" {
		t.Fatalf("fallback: got (%+v, %v)", msg, err)
	}

	other := New(httpsBase)
	other.fallbackHost = "ntfy.sh"
	if _, err := other.Latest(context.Background(), "s"); err == nil {
		t.Fatal("non-public host fell back to http")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("plain http hits: got %d, want 1", got)
	}
}

func TestTopicRequired(t *testing.T) {
	c := New("http://127.0.0.1:1")
	if _, err := c.Publish(context.Background(), " / ", "m", ""); err == nil {
		t.Error("empty topic accepted by Publish")
	}
	if _, err := c.Latest(context.Background(), ""); err == nil {
		t.Error("empty topic accepted by Latest")
	}
}

func TestPreview(t *testing.T) {
	if got := Preview([]byte("  a\r\nb\nc  ")); got != "a b c" {
		t.Errorf("flatten: got %q", got)
	}
	long := strings.Repeat("长", 300)
	got := Preview([]byte(long))
	if utf8.RuneCountInString(got) != 221 || !strings.HasSuffix(got, "…") {
		t.Errorf("truncate: %d runes", utf8.RuneCountInString(got))
	}
}

func TestGenerateTopic(t *testing.T) {
	a, b := GenerateTopic(DefaultTopicPrefix), GenerateTopic(DefaultTopicPrefix)
	if a == b {
		t.Error("topics collide")
	}
	if !strings.HasPrefix(a, "uestcjwc-") || len(a) != len("uestcjwc-")+24 {
		t.Errorf("shape: %q", a)
	}
}
