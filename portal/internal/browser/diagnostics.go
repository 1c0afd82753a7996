package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-rod/rod/lib/proto"
)

var nowFunc = time.Now

// diagnosticStatuses are the document statuses whose bodies get logged.
var diagnosticStatuses = []int{202, 400, 403, 500}

// Diagnostics buffers tab-separated event lines and appends them to
// {timestamp}_diagnostics.log on Flush.
type Diagnostics struct {
	mu    sync.Mutex
	path  string
	lines []string
	now   func() time.Time
}

// NewDiagnostics creates dir and names the log after start.
func NewDiagnostics(dir string, start time.Time) (*Diagnostics, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("browser: diagnostics dir: %w", err)
	}
	return &Diagnostics{
		path: filepath.Join(dir, start.Format("20060102_150405")+"_diagnostics.log"),
		now:  nowFunc,
	}, nil
}

// Path is the log file the lines are appended to.
func (d *Diagnostics) Path() string { return d.path }

// Add queues one line, prefixed with the current time.
func (d *Diagnostics) Add(format string, args ...any) {
	line := d.now().Format(time.RFC3339Nano) + "\t" + fmt.Sprintf(format, args...)
	d.mu.Lock()
	d.lines = append(d.lines, line)
	d.mu.Unlock()
}

// Flush appends the queued lines to the log and empties the queue.
func (d *Diagnostics) Flush() error {
	d.mu.Lock()
	lines := d.lines
	d.lines = nil
	d.mu.Unlock()
	if len(lines) == 0 {
		return nil
	}

	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("browser: diagnostics: %w", err)
	}
	_, werr := f.WriteString(strings.Join(lines, "\n") + "\n")
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("browser: diagnostics: %w", werr)
	}
	return cerr
}

// FlushDiagnostics writes pending diagnostic lines, if diagnostics are on.
func (s *Session) FlushDiagnostics() error {
	if s.diag == nil {
		return nil
	}
	return s.diag.Flush()
}

func formatHeaders(h proto.NetworkHeaders) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+h[k].Str())
	}
	return strings.Join(parts, "; ")
}

func consoleText(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		switch {
		case a.Value.Nil() && a.Description != "":
			parts = append(parts, a.Description)
		case a.Type == proto.RuntimeRemoteObjectTypeString:
			parts = append(parts, a.Value.Str())
		default:
			parts = append(parts, a.Value.JSON("", ""))
		}
	}
	return strings.Join(parts, " ")
}

// watchEvents records the main document status and, with diagnostics on,
// the console, page errors and document traffic.
func (s *Session) watchEvents() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopEvents = cancel
	page := s.page.Context(ctx)
	d := s.diag

	bodies := make(map[proto.NetworkRequestID]int)
	var bodiesMu sync.Mutex

	wait := page.EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			if e.Type != proto.NetworkResourceTypeDocument {
				return
			}
			s.reqMu.Lock()
			s.requests[e.RequestID] = e.Request.URL
			s.reqMu.Unlock()
			if d != nil {
				d.Add("request\t%s\t%s\t%s", e.Request.Method, e.Request.URL, formatHeaders(e.Request.Headers))
			}
		},
		func(e *proto.NetworkResponseReceived) {
			if e.Type != proto.NetworkResourceTypeDocument {
				return
			}
			if e.FrameID == "" || e.FrameID == s.page.FrameID {
				s.status.Store(int64(e.Response.Status))
			}
			if d == nil {
				return
			}
			d.Add("response\t%d\t%s", e.Response.Status, e.Response.URL)
			if slices.Contains(diagnosticStatuses, e.Response.Status) {
				bodiesMu.Lock()
				bodies[e.RequestID] = e.Response.Status
				bodiesMu.Unlock()
			}
		},
		func(e *proto.NetworkLoadingFinished) {
			if d == nil {
				return
			}
			bodiesMu.Lock()
			status, ok := bodies[e.RequestID]
			delete(bodies, e.RequestID)
			bodiesMu.Unlock()
			if !ok {
				return
			}
			go func(id proto.NetworkRequestID) {
				res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(page)
				if err != nil {
					d.Add("response-body[%d]\tERROR\t%v", status, err)
					return
				}
				d.Add("response-body[%d]\tlen=%d", status, utf8.RuneCountInString(res.Body))
			}(e.RequestID)
		},
		func(e *proto.NetworkLoadingFailed) {
			s.reqMu.Lock()
			url, ok := s.requests[e.RequestID]
			delete(s.requests, e.RequestID)
			s.reqMu.Unlock()
			if d != nil && ok {
				d.Add("requestfailed\t%s\t%s", url, e.ErrorText)
			}
		},
		func(e *proto.RuntimeConsoleAPICalled) {
			if d != nil {
				d.Add("console[%s]\t%s", e.Type, consoleText(e.Args))
			}
		},
		func(e *proto.RuntimeExceptionThrown) {
			if d == nil || e.ExceptionDetails == nil {
				return
			}
			msg := e.ExceptionDetails.Text
			if ex := e.ExceptionDetails.Exception; ex != nil && ex.Description != "" {
				msg = ex.Description
			}
			d.Add("pageerror\t%s", msg)
		},
	)
	go wait()
}
