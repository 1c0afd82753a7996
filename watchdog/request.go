package watchdog

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/hazyhaar/gradewatch/horosafe"
	"github.com/hazyhaar/gradewatch/relay"
)

// Request is one watchdog invocation. Password may be empty, in which case
// only a session kept in the browser profile can authenticate.
type Request struct {
	Topic         string `json:"topic"`
	Account       string `json:"account"`
	Password      string `json:"password"`
	ServerBaseURL string `json:"ntfyServerBaseUrl,omitempty"`
	SemesterID    string `json:"semesterId,omitempty"`
	StateTopic    string `json:"stateTopic,omitempty"`
}

// Result summarises a run.
type Result struct {
	Pushed              bool   `json:"pushed"`
	BaselineInitialized bool   `json:"baselineInitialized"`
	PublishID           string `json:"publishId,omitempty"`
	Title               string `json:"title,omitempty"`
	NotifyTopic         string `json:"notifyTopic"`
	StateTopic          string `json:"stateTopic"`
	StatePublishID      string `json:"statePublishId"`
	SemesterID          string `json:"semesterId"`
	CurrentHash         string `json:"currentHash"`
	PreviousHash        string `json:"previousHash,omitempty"`
}

// ValidationError marks a caller-input fault. Adapters answer it with 400.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "watchdog: invalid request: " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

var semesterIDPattern = regexp.MustCompile(`^[0-9]+$`)

var topicRule = validation.By(func(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	return horosafe.ValidateTopic(s)
})

var serverRule = validation.By(func(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(relay.NormalizeBaseURL(s))
	if err != nil || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}
	return nil
})

// Normalize trims every field and fills the defaults: the public relay and
// "<topic>-state" as the state topic.
func (r Request) Normalize() Request {
	r.Topic = strings.TrimSpace(r.Topic)
	r.Account = strings.TrimSpace(r.Account)
	r.ServerBaseURL = relay.NormalizeBaseURL(r.ServerBaseURL)
	r.SemesterID = strings.TrimSpace(r.SemesterID)
	r.StateTopic = strings.TrimSpace(r.StateTopic)
	if r.StateTopic == "" && r.Topic != "" {
		r.StateTopic = r.Topic + "-state"
	}
	return r
}

// Validate checks a normalized request.
func (r Request) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Topic, validation.Required, topicRule),
		validation.Field(&r.Account, validation.Required),
		validation.Field(&r.ServerBaseURL, serverRule),
		validation.Field(&r.SemesterID, validation.Match(semesterIDPattern)),
		validation.Field(&r.StateTopic, topicRule),
	)
	if err != nil {
		return &ValidationError{Err: err}
	}
	if r.StateTopic == r.Topic {
		return &ValidationError{Err: errors.New("stateTopic: must differ from topic")}
	}
	return nil
}
