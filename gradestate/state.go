// Package gradestate is the compact, versioned form of a grades snapshot.
//
// A State keeps only what change detection needs. It can be embedded in
// free text as "watchdog_state:v1:" followed by the unpadded base64url
// encoding of the gzipped canonical JSON, and it hashes to a stable
// SHA-256 digest used to suppress duplicate notifications.
package gradestate

import (
	"bytes"
	"cmp"
	"compress/gzip"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/hazyhaar/gradewatch/grades"
)

// Prefix marks an embedded state token.
const Prefix = "watchdog_state:v1:"

// maxDecoded bounds the inflated JSON of a token read from untrusted text.
const maxDecoded = 4 << 20

// State is the canonical v1 schema. Keys are deliberately short since the
// token travels inside notification bodies.
type State struct {
	SemesterID  string  `json:"sem"`
	FinalGrades []Final `json:"f"`
	UsualGrades []Usual `json:"u"`
}

// Final is the diff-relevant projection of a grades.FinalGrade.
type Final struct {
	CourseCode     string `json:"cc"`
	CourseID       string `json:"cid"`
	CourseName     string `json:"n"`
	FinalExamScore string `json:"fes"`
	OverallScore   string `json:"os"`
	MakeupScore    string `json:"ms"`
	FinalScore     string `json:"fs"`
	GPA            string `json:"g"`
}

// Key identifies the record within a semester.
func (f Final) Key() string { return f.CourseCode + "#" + f.CourseID }

// Usual is the diff-relevant projection of a grades.UsualGrade.
type Usual struct {
	CourseCode string `json:"cc"`
	CourseID   string `json:"cid"`
	CourseName string `json:"n"`
	UsualScore string `json:"s"`
}

// Key identifies the record within a semester.
func (u Usual) Key() string { return u.CourseCode + "#" + u.CourseID }

// Empty returns a state with no records for semesterID.
func Empty(semesterID string) *State {
	return &State{SemesterID: semesterID, FinalGrades: []Final{}, UsualGrades: []Usual{}}
}

// FromSnapshot projects a snapshot onto the canonical schema. Credit,
// course type and the semester label column are dropped; every kept field
// is trimmed and records are sorted by (course code, course id).
func FromSnapshot(s *grades.Snapshot) *State {
	st := Empty(s.SemesterID)
	for _, g := range s.FinalGrades {
		st.FinalGrades = append(st.FinalGrades, Final{
			CourseCode:     g.CourseCode,
			CourseID:       g.CourseID,
			CourseName:     g.CourseName,
			FinalExamScore: g.FinalExamScore,
			OverallScore:   g.OverallScore,
			MakeupScore:    g.MakeupScore,
			FinalScore:     g.FinalScore,
			GPA:            g.GPA,
		})
	}
	for _, g := range s.UsualGrades {
		st.UsualGrades = append(st.UsualGrades, Usual{
			CourseCode: g.CourseCode,
			CourseID:   g.CourseID,
			CourseName: g.CourseName,
			UsualScore: g.UsualScore,
		})
	}
	return st.Canonical()
}

// Canonical returns a trimmed, sorted copy of st. Applying it to an already
// canonical state yields an equal state.
func (st *State) Canonical() *State {
	out := Empty(strings.TrimSpace(st.SemesterID))
	for _, f := range st.FinalGrades {
		out.FinalGrades = append(out.FinalGrades, Final{
			CourseCode:     strings.TrimSpace(f.CourseCode),
			CourseID:       strings.TrimSpace(f.CourseID),
			CourseName:     strings.TrimSpace(f.CourseName),
			FinalExamScore: strings.TrimSpace(f.FinalExamScore),
			OverallScore:   strings.TrimSpace(f.OverallScore),
			MakeupScore:    strings.TrimSpace(f.MakeupScore),
			FinalScore:     strings.TrimSpace(f.FinalScore),
			GPA:            strings.TrimSpace(f.GPA),
		})
	}
	for _, u := range st.UsualGrades {
		out.UsualGrades = append(out.UsualGrades, Usual{
			CourseCode: strings.TrimSpace(u.CourseCode),
			CourseID:   strings.TrimSpace(u.CourseID),
			CourseName: strings.TrimSpace(u.CourseName),
			UsualScore: strings.TrimSpace(u.UsualScore),
		})
	}
	slices.SortStableFunc(out.FinalGrades, func(a, b Final) int {
		return cmp.Or(strings.Compare(a.CourseCode, b.CourseCode), strings.Compare(a.CourseID, b.CourseID))
	})
	slices.SortStableFunc(out.UsualGrades, func(a, b Usual) int {
		return cmp.Or(strings.Compare(a.CourseCode, b.CourseCode), strings.Compare(a.CourseID, b.CourseID))
	})
	return out
}

// MarshalCanonical serialises st with a stable key order and no HTML
// escaping. It does not canonicalise st first.
func (st *State) MarshalCanonical() ([]byte, error) {
	norm := *st
	if norm.FinalGrades == nil {
		norm.FinalGrades = []Final{}
	}
	if norm.UsualGrades == nil {
		norm.UsualGrades = []Usual{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&norm); err != nil {
		return nil, fmt.Errorf("gradestate: marshal: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Hash returns the lowercase hex SHA-256 of the canonical JSON of st.
func Hash(st *State) (string, error) {
	data, err := st.MarshalCanonical()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

// Encode returns the embeddable token for st, prefix included.
func Encode(st *State) (string, error) {
	data, err := st.MarshalCanonical()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return "", fmt.Errorf("gradestate: gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gradestate: gzip: %w", err)
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeFromText finds the last token embedded in text and decodes it.
// Any surrounding prose is ignored. It reports false when no token is
// present or the token is corrupt.
func DecodeFromText(text string) (*State, bool) {
	idx := strings.LastIndex(text, Prefix)
	if idx < 0 {
		return nil, false
	}
	rest := text[idx+len(Prefix):]
	end := 0
	for end < len(rest) && isBase64URL(rest[end]) {
		end++
	}
	if end == 0 {
		return nil, false
	}

	token := rest[:end]
	if m := len(token) % 4; m != 0 {
		token += strings.Repeat("=", 4-m)
	}
	compressed, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, false
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, false
	}
	defer zr.Close()
	data, err := io.ReadAll(io.LimitReader(zr, maxDecoded))
	if err != nil {
		return nil, false
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, false
	}
	if st.FinalGrades == nil {
		st.FinalGrades = []Final{}
	}
	if st.UsualGrades == nil {
		st.UsualGrades = []Usual{}
	}
	return &st, true
}

func isBase64URL(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '-' || c == '_'
}
