package watchdog

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/gradewatch/gradediff"
	"github.com/hazyhaar/gradewatch/gradestate"
	"github.com/hazyhaar/gradewatch/semester"
)

// StateTitle is the title of every message on the state topic.
const StateTitle = "watchdog_state"

const (
	maxTitleNames  = 4
	maxHighlights  = 10
	timestampStyle = "2006-01-02 15:04:05"
)

// Course names come from the portal's HTML; they go out as plain text.
var textPolicy = bluemonday.StrictPolicy()

func plainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

// Title is the notification title: a fixed one for the baseline run,
// otherwise a prefix telling additions from changes and the first few
// course names.
func Title(d gradediff.Diff, baseline bool) string {
	if baseline {
		return "监控初始化"
	}
	added, changed := d.HasAdditions(), d.HasChanges()
	prefix := "成绩变动"
	switch {
	case added && !changed:
		prefix = "新成绩"
	case changed && !added:
		prefix = "成绩更新"
	}

	var names []string
	for _, n := range d.CourseNames {
		if n = plainText(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return prefix
	}
	shown := names
	if len(shown) > maxTitleNames {
		shown = shown[:maxTitleNames]
	}
	title := prefix + "：" + strings.Join(shown, "、")
	if len(names) > maxTitleNames {
		title += fmt.Sprintf("…(%d)", len(names))
	}
	return title
}

// header is the semester label and the fetch time.
func header(semesterID string, fetchedAt time.Time) string {
	return semester.Label(semesterID) + "\n时间：" + fetchedAt.Format(timestampStyle)
}

// NotificationBody renders the notification: header, counts, up to ten
// highlight lines, then the embedded state token and its hash.
func NotificationBody(semesterID string, fetchedAt time.Time, d gradediff.Diff, token, hash string) string {
	var b strings.Builder
	b.WriteString(header(semesterID, fetchedAt))
	fmt.Fprintf(&b, "\n期末：新增 %d，更新 %d；平时：新增 %d，更新 %d\n",
		d.FinalAdded, d.FinalChanged, d.UsualAdded, d.UsualChanged)

	if len(d.Highlights) > 0 {
		b.WriteString("\n")
		for i, h := range d.Highlights {
			if i == maxHighlights {
				fmt.Fprintf(&b, "… 还有 %d 项\n", len(d.Highlights)-maxHighlights)
				break
			}
			b.WriteString(plainText(h))
			b.WriteString("\n")
		}
	}
	writeTrailer(&b, token, hash)
	return b.String()
}

// StateBody renders the state-topic message: header, token and hash.
func StateBody(semesterID string, fetchedAt time.Time, token, hash string) string {
	var b strings.Builder
	b.WriteString(header(semesterID, fetchedAt))
	b.WriteString("\n")
	writeTrailer(&b, token, hash)
	return b.String()
}

func writeTrailer(b *strings.Builder, token, hash string) {
	b.WriteString("\n")
	b.WriteString(token)
	b.WriteString("\nhash=")
	b.WriteString(hash)
}

var hashPattern = regexp.MustCompile(`hash=([0-9A-Fa-f]+)`)

// ExtractHash returns the hex digest of the last "hash=" line in text.
func ExtractHash(text string) (string, bool) {
	m := hashPattern.FindAllStringSubmatch(text, -1)
	if len(m) == 0 {
		return "", false
	}
	return m[len(m)-1][1], true
}

// encodeState returns the token and hash of st.
func encodeState(st *gradestate.State) (token, hash string, err error) {
	if token, err = gradestate.Encode(st); err != nil {
		return "", "", err
	}
	if hash, err = gradestate.Hash(st); err != nil {
		return "", "", err
	}
	return token, hash, nil
}
