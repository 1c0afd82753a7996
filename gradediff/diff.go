// Package gradediff compares two canonical grade states and renders the
// differences as short highlight lines.
package gradediff

import (
	"strings"

	"github.com/hazyhaar/gradewatch/gradestate"
)

// Highlight line markers.
const (
	MarkAdded   = "+"
	MarkChanged = "~"
)

// Diff is the result of Compute. A record that disappeared from the new
// state counts as changed and gets its own highlight line.
type Diff struct {
	FinalAdded   int
	FinalChanged int
	UsualAdded   int
	UsualChanged int

	// Highlights holds one line per added, changed or removed record, in
	// the order final-added/changed, final-removed, usual-added/changed,
	// usual-removed.
	Highlights []string

	// CourseNames lists the trimmed, non-empty course names touched by
	// the diff, deduplicated in first-seen order.
	CourseNames []string
}

// Total is the number of added or changed records.
func (d Diff) Total() int {
	return d.FinalAdded + d.FinalChanged + d.UsualAdded + d.UsualChanged
}

// HasAdditions reports whether any highlight is an addition.
func (d Diff) HasAdditions() bool { return d.hasMark(MarkAdded) }

// HasChanges reports whether any highlight is a change or removal.
func (d Diff) HasChanges() bool { return d.hasMark(MarkChanged) }

func (d Diff) hasMark(mark string) bool {
	for _, h := range d.Highlights {
		if strings.HasPrefix(strings.TrimLeft(h, " \t"), mark) {
			return true
		}
	}
	return false
}

// Compute returns the changes from one state to the next. Both states are
// expected to be canonical; comparisons are exact string equality.
func Compute(from, to *gradestate.State) Diff {
	var d Diff
	names := newNameSet()

	oldFinal := make(map[string]gradestate.Final, len(from.FinalGrades))
	for _, g := range from.FinalGrades {
		oldFinal[g.Key()] = g
	}
	newFinal := make(map[string]struct{}, len(to.FinalGrades))
	for _, g := range to.FinalGrades {
		newFinal[g.Key()] = struct{}{}
		prev, ok := oldFinal[g.Key()]
		switch {
		case !ok:
			d.FinalAdded++
			d.Highlights = append(d.Highlights, MarkAdded+" 期末 "+g.CourseName+"："+FormatFinal(g))
			names.add(g.CourseName)
		case !finalEqual(prev, g):
			d.FinalChanged++
			d.Highlights = append(d.Highlights, MarkChanged+" 期末 "+g.CourseName+"："+FormatFinal(prev)+" -> "+FormatFinal(g))
			names.add(g.CourseName)
		}
	}
	for _, g := range from.FinalGrades {
		if _, ok := newFinal[g.Key()]; ok {
			continue
		}
		d.FinalChanged++
		d.Highlights = append(d.Highlights, MarkChanged+" 期末 "+g.CourseName+"：条目消失")
		names.add(g.CourseName)
	}

	oldUsual := make(map[string]gradestate.Usual, len(from.UsualGrades))
	for _, g := range from.UsualGrades {
		oldUsual[g.Key()] = g
	}
	newUsual := make(map[string]struct{}, len(to.UsualGrades))
	for _, g := range to.UsualGrades {
		newUsual[g.Key()] = struct{}{}
		prev, ok := oldUsual[g.Key()]
		switch {
		case !ok:
			d.UsualAdded++
			d.Highlights = append(d.Highlights, MarkAdded+" 平时 "+g.CourseName+"："+FormatScore(g.UsualScore))
			names.add(g.CourseName)
		case prev.UsualScore != g.UsualScore:
			d.UsualChanged++
			d.Highlights = append(d.Highlights, MarkChanged+" 平时 "+g.CourseName+"："+FormatScore(prev.UsualScore)+" -> "+FormatScore(g.UsualScore))
			names.add(g.CourseName)
		}
	}
	for _, g := range from.UsualGrades {
		if _, ok := newUsual[g.Key()]; ok {
			continue
		}
		d.UsualChanged++
		d.Highlights = append(d.Highlights, MarkChanged+" 平时 "+g.CourseName+"：条目消失")
		names.add(g.CourseName)
	}

	d.CourseNames = names.list
	return d
}

func finalEqual(a, b gradestate.Final) bool {
	return a.FinalExamScore == b.FinalExamScore &&
		a.OverallScore == b.OverallScore &&
		a.MakeupScore == b.MakeupScore &&
		a.FinalScore == b.FinalScore &&
		a.GPA == b.GPA
}

// FormatFinal renders the non-empty scores of g as
// "总评 X / 期末 Y / 补考 Z / 最终 W", or "-" when all are empty.
func FormatFinal(g gradestate.Final) string {
	var parts []string
	for _, p := range []struct{ label, score string }{
		{"总评", g.OverallScore},
		{"期末", g.FinalExamScore},
		{"补考", g.MakeupScore},
		{"最终", g.FinalScore},
	} {
		if strings.TrimSpace(p.score) != "" {
			parts = append(parts, p.label+" "+FormatScore(p.score))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " / ")
}

// FormatScore trims a score, rendering blanks as "-".
func FormatScore(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	return s
}

type nameSet struct {
	seen map[string]struct{}
	list []string
}

func newNameSet() *nameSet { return &nameSet{seen: make(map[string]struct{})} }

func (n *nameSet) add(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if _, ok := n.seen[name]; ok {
		return
	}
	n.seen[name] = struct{}{}
	n.list = append(n.list, name)
}
