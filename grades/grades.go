// Package grades holds the records scraped from the portal's grade reports.
//
// All score fields are kept as the portal renders them. Scores can be
// pass/fail markers or blank, so nothing is coerced to numbers.
package grades

import (
	"strings"
	"time"
)

// FinalGrade is one row of the final-grade report. Field order follows the
// report's column order.
type FinalGrade struct {
	Semester       string `json:"semester"`
	CourseCode     string `json:"courseCode"`
	CourseID       string `json:"courseId"`
	CourseName     string `json:"courseName"`
	CourseType     string `json:"courseType"`
	Credit         string `json:"credit"`
	FinalExamScore string `json:"finalExamScore"`
	OverallScore   string `json:"overallScore"`
	MakeupScore    string `json:"makeupScore"`
	FinalScore     string `json:"finalScore"`
	GPA            string `json:"gpa"`
}

// FinalGradeColumns is the minimum number of cells a final-grade row needs.
const FinalGradeColumns = 11

// FinalGradeFromRow maps a row of cell texts onto a FinalGrade. It reports
// false when the row has fewer than FinalGradeColumns cells.
func FinalGradeFromRow(row []string) (FinalGrade, bool) {
	if len(row) < FinalGradeColumns {
		return FinalGrade{}, false
	}
	return FinalGrade{
		Semester:       row[0],
		CourseCode:     row[1],
		CourseID:       row[2],
		CourseName:     row[3],
		CourseType:     row[4],
		Credit:         row[5],
		FinalExamScore: row[6],
		OverallScore:   row[7],
		MakeupScore:    row[8],
		FinalScore:     row[9],
		GPA:            row[10],
	}, true
}

// UsualGrade is one row of the coursework ("usual") grade report.
type UsualGrade struct {
	Semester   string `json:"semester"`
	CourseCode string `json:"courseCode"`
	CourseID   string `json:"courseId"`
	CourseName string `json:"courseName"`
	CourseType string `json:"courseType"`
	Credit     string `json:"credit"`
	UsualScore string `json:"usualScore"`
}

// UsualGradeColumns is the number of leading cells a usual-grade row needs.
// Extra trailing cells are ignored.
const UsualGradeColumns = 7

// UsualGradeFromRow maps the first UsualGradeColumns cells of row.
func UsualGradeFromRow(row []string) (UsualGrade, bool) {
	if len(row) < UsualGradeColumns {
		return UsualGrade{}, false
	}
	return UsualGrade{
		Semester:   row[0],
		CourseCode: row[1],
		CourseID:   row[2],
		CourseName: row[3],
		CourseType: row[4],
		Credit:     row[5],
		UsualScore: row[6],
	}, true
}

// Snapshot is everything fetched for one semester in one run.
type Snapshot struct {
	SemesterID  string       `json:"semesterId"`
	FetchedAt   time.Time    `json:"fetchedAt"`
	FinalGrades []FinalGrade `json:"finalGrades"`
	UsualGrades []UsualGrade `json:"usualGrades"`
}

// SemesterOption is an entry of the portal's semester selector.
type SemesterOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IsAllSemesters reports whether the option is a placeholder such as
// "全部" or "请选择" rather than a concrete term.
func (o SemesterOption) IsAllSemesters() bool {
	name := strings.ToLower(o.Name)
	return strings.Contains(name, "全部") ||
		strings.Contains(name, "all") ||
		strings.Contains(name, "请选择")
}
