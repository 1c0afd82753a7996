// Package semester maps academic terms to the portal's numeric semester ids.
//
// The portal numbers terms linearly from the 2013-2014 academic year:
//
//	first term  = (startYear - 2013) * 40 + 3
//	second term = first term + 20
//
// The current term is inferred from the calendar: the first term starts in
// September, the second in February, and January still belongs to the
// previous year's first term.
package semester

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	BaseYear = 2013
	baseID   = 3
	yearStep = 40
	termStep = 20

	firstTermStartMonth  = time.September
	secondTermStartMonth = time.February
)

// Term is the half of an academic year.
type Term int

const (
	First  Term = 1
	Second Term = 2
)

// String returns the display label used in notifications.
func (t Term) String() string {
	switch t {
	case First:
		return "第一学期"
	case Second:
		return "第二学期"
	default:
		return fmt.Sprintf("Term(%d)", int(t))
	}
}

var (
	ErrYearOutOfRange = errors.New("semester: start year before 2013")
	ErrInvalidTerm    = errors.New("semester: term must be 1 or 2")
	ErrInvalidID      = errors.New("semester: id does not map to a term")
	ErrInvalidRange   = errors.New("semester: year range must be YYYY-YYYY with end = start+1")
)

// Encode returns the semester id for (startYear, term).
func Encode(startYear int, term Term) (int, error) {
	if startYear < BaseYear {
		return 0, fmt.Errorf("%w: %d", ErrYearOutOfRange, startYear)
	}
	id := (startYear-BaseYear)*yearStep + baseID
	switch term {
	case First:
		return id, nil
	case Second:
		return id + termStep, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidTerm, int(term))
	}
}

// EncodeString is Encode rendered as the decimal string the portal expects.
func EncodeString(startYear int, term Term) (string, error) {
	id, err := Encode(startYear, term)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(id), nil
}

// Decode inverts Encode.
func Decode(id int) (int, Term, error) {
	if raw := id - baseID; raw >= 0 && raw%yearStep == 0 {
		return BaseYear + raw/yearStep, First, nil
	}
	if raw := id - baseID - termStep; raw >= 0 && raw%yearStep == 0 {
		return BaseYear + raw/yearStep, Second, nil
	}
	return 0, 0, fmt.Errorf("%w: %d", ErrInvalidID, id)
}

// DecodeString parses a decimal id (surrounding blanks allowed) and decodes it.
func DecodeString(s string) (int, Term, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return Decode(id)
}

// Current returns the academic term containing now.
func Current(now time.Time) (int, Term) {
	year, month := now.Year(), now.Month()
	switch {
	case month >= firstTermStartMonth:
		return year, First
	case month >= secondTermStartMonth:
		return year - 1, Second
	default:
		return year - 1, First
	}
}

// CurrentID returns the semester id of the term containing now.
func CurrentID(now time.Time) string {
	year, term := Current(now)
	id, err := EncodeString(year, term)
	if err != nil {
		// Only reachable with clocks set before 2013.
		return strconv.Itoa(baseID)
	}
	return id
}

// YearRange renders an academic year as "2024-2025".
func YearRange(startYear int) string {
	return fmt.Sprintf("%d-%d", startYear, startYear+1)
}

// ParseYearRange parses "YYYY-YYYY" and returns the start year.
func ParseYearRange(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || end != start+1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
	return start, nil
}

// Label renders a semester id as "2024-2025 第一学期", or "学期ID：<id>"
// when the id does not decode.
func Label(id string) string {
	year, term, err := DecodeString(id)
	if err != nil {
		return "学期ID：" + id
	}
	return YearRange(year) + " " + term.String()
}
