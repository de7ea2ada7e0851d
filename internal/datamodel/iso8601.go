package datamodel

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	isoDateExtended = `([+-]?[0-9]{4,})-([0-9]{2})-([0-9]{2})`
	isoDateBasic    = `([+-]?[0-9]{4,})([0-9]{2})([0-9]{2})`
	isoTimeExtended = `([0-9]{2})(?::([0-9]{2})(?::([0-9]{2})(?:[.,]([0-9]+))?)?)?(Z|[+-][0-9]{2}(?::[0-9]{2})?)?`
	isoTimeBasic    = `([0-9]{2})(?:([0-9]{2})(?:([0-9]{2})(?:[.,]([0-9]+))?)?)?(Z|[+-][0-9]{2}(?:[0-9]{2})?)?`
)

var (
	reDateExtended     = regexp.MustCompile(`^` + isoDateExtended + `$`)
	reDateBasic        = regexp.MustCompile(`^` + isoDateBasic + `$`)
	reTimeExtended     = regexp.MustCompile(`^` + isoTimeExtended + `$`)
	reTimeBasic        = regexp.MustCompile(`^` + isoTimeBasic + `$`)
	reDateTimeExtended = regexp.MustCompile(`^` + isoDateExtended + `T` + isoTimeExtended + `$`)
	reDateTimeBasic    = regexp.MustCompile(`^` + isoDateBasic + `T` + isoTimeBasic + `$`)
)

type dateFields struct {
	year, month, day int
}

type timeFields struct {
	hour, minute, second, nanos int
	zone                        string
}

func parseISODate(s string, loc *time.Location) (time.Time, error) {
	m := reDateExtended.FindStringSubmatch(s)
	if m == nil {
		m = reDateBasic.FindStringSubmatch(s)
	}
	if m == nil {
		return time.Time{}, fmt.Errorf("The value didn't match the expected pattern: %s", isoDateExtended)
	}
	d, err := toDateFields(m[1:4])
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.year, time.Month(d.month), d.day, 0, 0, 0, 0, loc), nil
}

func parseISOTime(s string, loc *time.Location) (time.Time, error) {
	m := reTimeExtended.FindStringSubmatch(s)
	if m == nil {
		m = reTimeBasic.FindStringSubmatch(s)
	}
	if m == nil {
		return time.Time{}, fmt.Errorf("The value didn't match the expected pattern: %s", isoTimeExtended)
	}
	t, err := toTimeFields(m[1:6])
	if err != nil {
		return time.Time{}, err
	}
	zone, err := zoneOf(t.zone, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(1970, time.January, 1, t.hour, t.minute, t.second, t.nanos, zone), nil
}

func parseISODateTime(s string, loc *time.Location) (time.Time, error) {
	m := reDateTimeExtended.FindStringSubmatch(s)
	if m == nil {
		m = reDateTimeBasic.FindStringSubmatch(s)
	}
	if m == nil {
		return time.Time{}, fmt.Errorf("The value didn't match the expected pattern: %sT%s", isoDateExtended, isoTimeExtended)
	}
	d, err := toDateFields(m[1:4])
	if err != nil {
		return time.Time{}, err
	}
	t, err := toTimeFields(m[4:9])
	if err != nil {
		return time.Time{}, err
	}
	zone, err := zoneOf(t.zone, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.year, time.Month(d.month), d.day, t.hour, t.minute, t.second, t.nanos, zone), nil
}

func toDateFields(groups []string) (dateFields, error) {
	year, err := strconv.Atoi(groups[0])
	if err != nil {
		return dateFields{}, fmt.Errorf("Year is out of range: %s", groups[0])
	}
	month, _ := strconv.Atoi(groups[1])
	day, _ := strconv.Atoi(groups[2])
	if month < 1 || month > 12 {
		return dateFields{}, fmt.Errorf("Month must be in the range of 1 and 12, but was %d", month)
	}
	if last := daysIn(year, time.Month(month)); day < 1 || day > last {
		return dateFields{}, fmt.Errorf("Day must be in the range of 1 and %d, but was %d", last, day)
	}
	return dateFields{year: year, month: month, day: day}, nil
}

// toTimeFields converts hour, minute, second, fraction and zone groups. Absent
// groups are empty strings.
func toTimeFields(groups []string) (timeFields, error) {
	var t timeFields
	t.hour, _ = strconv.Atoi(groups[0])
	if groups[1] != "" {
		t.minute, _ = strconv.Atoi(groups[1])
	}
	if groups[2] != "" {
		t.second, _ = strconv.Atoi(groups[2])
	}
	if frac := groups[3]; frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		n, _ := strconv.Atoi(frac)
		for i := len(frac); i < 9; i++ {
			n *= 10
		}
		t.nanos = n
	}
	t.zone = groups[4]

	if t.hour == 24 && (t.minute != 0 || t.second != 0 || t.nanos != 0) || t.hour > 24 {
		return timeFields{}, fmt.Errorf("Hour must be in the range of 0 and 23 (exceptionally 24), but was %d", t.hour)
	}
	if t.minute > 59 {
		return timeFields{}, fmt.Errorf("Minute must be in the range of 0 and 59, but was %d", t.minute)
	}
	if t.second > 60 {
		return timeFields{}, fmt.Errorf("Second must be in the range of 0 and 60, but was %d", t.second)
	}
	return t, nil
}

// zoneOf resolves an ISO 8601 zone designator. An empty designator means the
// default location.
func zoneOf(designator string, def *time.Location) (*time.Location, error) {
	switch {
	case designator == "":
		return def, nil
	case designator == "Z":
		return time.UTC, nil
	}

	sign := 1
	if designator[0] == '-' {
		sign = -1
	}
	rest := designator[1:]
	hours, _ := strconv.Atoi(rest[:2])
	minutes := 0
	if len(rest) > 2 {
		mm := rest[2:]
		if mm[0] == ':' {
			mm = mm[1:]
		}
		minutes, _ = strconv.Atoi(mm)
	}
	if hours > 23 {
		return nil, fmt.Errorf("Offset hours must be in the range of 0 and 23, but was %d", hours)
	}
	if minutes > 59 {
		return nil, fmt.Errorf("Offset minutes must be in the range of 0 and 59, but was %d", minutes)
	}
	offset := sign * (hours*3600 + minutes*60)
	if offset == 0 {
		return time.UTC, nil
	}
	return time.FixedZone(designator, offset), nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
