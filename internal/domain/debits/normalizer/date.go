package normalizer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// serialEpoch is day zero of the spreadsheet 1900 date system as the legacy
// importer counted it. Serials from 61 on match what spreadsheet tools display;
// earlier ones keep the historical one-day offset of the phantom 1900-02-29.
var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// maxSerial is 9999-12-31.
const maxSerial = 2958465

var (
	dmyPattern = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})$`)
	isoPattern = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
)

// fallbackLayouts are tried after the day-first and ISO patterns.
var fallbackLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02.01.2006",
	"02-Jan-2006",
	"02 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseDate converts a cell into a calendar date (midnight UTC). It never
// fails loudly: anything it cannot read reports false.
func ParseDate(c Cell) (time.Time, bool) {
	switch c.kind {
	case KindDate:
		return civil(c.date), true
	case KindNumber:
		return SerialToDate(c.num)
	case KindText:
		return parseDateText(strings.TrimSpace(c.raw))
	default:
		return time.Time{}, false
	}
}

// SerialToDate converts a spreadsheet day serial to a date, dropping any
// time-of-day fraction.
func SerialToDate(serial float64) (time.Time, bool) {
	if math.IsNaN(serial) || math.IsInf(serial, 0) || serial < 0 || serial > maxSerial {
		return time.Time{}, false
	}
	return serialEpoch.AddDate(0, 0, int(math.Floor(serial))), true
}

func parseDateText(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}

	// day first, the convention of the banks we receive files from
	if m := dmyPattern.FindStringSubmatch(s); m != nil {
		return makeDate(m[3], m[2], m[1])
	}

	if m := isoPattern.FindStringSubmatch(s); m != nil {
		return makeDate(m[1], m[2], m[3])
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil(t), true
		}
	}

	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return SerialToDate(v)
	}

	return time.Time{}, false
}

// makeDate builds a date from its parts, rejecting values that would roll over
// (31/02/2024 is not 2024-03-02).
func makeDate(year, month, day string) (time.Time, bool) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)

	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
