// Package period infers the billing month of a debit batch from its rows.
package period

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoValidDates is returned when no row carries a usable transmission date.
var ErrNoValidDates = errors.New("no valid transmission dates found")

// Period is a billing month.
type Period struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Infer returns the (year, month) bucket holding the most dates. Nil dates are
// ignored. When buckets tie, the one encountered first in input order wins.
func Infer(dates []*time.Time) (Period, error) {
	counts := make(map[Period]int)
	var order []Period

	for _, d := range dates {
		if d == nil {
			continue
		}
		key := Period{Month: int(d.Month()), Year: d.Year()}
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++
	}

	if len(order) == 0 {
		return Period{}, ErrNoValidDates
	}

	best := order[0]
	for _, key := range order[1:] {
		if counts[key] > counts[best] {
			best = key
		}
	}
	return best, nil
}
