package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestInfer(t *testing.T) {
	tests := []struct {
		name     string
		dates    []*time.Time
		expected Period
	}{
		{
			name:     "majority month wins",
			dates:    []*time.Time{ptr(2024, 3, 5), ptr(2024, 3, 9), ptr(2024, 4, 1)},
			expected: Period{Month: 3, Year: 2024},
		},
		{
			name:     "majority after minority",
			dates:    []*time.Time{ptr(2024, 2, 28), ptr(2024, 3, 1), ptr(2024, 3, 2)},
			expected: Period{Month: 3, Year: 2024},
		},
		{
			name:     "nil dates ignored",
			dates:    []*time.Time{nil, ptr(2023, 12, 30), nil},
			expected: Period{Month: 12, Year: 2023},
		},
		{
			name:     "same month different year are different buckets",
			dates:    []*time.Time{ptr(2023, 3, 1), ptr(2024, 3, 1), ptr(2024, 3, 2)},
			expected: Period{Month: 3, Year: 2024},
		},
		{
			name:     "tie goes to first encountered",
			dates:    []*time.Time{ptr(2024, 4, 1), ptr(2024, 3, 1), ptr(2024, 3, 2), ptr(2024, 4, 2)},
			expected: Period{Month: 4, Year: 2024},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Infer(tc.dates)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestInfer_NoValidDates(t *testing.T) {
	_, err := Infer([]*time.Time{nil, nil})
	assert.ErrorIs(t, err, ErrNoValidDates)

	_, err = Infer(nil)
	assert.ErrorIs(t, err, ErrNoValidDates)
}

func TestPeriod_String(t *testing.T) {
	assert.Equal(t, "2024-03", Period{Month: 3, Year: 2024}.String())
}
