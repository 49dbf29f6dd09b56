package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextResetDate(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "mid month",
			in:   time.Date(2026, time.March, 10, 15, 30, 0, 0, time.UTC),
			want: time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "first of month still advances",
			in:   time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "december rolls the year",
			in:   time.Date(2026, time.December, 31, 23, 59, 59, 0, time.UTC),
			want: time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextResetDate(tt.in))
		})
	}
}

func TestLotExpired(t *testing.T) {
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	assert.False(t, CreditLot{ExpiresAt: now.Add(time.Second)}.Expired(now))
	assert.True(t, CreditLot{ExpiresAt: now}.Expired(now))
	assert.True(t, CreditLot{ExpiresAt: now.Add(-time.Second)}.Expired(now))
}
