package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownDuration(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, 10 * time.Minute},
		{2, 20 * time.Minute},
		{3, 40 * time.Minute},
		{4, 80 * time.Minute},
		{5, 120 * time.Minute},
		{6, 120 * time.Minute},
		{20, 120 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CooldownDuration(tt.failures), "failures=%d", tt.failures)
	}
}

func TestHostHealthRecordInCooldown(t *testing.T) {
	now := time.Now()
	rec := &HostHealthRecord{Host: "esx01"}
	assert.False(t, rec.InCooldown(now), "no cooldown armed")

	until := now.Add(5 * time.Minute)
	rec.CooldownUntil = &until
	assert.True(t, rec.InCooldown(now))
	assert.False(t, rec.InCooldown(until), "window end is exclusive")
	assert.False(t, rec.InCooldown(until.Add(time.Second)))
}

func TestHostHealthRecordCloneIsDeep(t *testing.T) {
	now := time.Now()
	rec := &HostHealthRecord{Host: "esx01", LastSuccessAt: &now}

	cp := rec.Clone()
	later := now.Add(time.Hour)
	cp.LastSuccessAt = &later

	assert.Equal(t, now, *rec.LastSuccessAt)
}
