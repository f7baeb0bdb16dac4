package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDealStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from    DealStatus
		to      DealStatus
		allowed bool
	}{
		{DealCreated, DealInProgress, true},
		{DealCreated, DealExpired, true},
		{DealCreated, DealCanceled, true},
		{DealCreated, DealReady, false},
		{DealInProgress, DealReady, true},
		{DealInProgress, DealDispute, true},
		{DealInProgress, DealExpired, true},
		{DealReady, DealDispute, true},
		{DealReady, DealCanceled, false},
		{DealDispute, DealReady, true},
		{DealDispute, DealCanceled, true},
		{DealDispute, DealExpired, false},
		{DealExpired, DealReady, false},
		{DealCanceled, DealInProgress, false},
		{DealMilk, DealCreated, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestDealStatus_Open(t *testing.T) {
	assert.True(t, DealCreated.Open())
	assert.True(t, DealInProgress.Open())
	assert.False(t, DealReady.Open())
	assert.False(t, DealDispute.Open())
	assert.False(t, DealExpired.Open())
}

func TestDeal_Expired(t *testing.T) {
	now := time.Now()
	d := &Deal{ExpiresAt: now}

	assert.False(t, d.Expired(now))
	assert.True(t, d.Expired(now.Add(time.Second)))
}
