package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNowIsUTCAtMicrosecondPrecision(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before))
	assert.Zero(t, got.Nanosecond()%int(time.Microsecond), "sub-microsecond digits are dropped")
}
