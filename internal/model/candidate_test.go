package model

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueHash(t *testing.T) {
	t.Parallel()

	raw := sha256.Sum256([]byte("capital::6500000"))
	want := hex.EncodeToString(raw[:])

	assert.Equal(t, want, ValueHash("capital", "6500000"))
	// Field is lower-cased and both sides are stripped.
	assert.Equal(t, want, ValueHash("  Capital ", " 6500000\n"))
	// Different value, different hash.
	assert.NotEqual(t, want, ValueHash("capital", "6500001"))
}

func TestRunStatusTransitions(t *testing.T) {
	t.Parallel()

	assert.True(t, RunQueued.CanTransitionTo(RunRunning))
	assert.True(t, RunRunning.CanTransitionTo(RunSuccess))
	assert.True(t, RunRunning.CanTransitionTo(RunFailure))

	assert.False(t, RunQueued.CanTransitionTo(RunSuccess))
	assert.False(t, RunSuccess.CanTransitionTo(RunRunning))
	assert.False(t, RunFailure.CanTransitionTo(RunQueued))
	assert.False(t, RunRunning.CanTransitionTo(RunQueued))
}

func TestCompanyFieldRoundTrip(t *testing.T) {
	t.Parallel()

	c := &Company{Name: "株式会社テスト"}

	assert.True(t, c.SetFieldValue(FieldCapital, "6500000"))
	v, ok := c.FieldValue(FieldCapital)
	assert.True(t, ok)
	assert.Equal(t, "6500000", v)

	assert.True(t, c.SetFieldValue(FieldPhone, "0312345678"))
	v, _ = c.FieldValue(FieldPhone)
	assert.Equal(t, "0312345678", v)

	// Numeric fields refuse non-digit values.
	assert.False(t, c.SetFieldValue(FieldEmployeeCount, "about fifty"))

	// Unknown fields are rejected on both paths.
	assert.False(t, c.SetFieldValue("nope", "x"))
	_, ok = c.FieldValue("nope")
	assert.False(t, ok)
}

func TestBatchStatusPredicates(t *testing.T) {
	t.Parallel()

	assert.True(t, BatchPending.Open())
	assert.True(t, BatchInReview.Open())
	assert.False(t, BatchApproved.Open())

	assert.True(t, BatchApproved.Terminal())
	assert.True(t, BatchRejected.Terminal())
	assert.True(t, BatchPartial.Terminal())
	assert.False(t, BatchPending.Terminal())
}
