package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casaflow/devicetrust/pkg/docstore"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setupLimiter(t *testing.T) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	limiter := NewLimiter(docstore.NewInMemStore(), WithClock(clock.Now))
	return limiter, clock
}

func TestRecordFailedLogin_BlocksAtThreshold(t *testing.T) {
	limiter, clock := setupLimiter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		result := limiter.RecordFailedLogin(ctx, "user-1", "wrong_password")
		assert.False(t, result.Blocked)
		assert.Equal(t, 4-i, result.AttemptsRemaining)
	}

	fifth := limiter.RecordFailedLogin(ctx, "user-1", "wrong_password")
	require.True(t, fifth.Blocked)

	status := limiter.CheckBlockStatus(ctx, "user-1")
	require.True(t, status.IsBlocked)
	assert.Equal(t, BlockReasonFailedLogins, status.Reason)
	assert.InDelta(t, 30, status.RemainingMinutes, 1)

	// A 6th attempt 10 minutes in neither shortens nor extends the block.
	clock.Advance(10 * time.Minute)
	sixth := limiter.RecordFailedLogin(ctx, "user-1", "wrong_password")
	require.True(t, sixth.Blocked)
	assert.Equal(t, fifth.BlockedUntil, sixth.BlockedUntil)

	status = limiter.CheckBlockStatus(ctx, "user-1")
	assert.InDelta(t, 20, status.RemainingMinutes, 1)
}

func TestRecordFailedLogin_BlockExpires(t *testing.T) {
	limiter, clock := setupLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		limiter.RecordFailedLogin(ctx, "user-1", "wrong_password")
	}
	require.True(t, limiter.CheckBlockStatus(ctx, "user-1").IsBlocked)

	clock.Advance(31 * time.Minute)
	assert.False(t, limiter.CheckBlockStatus(ctx, "user-1").IsBlocked)
}

func TestRecordDeviceChange_WarnsThenBlocks(t *testing.T) {
	limiter, _ := setupLimiter(t)
	ctx := context.Background()

	first := limiter.RecordDeviceChange(ctx, "user-1", "dev-a", "dev-b")
	assert.False(t, first.Warning)
	assert.False(t, first.Blocked)

	second := limiter.RecordDeviceChange(ctx, "user-1", "dev-b", "dev-c")
	assert.False(t, second.Warning)

	// The 3rd change warns, the 4th blocks for a day.
	third := limiter.RecordDeviceChange(ctx, "user-1", "dev-c", "dev-d")
	assert.True(t, third.Warning)
	assert.False(t, third.Blocked)
	assert.Equal(t, 1, third.ChangesRemaining)

	fourth := limiter.RecordDeviceChange(ctx, "user-1", "dev-d", "dev-e")
	assert.True(t, fourth.Blocked)

	status := limiter.CheckBlockStatus(ctx, "user-1")
	require.True(t, status.IsBlocked)
	assert.Equal(t, BlockReasonDeviceChanges, status.Reason)
	assert.InDelta(t, 24*60, status.RemainingMinutes, 1)
}

func TestClearFailedAttempts(t *testing.T) {
	limiter, _ := setupLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		limiter.RecordFailedLogin(ctx, "user-1", "wrong_password")
	}
	require.True(t, limiter.CheckBlockStatus(ctx, "user-1").IsBlocked)

	limiter.ClearFailedAttempts(ctx, "user-1")
	assert.False(t, limiter.CheckBlockStatus(ctx, "user-1").IsBlocked)

	// Cleared counters start over.
	result := limiter.RecordFailedLogin(ctx, "user-1", "wrong_password")
	assert.Equal(t, 4, result.AttemptsRemaining)
}

func TestClearFailedAttempts_Idempotent(t *testing.T) {
	limiter, _ := setupLimiter(t)
	ctx := context.Background()

	limiter.RecordFailedLogin(ctx, "user-1", "wrong_password")
	limiter.ClearFailedAttempts(ctx, "user-1")
	// The second clear finds nothing to do and must not error or reset
	// anything else.
	limiter.ClearFailedAttempts(ctx, "user-1")

	assert.False(t, limiter.CheckBlockStatus(ctx, "user-1").IsBlocked)
}

func TestClearFailedAttempts_KeepsDeviceChangeBlock(t *testing.T) {
	limiter, _ := setupLimiter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		limiter.RecordDeviceChange(ctx, "user-1", "a", "b")
	}
	require.True(t, limiter.CheckBlockStatus(ctx, "user-1").IsBlocked)

	limiter.ClearFailedAttempts(ctx, "user-1")

	status := limiter.CheckBlockStatus(ctx, "user-1")
	assert.True(t, status.IsBlocked)
	assert.Equal(t, BlockReasonDeviceChanges, status.Reason)
}

func TestCleanupOldRecords(t *testing.T) {
	limiter, clock := setupLimiter(t)
	ctx := context.Background()

	limiter.RecordFailedLogin(ctx, "user-1", "wrong_password")
	limiter.RecordDeviceChange(ctx, "user-1", "a", "b")

	clock.Advance(10 * 24 * time.Hour)
	limiter.RecordFailedLogin(ctx, "user-1", "wrong_password")
	limiter.CleanupOldRecords(ctx, "user-1", 7)

	// Only today's bucket survives: the next failure is the 2nd, not the
	// 3rd.
	result := limiter.RecordFailedLogin(ctx, "user-1", "wrong_password")
	assert.Equal(t, 3, result.AttemptsRemaining)
}

func TestLimiter_ToleratesDeniedStore(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	store := docstore.NewDenyFirst(docstore.NewInMemStore(), 100)
	limiter := NewLimiter(store, WithClock(clock.Now))
	ctx := context.Background()

	// Every operation returns its safe default instead of failing.
	result := limiter.RecordFailedLogin(ctx, "user-1", "wrong_password")
	assert.False(t, result.Blocked)
	assert.Equal(t, 4, result.AttemptsRemaining)

	assert.False(t, limiter.CheckBlockStatus(ctx, "user-1").IsBlocked)
	limiter.ClearFailedAttempts(ctx, "user-1")
	limiter.CleanupOldRecords(ctx, "user-1", 7)
}
