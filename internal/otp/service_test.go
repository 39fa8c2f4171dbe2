package otp

import (
	"bytes"
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-locker-go/internal/otp/entity"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
)

type fixedExpiry time.Duration

func (f fixedExpiry) OTPExpiry(context.Context) time.Duration { return time.Duration(f) }

func newIssuer(t *testing.T, expiry ExpirySource) (*Issuer, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	return NewIssuer(record.NewDB(record.NewMemoryStore()), clock, expiry), clock
}

var eightDigits = regexp.MustCompile(`^[1-9][0-9]{7}$`)

func TestIssue_CodeShapeAndExpiry(t *testing.T) {
	s, clock := newIssuer(t, nil)
	o, err := s.Issue(context.Background(), "555", entity.PurposeOpen)
	require.NoError(t, err)
	assert.Regexp(t, eightDigits, o.Code)
	assert.Equal(t, clock.Now().Add(DefaultWindow), o.ExpiresAt)
	assert.Equal(t, entity.PurposeOpen, o.Purpose)
	assert.False(t, o.Used)
}

func TestIssue_RequiresPhone(t *testing.T) {
	s, _ := newIssuer(t, nil)
	_, err := s.Issue(context.Background(), "", "x")
	require.ErrorIs(t, err, ErrPhoneEmpty)
}

func TestGenerateCode_Bounds(t *testing.T) {
	s, _ := newIssuer(t, nil)

	// all-zero entropy gives the smallest code
	s.rand = bytes.NewReader(make([]byte, 64))
	code, err := s.generateCode()
	require.NoError(t, err)
	assert.Equal(t, "10000000", code)

	s.rand = bytes.NewReader(nil)
	_, err = s.generateCode()
	require.Error(t, err)
}

func TestVerify_SingleUse(t *testing.T) {
	ctx := context.Background()
	s, _ := newIssuer(t, nil)
	o, err := s.Issue(ctx, "555", "x")
	require.NoError(t, err)

	ok, err := s.Verify(ctx, "555", o.Code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Verify(ctx, "555", o.Code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_SecondIssueInvalidatesFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := newIssuer(t, nil)
	first, err := s.Issue(ctx, "555", "x")
	require.NoError(t, err)
	second, err := s.Issue(ctx, "555", "x")
	require.NoError(t, err)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	if first.Code != second.Code {
		ok, err := s.Verify(ctx, "555", first.Code)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	ok, err := s.Verify(ctx, "555", second.Code)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_Expires(t *testing.T) {
	ctx := context.Background()
	s, clock := newIssuer(t, nil)
	o, err := s.Issue(ctx, "555", "x")
	require.NoError(t, err)

	clock.Advance(31 * time.Second)
	ok, err := s.Verify(ctx, "555", o.Code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_ExactExpiryIsRejected(t *testing.T) {
	ctx := context.Background()
	s, clock := newIssuer(t, nil)
	o, err := s.Issue(ctx, "555", "x")
	require.NoError(t, err)

	clock.Advance(DefaultWindow)
	ok, err := s.Verify(ctx, "555", o.Code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_FailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	s, _ := newIssuer(t, nil)
	o, err := s.Issue(ctx, "555", "x")
	require.NoError(t, err)
	before, err := s.List(ctx)
	require.NoError(t, err)

	wrong := "00000000"
	ok, err := s.Verify(ctx, "555", wrong)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.Verify(ctx, "other", o.Code)
	require.NoError(t, err)
	assert.False(t, ok)

	after, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestIssue_UsesExpirySource(t *testing.T) {
	ctx := context.Background()
	s, clock := newIssuer(t, fixedExpiry(2*time.Minute))
	o, err := s.Issue(ctx, "555", "x")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(2*time.Minute), o.ExpiresAt)

	clock.Advance(90 * time.Second)
	ok, err := s.Verify(ctx, "555", o.Code)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestActiveAndPurge(t *testing.T) {
	ctx := context.Background()
	s, clock := newIssuer(t, nil)
	a, err := s.Issue(ctx, "111", "x")
	require.NoError(t, err)
	_, err = s.Issue(ctx, "222", "x")
	require.NoError(t, err)

	active, err := s.Active(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, a.Code, active.Code)

	ok, err := s.Verify(ctx, "111", a.Code)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.Active(ctx, "111")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clock.Advance(time.Minute)
	sched := NewPurgeScheduler(s, zap.NewNop().Sugar())
	sched.RunOnce()
	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPurgeScheduler_StartStop(t *testing.T) {
	s, _ := newIssuer(t, nil)
	sched := NewPurgeScheduler(s, zap.NewNop().Sugar())
	require.Error(t, sched.Start("not a schedule"))
	require.NoError(t, sched.Start("@every 1h"))
	sched.Stop()
}

func TestRenderSlip(t *testing.T) {
	ctx := context.Background()
	s, _ := newIssuer(t, nil)
	o, err := s.Issue(ctx, "555", entity.PurposePasswordReset)
	require.NoError(t, err)

	pdf, err := RenderSlip(*o, nil)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
}
