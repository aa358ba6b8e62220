package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testSecret = "test-secret-at-least-16-chars"

func sign(secret, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	return hex.EncodeToString(mac.Sum(nil))
}

func fixedAuthenticator(tolerance time.Duration, now time.Time) *Authenticator {
	a := NewAuthenticator(testSecret, tolerance)
	a.now = func() time.Time { return now }
	return a
}

func TestVerifyValid(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := fixedAuthenticator(5*time.Minute, now)

	ts := strconv.FormatInt(now.Unix(), 10)
	assert.NoError(t, a.Verify(ts, sign(testSecret, ts)))
}

func TestVerifyUppercaseSignatureAccepted(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := fixedAuthenticator(5*time.Minute, now)

	ts := strconv.FormatInt(now.Unix(), 10)
	assert.NoError(t, a.Verify(ts, strings.ToUpper(sign(testSecret, ts))))
}

func TestVerifyExpiredDespiteValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := fixedAuthenticator(5*time.Minute, now)

	// Six minutes old with a perfectly valid signature.
	ts := strconv.FormatInt(now.Add(-6*time.Minute).Unix(), 10)
	assert.ErrorIs(t, a.Verify(ts, sign(testSecret, ts)), ErrExpired)
}

func TestVerifyToleranceBoundary(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := fixedAuthenticator(5*time.Minute, now)

	// Exactly at the window edge is still acceptable.
	ts := strconv.FormatInt(now.Add(-5*time.Minute).Unix(), 10)
	assert.NoError(t, a.Verify(ts, sign(testSecret, ts)))

	// One second beyond is not.
	ts = strconv.FormatInt(now.Add(-5*time.Minute-time.Second).Unix(), 10)
	assert.ErrorIs(t, a.Verify(ts, sign(testSecret, ts)), ErrExpired)
}

func TestVerifyFutureTimestampWithinTolerance(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := fixedAuthenticator(5*time.Minute, now)

	// Client clock slightly ahead of the server.
	ts := strconv.FormatInt(now.Add(2*time.Minute).Unix(), 10)
	assert.NoError(t, a.Verify(ts, sign(testSecret, ts)))
}

func TestVerifyInvalidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := fixedAuthenticator(5*time.Minute, now)

	ts := strconv.FormatInt(now.Unix(), 10)
	assert.ErrorIs(t, a.Verify(ts, sign("wrong-secret-wrong-secret", ts)), ErrInvalidSignature)
}

func TestVerifyMissingParams(t *testing.T) {
	a := fixedAuthenticator(5*time.Minute, time.Now())

	assert.ErrorIs(t, a.Verify("", ""), ErrMissingAuth)
	assert.ErrorIs(t, a.Verify("12345", ""), ErrMissingAuth)
	assert.ErrorIs(t, a.Verify("", "abcd"), ErrMissingAuth)
}

func TestVerifyMalformedTimestamp(t *testing.T) {
	a := fixedAuthenticator(5*time.Minute, time.Now())

	assert.ErrorIs(t, a.Verify("not-a-number", sign(testSecret, "not-a-number")), ErrInvalidTimestamp)
}

func TestVerifyDisabledWithoutSecret(t *testing.T) {
	a := NewAuthenticator("", 5*time.Minute)

	assert.False(t, a.Enabled())
	assert.NoError(t, a.Verify("", ""))
	assert.NoError(t, a.Verify("junk", "junk"))
}
