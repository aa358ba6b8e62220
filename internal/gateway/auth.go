package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMissingAuth indicates the ts or sig query parameter is absent.
	ErrMissingAuth = errors.New("missing authentication parameters")

	// ErrInvalidTimestamp indicates ts is not a unix-seconds integer.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrExpired indicates ts falls outside the tolerance window. A valid
	// signature does not rescue an expired timestamp.
	ErrExpired = errors.New("timestamp outside tolerance window")

	// ErrInvalidSignature indicates sig does not match HMAC-SHA256(ts).
	ErrInvalidSignature = errors.New("invalid signature")
)

// Authenticator verifies the handshake HMAC. The client signs the ts
// query parameter with the shared secret and sends the lowercase hex
// digest as sig.
type Authenticator struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewAuthenticator creates an Authenticator. An empty secret disables
// verification entirely.
func NewAuthenticator(secret string, tolerance time.Duration) *Authenticator {
	return &Authenticator{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Enabled reports whether handshake authentication is active.
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// Verify checks the ts and sig handshake parameters. Returns nil when
// authentication is disabled. Signature comparison is constant-time and
// runs before the staleness check so both failure paths do equal work.
func (a *Authenticator) Verify(ts, sig string) error {
	if !a.Enabled() {
		return nil
	}
	if ts == "" || sig == "" {
		return ErrMissingAuth
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(ts))
	expected := hex.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(sig)), []byte(expected)) != 1 {
		return ErrInvalidSignature
	}

	skew := a.now().Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.tolerance {
		return ErrExpired
	}

	return nil
}
