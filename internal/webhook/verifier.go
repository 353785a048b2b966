package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/paymatch/internal/clock"
)

const (
	signaturePrefix     = "sha256="
	millisecondsCutover = 1_000_000_000_000
	defaultTolerance    = 5 * time.Minute
)

var (
	ErrAuthenticationFailed = errors.New("authentication_failed")
	ErrReplayRejected       = errors.New("replay_rejected")
)

// Request is the part of an inbound callback the verifier looks at.
type Request struct {
	Body      []byte
	Signature string
	Timestamp string
}

// RequestFromHeaders reads the signature and timestamp headers, accepting
// both the bare and X- prefixed names.
func RequestFromHeaders(header http.Header, body []byte) Request {
	return Request{
		Body:      body,
		Signature: firstHeader(header, "Signature", "X-Signature"),
		Timestamp: firstHeader(header, "Timestamp", "X-Timestamp"),
	}
}

func firstHeader(header http.Header, names ...string) string {
	for _, name := range names {
		if value := strings.TrimSpace(header.Get(name)); value != "" {
			return value
		}
	}
	return ""
}

type Verifier struct {
	secret    []byte
	tolerance time.Duration
	clock     clock.Clock
}

func NewVerifier(secret string, tolerance time.Duration, clk clock.Clock) *Verifier {
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Verifier{
		secret:    []byte(strings.TrimSpace(secret)),
		tolerance: tolerance,
		clock:     clk,
	}
}

// Enabled reports whether a shared secret is configured.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify checks freshness when a timestamp is present and the HMAC when a
// secret is configured.
func (v *Verifier) Verify(req Request) error {
	if req.Timestamp != "" {
		sent, err := parseTimestamp(req.Timestamp)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		skew := v.clock.Now().Sub(sent)
		if skew < 0 {
			skew = -skew
		}
		if skew > v.tolerance {
			return ErrReplayRejected
		}
	}

	if !v.Enabled() {
		return nil
	}
	if req.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrAuthenticationFailed)
	}
	provided, err := hex.DecodeString(NormalizeSignature(req.Signature))
	if err != nil {
		return fmt.Errorf("%w: malformed signature", ErrAuthenticationFailed)
	}
	if !hmac.Equal(provided, v.sign(req.Timestamp, req.Body)) {
		return fmt.Errorf("%w: signature mismatch", ErrAuthenticationFailed)
	}
	return nil
}

// NormalizeSignature strips the optional scheme prefix and folds case, so
// every accepted encoding of one signature maps to the same value.
func NormalizeSignature(raw string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), signaturePrefix)
}

// Sign returns the hex signature a sender must attach.
func (v *Verifier) Sign(timestamp string, body []byte) string {
	return hex.EncodeToString(v.sign(timestamp, body))
}

func (v *Verifier) sign(timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	if timestamp != "" {
		mac.Write([]byte(timestamp))
		mac.Write([]byte("."))
	}
	mac.Write(body)
	return mac.Sum(nil)
}

// parseTimestamp accepts unix seconds or milliseconds.
func parseTimestamp(raw string) (time.Time, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value <= 0 {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
	}
	if value > millisecondsCutover {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
