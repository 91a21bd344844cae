package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

// DefaultSignatureTolerance bounds how far the signed timestamp may drift
// from the local clock, in either direction.
const DefaultSignatureTolerance = 300 * time.Second

// SignatureVerifier authenticates webhook deliveries against a shared secret.
type SignatureVerifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

// Verify reports whether header carries a fresh, valid signature of payload.
func (v SignatureVerifier) Verify(payload []byte, header string) bool {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	return VerifySignature(payload, header, v.Secret, now(), v.Tolerance)
}

// VerifySignature checks a "t=<unix>,v1=<hex>" header against
// HMAC-SHA256(secret, "<t>.<payload>"). Keys other than t and v1 are ignored;
// when a key repeats the last value wins.
func VerifySignature(payload []byte, header, secret string, now time.Time, tolerance time.Duration) bool {
	if secret == "" {
		return false
	}
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	ts, sig, ok := parseSignatureHeader(header)
	if !ok {
		return false
	}
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(tolerance/time.Second) {
		return false
	}
	expected := ComputeSignature(ts, payload, secret)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// ComputeSignature returns the hex HMAC-SHA256 of "<ts>.<payload>".
func ComputeSignature(ts int64, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignPayload builds a header value for payload signed at ts.
func SignPayload(payload []byte, secret string, ts time.Time) string {
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, ComputeSignature(unix, payload, secret))
}

func parseSignatureHeader(header string) (int64, string, bool) {
	var (
		ts     int64
		sig    string
		haveTS bool
	)
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, "", false
			}
			ts, haveTS = parsed, true
		case "v1":
			sig = value
		}
	}
	if !haveTS || sig == "" {
		return 0, "", false
	}
	return ts, sig, true
}
