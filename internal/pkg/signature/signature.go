// Package signature implements the provider webhook signing scheme: the
// header carries a unix timestamp and one or more HMAC-SHA-256 digests over
// "<timestamp>.<body>" keyed with the shared signing secret, e.g.
//
//	signature: t=1712000000,v1=5257a8...,v1=ffab01...
//
// Any matching v1 digest accepts the payload; schemes other than v1 are
// ignored so the provider can rotate secrets.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingHeader   = errors.New("missing signature header")
	ErrMalformedHeader = errors.New("malformed signature header")
	ErrNoMatch         = errors.New("no matching signature")
	ErrTimestampSkew   = errors.New("timestamp outside tolerance")
)

// Sign computes the signature header value for payload at time t.
func Sign(payload []byte, secret string, t time.Time) string {
	ts := t.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, digest(payload, secret, ts))
}

// Verify checks header against payload under secret. The timestamp must be
// within tolerance of now in either direction to bound replay windows.
func Verify(header string, payload []byte, secret string, now time.Time, tolerance time.Duration) error {
	if header == "" {
		return ErrMissingHeader
	}

	var ts int64
	var haveTS bool
	var candidates []string

	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return ErrMalformedHeader
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrMalformedHeader
			}
			ts = n
			haveTS = true
		case "v1":
			candidates = append(candidates, v)
		}
	}

	if !haveTS || len(candidates) == 0 {
		return ErrMalformedHeader
	}

	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > tolerance {
		return ErrTimestampSkew
	}

	expected := digest(payload, secret, ts)
	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			return nil
		}
	}
	return ErrNoMatch
}

func digest(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
