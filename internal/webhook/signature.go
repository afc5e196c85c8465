package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const signaturePrefix = "sha256="

var (
	ErrMissingSignature = errors.New("webhook signature headers missing")
	ErrInvalidSignature = errors.New("webhook signature mismatch")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
)

// Sign returns the signature header value for body sent at timestamp (unix
// seconds): sha256= followed by the hex HMAC of "<timestamp>.<body>".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature headers of a received delivery. A zero
// tolerance skips the timestamp age check.
func Verify(secret string, header http.Header, body []byte, now time.Time, tolerance time.Duration) error {
	timestamp := header.Get(HeaderTimestamp)
	signature := header.Get(HeaderSignature)
	if timestamp == "" || signature == "" {
		return ErrMissingSignature
	}

	if tolerance > 0 {
		sec, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: timestamp %q", ErrInvalidSignature, timestamp)
		}
		age := now.Sub(time.Unix(sec, 0))
		if age < 0 {
			age = -age
		}
		if age > tolerance {
			return fmt.Errorf("%w: %s old", ErrStaleTimestamp, age.Truncate(time.Second))
		}
	}

	if !hmac.Equal([]byte(signature), []byte(Sign(secret, timestamp, body))) {
		return ErrInvalidSignature
	}
	return nil
}
