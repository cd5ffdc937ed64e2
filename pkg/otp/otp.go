// Package otp derives VNC access codes from an AVM's stored secret. No
// library in the dependency corpus offers RFC 6238 TOTP, so this is the one
// component deliberately built on the standard library alone (crypto/hmac,
// crypto/sha1) rather than on a third-party package; see DESIGN.md.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"
)

// step is the TOTP time-step width (spec.md §4.4: "the current 30-second window").
const step = 30 * time.Second

const digits = 6

// Code returns the TOTP code for secret at the given instant, per RFC 6238
// with a SHA-1 HMAC and a 30-second step (spec.md §4.4 "OTP").
func Code(secret string, at time.Time) string {
	counter := uint64(at.Unix()) / uint64(step.Seconds())
	return hotp(secret, counter)
}

// hotp computes an RFC 4226 HOTP value for the given counter.
func hotp(secret string, counter uint64) string {
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(counterBytes[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, truncated%mod)
}

// GenerateSecret returns a random hex-alphabet secret of the given length,
// suitable for storing as an AVM-OTP row's vnc_secret (spec.md §3 AVM-OTP).
func GenerateSecret(length int) (string, error) {
	return GeneratePassword(length, "0123456789abcdef")
}

// GeneratePassword returns a random string of length drawn uniformly from
// chars, using a cryptographically secure source (spec.md §8: "Password
// generator: len(generate_password(n)) == n for all n>=0; with n=0 yields
// empty").
func GeneratePassword(length int, chars string) (string, error) {
	if length == 0 {
		return "", nil
	}
	out := make([]byte, length)
	n := big.NewInt(int64(len(chars)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("otp: generating password: %w", err)
		}
		out[i] = chars[idx.Int64()]
	}
	return string(out), nil
}
