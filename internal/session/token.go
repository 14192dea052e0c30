package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTimes derives issue and expiry times. Claims are read without
// verifying the signature. Opaque tokens expire fallback after now.
func tokenTimes(token string, now time.Time, fallback time.Duration) (time.Time, time.Time) {
	issued, expires := now, now.Add(fallback)

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return issued, expires
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		issued = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expires = exp.Time
	}
	return issued, expires
}
