package gateway

import (
	"net/http"

	"github.com/pquerna/otp/totp"
)

// OTPHeader carries the admin TOTP code.
const OTPHeader = "X-Admin-OTP"

// OTPGuard rejects requests without a valid TOTP code. An empty secret
// disables the guard.
type OTPGuard struct {
	secret string
}

func NewOTPGuard(secret string) *OTPGuard {
	return &OTPGuard{secret: secret}
}

// Enabled reports whether a secret is configured.
func (g *OTPGuard) Enabled() bool { return g.secret != "" }

// Wrap returns next behind the guard.
func (g *OTPGuard) Wrap(next http.Handler) http.Handler {
	if !g.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := r.Header.Get(OTPHeader)
		if code == "" || !totp.Validate(code, g.secret) {
			writeError(w, http.StatusUnauthorized, "valid "+OTPHeader+" required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
