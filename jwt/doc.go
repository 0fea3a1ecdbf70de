// Package jwt mints and verifies the verification token that proves an email
// passed the PIN challenge. Tokens carry {email, verified:true, jti, iat, exp},
// live at most [MaxTTL], and are signed with HS256 or Ed25519.
package jwt
