package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/pjuts-monitor/pjutsauth"
)

type pinChallengeRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

type pinChallengeResponse struct {
	PIN          string `json:"pin"`
	SessionToken string `json:"sessionToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// pinVerifyRequest carries no validation tags: the engine reports malformed
// fields as INVALID_PIN or INVALID_SESSION.
type pinVerifyRequest struct {
	Email        string `json:"email"`
	PIN          string `json:"pin"`
	SessionToken string `json:"sessionToken"`
}

type pinVerifyResponse struct {
	VerificationToken string    `json:"verificationToken"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

func (s *Server) requestPinChallenge(w http.ResponseWriter, r *http.Request) {
	body, err := decodeValidBody[pinChallengeRequest](w, r)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	ch, err := s.engine.RequestPinChallenge(r.Context(), body.Email, body.Password)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pinChallengeResponse{
		PIN:          ch.PIN,
		SessionToken: ch.SessionToken,
		ExpiresIn:    int(ch.ExpiresIn / time.Second),
	})
}

func (s *Server) verifyPinChallenge(w http.ResponseWriter, r *http.Request) {
	body, err := decodeValidBody[pinVerifyRequest](w, r)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	res, err := s.engine.VerifyPinChallenge(r.Context(), body.Email, body.PIN, body.SessionToken)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pinVerifyResponse{
		VerificationToken: res.VerificationToken,
		ExpiresAt:         res.ExpiresAt,
	})
}

type resetRequest struct {
	Email string `json:"email"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// requestPasswordReset answers {success:true} for every input, malformed
// bodies included.
func (s *Server) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body resetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		body.Email = ""
	}

	res := s.engine.RequestPasswordReset(r.Context(), body.Email)
	writeJSON(w, http.StatusOK, successResponse{Success: res.Success})
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required,max=128"`
	NewPassword string `json:"newPassword" validate:"required,max=1024"`
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	body, err := decodeValidBody[resetPasswordRequest](w, r)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	if err := s.engine.ResetPassword(r.Context(), body.Token, body.NewPassword); err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

type validateTokenRequest struct {
	Token string `json:"token" validate:"required,max=128"`
}

type validateTokenResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// validateResetToken reports validity as data; only malformed input and
// backend failures are HTTP errors.
func (s *Server) validateResetToken(w http.ResponseWriter, r *http.Request) {
	body, err := decodeValidBody[validateTokenRequest](w, r)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	err = s.engine.ValidateResetToken(r.Context(), body.Token)
	switch pjutsauth.KindOf(err) {
	case pjutsauth.KindNone:
		writeJSON(w, http.StatusOK, validateTokenResponse{Valid: true})
	case pjutsauth.KindAuthentication, pjutsauth.KindExpired:
		writeJSON(w, http.StatusOK, validateTokenResponse{Valid: false, Error: pjutsauth.CodeOf(err)})
	default:
		writeEngineError(w, r, err)
	}
}
