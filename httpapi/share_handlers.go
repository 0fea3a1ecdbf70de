package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pjuts-monitor/pjutsauth"
	"github.com/pjuts-monitor/pjutsauth/middleware"
)

type shareCodeView struct {
	ID         string     `json:"id"`
	Code       string     `json:"code"`
	Label      string     `json:"label"`
	IsActive   bool       `json:"isActive"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	UsageCount int64      `json:"usageCount"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
	CreatedBy  string     `json:"createdBy"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func viewOf(sc *pjutsauth.ShareCode) shareCodeView {
	return shareCodeView{
		ID:         sc.ID,
		Code:       sc.Code,
		Label:      sc.Label,
		IsActive:   sc.IsActive,
		ExpiresAt:  sc.ExpiresAt,
		UsageCount: sc.UsageCount,
		LastUsedAt: sc.LastUsedAt,
		CreatedBy:  sc.CreatedBy,
		CreatedAt:  sc.CreatedAt,
	}
}

type verifyShareCodeRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type verifyShareCodeResponse struct {
	Success   bool       `json:"success"`
	Label     string     `json:"label"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (s *Server) verifyShareCode(w http.ResponseWriter, r *http.Request) {
	body, err := decodeValidBody[verifyShareCodeRequest](w, r)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	sc, err := s.engine.ValidateShareCode(r.Context(), body.Code)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	s.cookie.Set(w, sc.Code, s.now())
	writeJSON(w, http.StatusOK, verifyShareCodeResponse{Success: true, Label: sc.Label, ExpiresAt: sc.ExpiresAt})
}

type shareAccessResponse struct {
	Valid     bool       `json:"valid"`
	Label     string     `json:"label"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// shareAccess sits behind the share gate and answers for the map view.
func (s *Server) shareAccess(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.AllowRequest(r.Context(), pjutsauth.TierStandard, "share-access", clientIP(r)); err != nil {
		writeEngineError(w, r, err)
		return
	}

	sc, ok := middleware.ShareCodeFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "SHARE_ACCESS_REQUIRED")
		return
	}
	writeJSON(w, http.StatusOK, shareAccessResponse{Valid: true, Label: sc.Label, ExpiresAt: sc.ExpiresAt})
}

/*
====================================
ADMIN
====================================
*/

type listShareCodesResponse struct {
	ShareCodes []shareCodeView `json:"shareCodes"`
}

func (s *Server) listShareCodes(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	codes, err := s.engine.ListShareCodes(r.Context(), p)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	out := listShareCodesResponse{ShareCodes: make([]shareCodeView, 0, len(codes))}
	for i := range codes {
		out.ShareCodes = append(out.ShareCodes, viewOf(&codes[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

type createShareCodeRequest struct {
	Code      string     `json:"code" validate:"max=64"`
	Label     string     `json:"label" validate:"required,max=100"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (s *Server) createShareCode(w http.ResponseWriter, r *http.Request) {
	body, err := decodeValidBody[createShareCodeRequest](w, r)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	p, _ := middleware.PrincipalFromContext(r.Context())
	sc, err := s.engine.CreateShareCode(r.Context(), p, pjutsauth.CreateShareCodeInput{
		Code:      body.Code,
		Label:     body.Label,
		ExpiresAt: body.ExpiresAt,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(sc))
}

type toggleShareCodeRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

func (s *Server) toggleShareCode(w http.ResponseWriter, r *http.Request) {
	body, err := decodeValidBody[toggleShareCodeRequest](w, r)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	p, _ := middleware.PrincipalFromContext(r.Context())
	sc, err := s.engine.SetShareCodeActive(r.Context(), p, mux.Vars(r)["id"], *body.IsActive)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sc))
}

func (s *Server) deleteShareCode(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := s.engine.DeleteShareCode(r.Context(), p, mux.Vars(r)["id"]); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
