package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/pjuts-monitor/pjutsauth"
)

const maxJSONBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names so details match engine errors.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeValidBody reads a JSON body into B and runs struct validation. The
// returned error is always a *pjutsauth.ValidationError.
func decodeValidBody[B any](w http.ResponseWriter, r *http.Request) (B, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body B
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		return body, &pjutsauth.ValidationError{
			Details: map[string]string{"body": "must be a valid JSON object"},
			Cause:   err,
		}
	}

	if err := validate.Struct(body); err != nil {
		return body, validationFromValidator(err)
	}
	return body, nil
}

func validationFromValidator(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &pjutsauth.ValidationError{Details: map[string]string{"body": "is invalid"}, Cause: err}
	}

	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = describeFieldError(fe)
	}
	return &pjutsauth.ValidationError{Details: details}
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "numeric":
		return "must contain only digits"
	case "hexadecimal":
		return "must be hexadecimal"
	default:
		return "is invalid"
	}
}

type errorResponse struct {
	Error      string            `json:"error"`
	Details    map[string]string `json:"details,omitempty"`
	RetryAfter int               `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

// writeEngineError maps an engine error onto its status and wire code.
// Internal failures are reported to Sentry and answered with a generic 500.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := pjutsauth.CodeOf(err)

	var rl *pjutsauth.RateLimitError
	if errors.As(err, &rl) {
		secs := rl.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: code, RetryAfter: secs})
		return
	}

	var verr *pjutsauth.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: code, Details: verr.Details})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		captureError(r, err)
		code = pjutsauth.CodeInternal
	}
	writeError(w, status, code)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pjutsauth.ErrAccountDisabled):
		return http.StatusForbidden
	case errors.Is(err, pjutsauth.ErrPinMaxAttempts):
		return http.StatusTooManyRequests
	}

	switch pjutsauth.KindOf(err) {
	case pjutsauth.KindValidation:
		return http.StatusBadRequest
	case pjutsauth.KindAuthentication:
		return http.StatusUnauthorized
	case pjutsauth.KindExpired:
		return http.StatusGone
	case pjutsauth.KindRateLimited:
		return http.StatusTooManyRequests
	case pjutsauth.KindNotFound:
		return http.StatusNotFound
	case pjutsauth.KindForbidden:
		return http.StatusForbidden
	case pjutsauth.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func captureError(r *http.Request, err error) {
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}
