package internaldefs

import (
	"github.com/pjuts-monitor/pjutsauth"
)

// OutcomeLabel is the label that splits a family into its outcomes.
const OutcomeLabel = "outcome"

// Family is one exported counter series. Families with outcomes carry one
// engine counter per outcome; the rest map to a single counter.
type Family struct {
	Name     string
	Help     string
	ID       pjutsauth.MetricID // used when Outcomes is empty
	Outcomes []Outcome
}

// Outcome binds an engine counter to a label value within its family.
type Outcome struct {
	Value string
	ID    pjutsauth.MetricID
}

// Labelled reports whether the family is split by OutcomeLabel.
func (f Family) Labelled() bool { return len(f.Outcomes) > 0 }

var Families = []Family{
	{
		Name: "pjutsauth_pin_challenge_total",
		Help: "Password steps by outcome. rejected includes rate_limited and account_disabled.",
		Outcomes: []Outcome{
			{"issued", pjutsauth.MetricPinChallengeIssued},
			{"rejected", pjutsauth.MetricPinChallengeRejected},
			{"rate_limited", pjutsauth.MetricLoginRateLimited},
			{"account_disabled", pjutsauth.MetricAccountDisabled},
		},
	},
	{
		Name: "pjutsauth_pin_verify_total",
		Help: "PIN submissions by outcome. failure includes expired and max_attempts.",
		Outcomes: []Outcome{
			{"success", pjutsauth.MetricPinVerifySuccess},
			{"failure", pjutsauth.MetricPinVerifyFailure},
			{"expired", pjutsauth.MetricPinExpired},
			{"max_attempts", pjutsauth.MetricPinAttemptsExceeded},
		},
	},
	{
		Name: "pjutsauth_verification_token_total",
		Help: "Verification tokens presented to ConsumeVerificationToken, by outcome.",
		Outcomes: []Outcome{
			{"consumed", pjutsauth.MetricVerificationConsumed},
			{"invalid", pjutsauth.MetricVerificationInvalid},
			{"replayed", pjutsauth.MetricVerificationReplayDetected},
		},
	},
	{
		Name: "pjutsauth_password_reset_request_total",
		Help: "Password reset requests. received counts every request.",
		Outcomes: []Outcome{
			{"received", pjutsauth.MetricPasswordResetRequest},
			{"rate_limited", pjutsauth.MetricPasswordResetRateLimited},
			{"email_failed", pjutsauth.MetricPasswordResetEmailFailure},
		},
	},
	{
		Name: "pjutsauth_password_reset_total",
		Help: "Password reset confirmations by outcome.",
		Outcomes: []Outcome{
			{"success", pjutsauth.MetricPasswordResetSuccess},
			{"failure", pjutsauth.MetricPasswordResetFailure},
			{"expired", pjutsauth.MetricPasswordResetExpired},
		},
	},
	{
		Name: "pjutsauth_share_code_verify_total",
		Help: "Share-code submissions by outcome.",
		Outcomes: []Outcome{
			{"valid", pjutsauth.MetricShareCodeValid},
			{"invalid", pjutsauth.MetricShareCodeInvalid},
			{"rate_limited", pjutsauth.MetricShareCodeRateLimited},
		},
	},
	{
		Name: "pjutsauth_share_code_admin_ops_total",
		Help: "Administrative share-code changes.",
		ID:   pjutsauth.MetricShareCodeAdminOp,
	},
	{
		Name: "pjutsauth_rate_limit_hits_total",
		Help: "Requests denied by a rate-limit tier.",
		ID:   pjutsauth.MetricRateLimitHit,
	},
	{
		Name: "pjutsauth_backend_unavailable_total",
		Help: "Operations failed by a storage, cache or mail error.",
		ID:   pjutsauth.MetricBackendUnavailable,
	},
}

// AuditDroppedName is exported alongside the engine counters.
const (
	AuditDroppedName = "pjutsauth_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// Latency is the credential-check histogram.
var Latency = struct {
	ID   pjutsauth.MetricID
	Name string
	Help string
}{
	ID:   pjutsauth.MetricCredentialCheckLatency,
	Name: "pjutsauth_credential_check_latency_seconds",
	Help: "Password comparison latency, real or dummy hash.",
}

// BucketCount is the number of latency buckets, +Inf included.
const BucketCount = 8

// BucketBounds are the upper bounds in seconds, matching the engine's
// millisecond buckets. The last one is +Inf.
var BucketBounds = [BucketCount]string{"0.025", "0.05", "0.1", "0.2", "0.4", "0.8", "1.6", "+Inf"}

// Cumulative zero-fills raw to BucketCount and converts per-bucket counts
// into running totals. The last element is the sample count.
func Cumulative(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < BucketCount; i++ {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
