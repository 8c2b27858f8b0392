package internaldefs

import (
	"strconv"

	authflow "github.com/PHPxCODER/rdp-website-sub000"
)

// Label keys used by the counter families.
const (
	LabelOutcome = "outcome"
	LabelReason  = "reason"
	LabelStep    = "step"
	LabelChange  = "change"
	LabelBound   = "le"
)

// Family is one exported counter. Engine counters describing the same event
// at different points of the sign-in flow share a family and differ by the
// value of Label. A family without Label has exactly one sample.
type Family struct {
	Name    string
	Help    string
	Label   string
	Samples []Sample
}

// Sample maps one engine counter onto a label value of its family.
type Sample struct {
	ID    authflow.MetricID
	Value string
}

// Families lists every exported counter family in a stable order.
var Families = []Family{
	{
		Name:  "authflow_signin_attempts_total",
		Help:  "Sign-in attempts by outcome.",
		Label: LabelOutcome,
		Samples: []Sample{
			{authflow.MetricSignInStarted, "started"},
			{authflow.MetricSignInSuccess, "success"},
			{authflow.MetricAttemptsExhausted, "exhausted"},
			{authflow.MetricBackendUnavailable, "unavailable"},
		},
	},
	{
		Name:  "authflow_email_rejected_total",
		Help:  "Submitted emails that did not reach a credential step.",
		Label: LabelReason,
		Samples: []Sample{
			{authflow.MetricEmailNotRegistered, "not_registered"},
			{authflow.MetricEmailRateLimited, "rate_limited"},
		},
	},
	{
		Name:    "authflow_email_codes_sent_total",
		Help:    "Sign-in codes mailed, including resends.",
		Samples: []Sample{{authflow.MetricEmailCodeSent, ""}},
	},
	{
		Name:  "authflow_credential_failures_total",
		Help:  "Wrong credentials by sign-in step.",
		Label: LabelStep,
		Samples: []Sample{
			{authflow.MetricPasswordFailure, authflow.StepPassword.String()},
			{authflow.MetricEmailCodeFailure, authflow.StepCode.String()},
			{authflow.MetricTOTPFailure, authflow.StepTwoFactor.String()},
			{authflow.MetricBackupCodeFailed, authflow.StepBackupCode.String()},
		},
	},
	{
		Name:  "authflow_second_factor_total",
		Help:  "Second-factor prompts and how they were answered.",
		Label: LabelOutcome,
		Samples: []Sample{
			{authflow.MetricTwoFactorRequired, "required"},
			{authflow.MetricTOTPSuccess, "totp_accepted"},
			{authflow.MetricTOTPReplay, "totp_replayed"},
			{authflow.MetricBackupCodeUsed, "backup_code_used"},
			{authflow.MetricTrustedDeviceBypass, "trusted_device"},
		},
	},
	{
		Name:    "authflow_trusted_devices_issued_total",
		Help:    "Trusted-device tokens issued after a second factor.",
		Samples: []Sample{{authflow.MetricTrustedDeviceIssued, ""}},
	},
	{
		Name:  "authflow_two_factor_changes_total",
		Help:  "Account two-factor changes.",
		Label: LabelChange,
		Samples: []Sample{
			{authflow.MetricTwoFactorEnabled, "enabled"},
			{authflow.MetricTwoFactorDisabled, "disabled"},
			{authflow.MetricBackupCodesRegenerated, "backup_codes_regenerated"},
			{authflow.MetricBackupCodesMigrated, "backup_codes_migrated"},
		},
	},
}

// Histogram names one engine latency histogram.
type Histogram struct {
	ID   authflow.MetricID
	Name string
	Help string
}

// StepLatency is the only engine histogram.
var StepLatency = Histogram{
	ID:   authflow.MetricStepLatency,
	Name: "authflow_step_latency_seconds",
	Help: "Latency of one sign-in step.",
}

// AuditDropped is reported from the audit dispatcher, not from a MetricID.
const (
	AuditDroppedName = "authflow_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// BucketCount is the number of latency buckets including the overflow one.
const BucketCount = len(authflow.HistogramBucketBounds) + 1

// BucketBounds renders authflow.HistogramBucketBounds in seconds, followed
// by "+Inf" for the overflow bucket.
func BucketBounds() []string {
	out := make([]string, 0, BucketCount)
	for _, d := range authflow.HistogramBucketBounds {
		out = append(out, strconv.FormatFloat(d.Seconds(), 'g', -1, 64))
	}
	return append(out, "+Inf")
}

// Cumulative turns per-bucket counts into running totals over exactly
// BucketCount buckets. Missing buckets count as empty; extras are dropped.
func Cumulative(raw []uint64) []uint64 {
	out := make([]uint64, BucketCount)
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
