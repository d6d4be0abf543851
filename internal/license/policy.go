package license

import "time"

// Path tells the engine how a check must be carried out.
type Path int

const (
	// PathOnlineRequired means the operation must block on a fresh server
	// exchange before proceeding: there is no record, the record has expired
	// locally, or the offline grace window has been crossed.
	PathOnlineRequired Path = iota

	// PathCachedValid means the stored record is usable as-is; the engine
	// answers immediately and refreshes online in the background.
	PathCachedValid
)

// Decide returns the validation path for a stored record at a given time.
// It is a pure function: transitions are recomputed on every check, never
// stored.
func Decide(rec *Record, now time.Time) Path {
	if rec == nil {
		return PathOnlineRequired
	}
	// An expired local record is never trusted offline.
	if now.After(rec.ExpiresOn) {
		return PathOnlineRequired
	}
	if now.Sub(rec.LastValidatedAt) > rec.GracePeriod() {
		return PathOnlineRequired
	}
	return PathCachedValid
}

// ComputeStatus derives the record's status at a given time. Callers must
// never set status directly; this is the single source of the derivation.
func ComputeStatus(rec *Record, now time.Time) Status {
	switch {
	case rec == nil:
		return StatusUnactivated
	case now.After(rec.ExpiresOn):
		return StatusExpired
	case now.Sub(rec.LastValidatedAt) <= rec.GracePeriod():
		return StatusActive
	default:
		return StatusGrace
	}
}

// OfflineOutcome is the offline branch of the policy: the outcome of a check
// that could not (or did not) reach the server, computed from the stored
// record alone. The engine never fabricates validity beyond what this
// function grants.
func OfflineOutcome(rec *Record, now time.Time) Outcome {
	if rec == nil {
		return Outcome{
			IsValid:    false,
			Status:     StatusUnactivated,
			Message:    "no license has been activated on this installation",
			WasOffline: true,
		}
	}

	if now.After(rec.ExpiresOn) {
		return Outcome{
			IsValid:    false,
			Status:     StatusExpired,
			Message:    "license expired on " + rec.ExpiresOn.Format(time.RFC3339),
			WasOffline: true,
		}
	}

	sinceValidation := now.Sub(rec.LastValidatedAt)
	if sinceValidation > rec.GracePeriod() {
		// There is no offline grace beyond grace: the window exists precisely
		// to bound how long an unreachable server is tolerated.
		return Outcome{
			IsValid:    false,
			Status:     StatusGrace,
			Message:    "offline grace period exceeded; the license server must confirm this license",
			WasOffline: true,
		}
	}

	return Outcome{
		IsValid:    true,
		Status:     StatusGrace,
		Message:    "license accepted from local record within the offline grace period",
		WasOffline: true,
	}
}

// ComputeRenewalInfo derives renewal guidance from the record. Renewal is
// suggested inside the last 30 days of validity and urged inside the last 7.
func ComputeRenewalInfo(rec *Record, now time.Time) RenewalInfo {
	if rec == nil {
		return RenewalInfo{
			DaysLeft:     0,
			Status:       StatusUnactivated,
			Message:      "no license activated",
			NeedsRenewal: false,
			IsExpired:    false,
		}
	}

	status := ComputeStatus(rec, now)
	daysLeft := int(rec.ExpiresOn.Sub(now).Hours() / 24)

	info := RenewalInfo{
		DaysLeft:  daysLeft,
		Status:    status,
		IsExpired: status == StatusExpired,
	}

	switch {
	case info.IsExpired:
		info.DaysLeft = 0
		info.NeedsRenewal = true
		info.Message = "license has expired and must be renewed"
	case daysLeft <= 7:
		info.NeedsRenewal = true
		info.Message = "license expires within a week; renew now to avoid interruption"
	case daysLeft <= 30:
		info.NeedsRenewal = true
		info.Message = "license expires within 30 days; consider renewing"
	default:
		info.Message = "license does not need renewal yet"
	}

	return info
}
