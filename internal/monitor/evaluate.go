package monitor

import "time"

// Evaluate decides what to do with rec given its prior state.
//
// It is pure: no I/O, no clock reads besides now. The returned entry is the
// state the caller must store for rec; nil means the store stays untouched.
// Records without a key must be filtered out before calling Evaluate.
func Evaluate(rec Record, prior *StateEntry, p Policy, now time.Time) (Decision, *StateEntry) {
	switch p.Kind {
	case PolicyThresholdOnce:
		return evaluateThreshold(rec, prior, p, now)
	default:
		return evaluateChange(rec, prior, now)
	}
}

func evaluateChange(rec Record, prior *StateEntry, now time.Time) (Decision, *StateEntry) {
	if prior == nil {
		return Decision{Kind: UpdateBaseline, Reason: "first sight"}, newEntry(rec, now)
	}
	if prior.LastBody != rec.Body {
		next := *prior
		next.LastBody = rec.Body
		next.LastMetric = cloneMetric(rec.Metric)
		return Decision{Kind: Notify, Reason: "body changed", PreviousBody: prior.LastBody}, &next
	}
	if !metricEqual(prior.LastMetric, rec.Metric) {
		next := *prior
		next.LastMetric = cloneMetric(rec.Metric)
		return Decision{Kind: UpdateBaseline, Reason: "metric changed", PreviousBody: prior.LastBody}, &next
	}
	return Decision{Kind: Ignore, Reason: "unchanged", PreviousBody: prior.LastBody}, nil
}

func evaluateThreshold(rec Record, prior *StateEntry, p Policy, now time.Time) (Decision, *StateEntry) {
	if tooOld(rec, p, now) {
		return Decision{Kind: Ignore, Reason: "older than max age"}, nil
	}

	var next StateEntry
	created := prior == nil
	if created {
		next = *newEntry(rec, now)
	} else {
		next = *prior
	}
	changed := created || next.LastBody != rec.Body || !metricEqual(next.LastMetric, rec.Metric)
	next.LastBody = rec.Body
	next.LastMetric = cloneMetric(rec.Metric)

	prevBody := ""
	if prior != nil {
		prevBody = prior.LastBody
	}

	if !next.Notified && rec.Metric != nil && *rec.Metric >= p.Threshold {
		next.Notified = true
		return Decision{Kind: Notify, Reason: "threshold reached", PreviousBody: prevBody}, &next
	}
	if changed {
		reason := "metric below threshold"
		if created {
			reason = "first sight"
		} else if next.Notified {
			reason = "already notified"
		}
		return Decision{Kind: UpdateBaseline, Reason: reason, PreviousBody: prevBody}, &next
	}
	reason := "unchanged"
	if next.Notified {
		reason = "already notified"
	}
	return Decision{Kind: Ignore, Reason: reason, PreviousBody: prevBody}, nil
}

// tooOld applies the max-age filter. Records without the selected
// timestamp are never filtered.
func tooOld(rec Record, p Policy, now time.Time) bool {
	if p.MaxAge <= 0 {
		return false
	}
	ts := rec.SourceTimestamp
	if p.AgeBasis == AgeFromObserved {
		ts = rec.ObservedAt
	}
	if ts.IsZero() {
		return false
	}
	return now.Sub(ts) > p.MaxAge
}

func newEntry(rec Record, now time.Time) *StateEntry {
	first := rec.ObservedAt
	if first.IsZero() {
		first = now
	}
	return &StateEntry{
		LastBody:    rec.Body,
		LastMetric:  cloneMetric(rec.Metric),
		FirstSeenAt: first,
	}
}
