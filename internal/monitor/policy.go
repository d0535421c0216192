package monitor

import (
	"fmt"
	"strings"
	"time"
)

type PolicyKind string

const (
	// PolicyOnChange notifies when a known record's body changes.
	PolicyOnChange PolicyKind = "on_change"
	// PolicyThresholdOnce notifies once when a record's metric reaches the threshold.
	PolicyThresholdOnce PolicyKind = "threshold_once"
)

// AgeBasis selects which timestamp the max-age filter compares against.
type AgeBasis string

const (
	AgeFromSource   AgeBasis = "source"
	AgeFromObserved AgeBasis = "observed"
)

// Policy decides which records are notification-worthy.
//
// Threshold and MaxAge apply to PolicyThresholdOnce only. MaxAge 0 disables
// the age filter.
type Policy struct {
	Kind      PolicyKind
	Threshold int64
	MaxAge    time.Duration
	AgeBasis  AgeBasis
}

// ParsePolicyKind normalizes a configured policy name.
func ParsePolicyKind(raw string) (PolicyKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "on_change", "on-change", "change":
		return PolicyOnChange, nil
	case "threshold_once", "threshold-once", "threshold":
		return PolicyThresholdOnce, nil
	default:
		return "", fmt.Errorf("unknown policy %q (use on_change or threshold_once)", raw)
	}
}

func ParseAgeBasis(raw string) (AgeBasis, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "source":
		return AgeFromSource, nil
	case "observed":
		return AgeFromObserved, nil
	default:
		return "", fmt.Errorf("unknown age_basis %q (use source or observed)", raw)
	}
}

type DecisionKind int

const (
	Ignore DecisionKind = iota
	Notify
	UpdateBaseline
)

func (k DecisionKind) String() string {
	switch k {
	case Ignore:
		return "ignore"
	case Notify:
		return "notify"
	case UpdateBaseline:
		return "update_baseline"
	default:
		return fmt.Sprintf("decision(%d)", int(k))
	}
}

// Decision is the evaluator's verdict for one record.
// PreviousBody is the body before this observation (empty on first sight).
type Decision struct {
	Kind         DecisionKind
	Reason       string
	PreviousBody string
}
