package pipeline

import (
	"fmt"
	"time"
)

// Failure reasons a run can end with.
const (
	ReasonNotAuthenticated = "not_authenticated"
	ReasonUnitNotFound     = "unit_not_found"
	ReasonDailyLimit       = "daily_limit_reached"
	ReasonWeeklyLimit      = "weekly_limit_reached"
	ReasonProviderError    = "provider_error"
	ReasonJSONParse        = "json_parse_error"
	ReasonInvalidExercise  = "invalid_exercise"
	ReasonPersistFailed    = "persist_failed"
	ReasonTimeout          = "timeout"
	ReasonInternal         = "internal_error"
)

// Error is the single terminal error of a failed run.
type Error struct {
	Reason  string
	Phase   string
	Message string
	ResetAt *time.Time
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("rwp generation failed in %s: %s", e.Phase, e.Reason)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// QuotaExceeded reports whether the run was refused by the usage ledger.
func (e *Error) QuotaExceeded() bool {
	return e.Reason == ReasonDailyLimit || e.Reason == ReasonWeeklyLimit
}

// UserMessage is the text shown to the learner. Upstream details stay in
// the logs.
func (e *Error) UserMessage() string {
	switch e.Reason {
	case ReasonNotAuthenticated:
		return "Please sign in to generate reading practice."
	case ReasonUnitNotFound:
		return "This unit does not exist."
	case ReasonDailyLimit, ReasonWeeklyLimit:
		if e.ResetAt != nil {
			return fmt.Sprintf("You have reached your reading practice limit. Try again after %s.",
				e.ResetAt.Local().Format("Mon Jan 2 15:04"))
		}
		return "You have reached your reading practice limit."
	case ReasonPersistFailed:
		return "Your content was generated but could not be saved. Please try again."
	case ReasonTimeout:
		return "Generating content took too long. Please try again."
	case ReasonProviderError, ReasonJSONParse, ReasonInvalidExercise:
		return "Could not generate content, please try again."
	default:
		return "Something went wrong, please try again."
	}
}
