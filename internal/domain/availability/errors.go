package availability

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidPeriod = errors.New("invalid period")

	ErrPolicyIncomplete      = errors.New("reservation policy incomplete")
	ErrNoActiveTables        = errors.New("no active tables")
	ErrNoOpenDays            = errors.New("no open days")
	ErrAGSRejected           = errors.New("availability generation rejected")
	ErrAGSUnavailable        = errors.New("availability generation service unavailable")
	ErrExceptionUpsertFailed = errors.New("calendar exception upsert failed")
)

// RegenerationError is the typed failure of a coordinator run. Code is one
// of the Err* sentinels above and matches with errors.Is.
type RegenerationError struct {
	Code    error
	Reason  string
	Hint    string
	Missing []string
	Err     error
}

func (e *RegenerationError) Error() string {
	if e.Err != nil && errors.Is(e.Err, e.Code) {
		return e.Err.Error()
	}
	var b strings.Builder
	b.WriteString(e.Code.Error())
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, " (missing %s)", strings.Join(e.Missing, ", "))
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RegenerationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Err}
}

// CodeOf returns the short machine name of a run failure, or "" if err is
// not one of the regeneration failures.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPolicyIncomplete):
		return "policy_incomplete"
	case errors.Is(err, ErrNoActiveTables):
		return "no_active_tables"
	case errors.Is(err, ErrNoOpenDays):
		return "no_open_days"
	case errors.Is(err, ErrAGSRejected):
		return "ags_rejected"
	case errors.Is(err, ErrAGSUnavailable):
		return "ags_unavailable"
	case errors.Is(err, ErrExceptionUpsertFailed):
		return "exception_upsert_failed"
	case errors.Is(err, ErrInvalidPeriod):
		return "invalid_period"
	}
	return ""
}
