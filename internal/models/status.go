package models

import (
	"errors"
	"fmt"
)

// Status is the closed set of application states.
type Status string

const (
	StatusApplied      Status = "Applied"
	StatusInterviewing Status = "Interviewing"
	StatusRejected     Status = "Rejected"
	StatusOffer        Status = "Offer"
)

// Statuses lists every status in dashboard/chart order.
func Statuses() []Status {
	return []Status{StatusApplied, StatusInterviewing, StatusOffer, StatusRejected}
}

func (s Status) Valid() bool {
	switch s {
	case StatusApplied, StatusInterviewing, StatusRejected, StatusOffer:
		return true
	}
	return false
}

// Terminal reports whether no further progress is expected.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusOffer
}

// ParseStatus converts raw input into a Status. Matching is exact.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", errors.New(enumMessage(raw))
	}
	return s, nil
}

func enumMessage(raw string) string {
	return fmt.Sprintf("`%s` is not a valid enum value for path `status`.", raw)
}
