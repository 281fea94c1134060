package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTargetNotFound = errors.New("target not found")
	ErrNoPlayers      = errors.New("no players in group")
)

// UpdateRejection is a caller-facing refusal to start an update. Time and
// SecondsWait are set for "please wait"; Conflict marks rejections caused
// by a task already queued.
type UpdateRejection struct {
	Reason      string
	Time        time.Time
	SecondsWait int
	Conflict    bool
}

func (e *UpdateRejection) Error() string {
	if e.SecondsWait > 0 {
		return fmt.Sprintf("%s %ds", e.Reason, e.SecondsWait)
	}
	return e.Reason
}

func reject(format string, args ...any) *UpdateRejection {
	return &UpdateRejection{Reason: fmt.Sprintf(format, args...)}
}
