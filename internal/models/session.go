package models

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies which side of an exchange a session tracks.
// One person can hold EXPERT sessions (questions routed to them) and
// EXPERT_AS_EMPLOYEE sessions (questions they asked) at the same time.
type Role string

const (
	RoleEmployee         Role = "EMPLOYEE"
	RoleExpert           Role = "EXPERT"
	RoleExpertAsEmployee Role = "EXPERT_AS_EMPLOYEE"
)

// Valid reports whether r is one of the defined roles
func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleExpert, RoleExpertAsEmployee:
		return true
	}
	return false
}

// ParseRole converts a loosely formatted role name into a Role
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// SessionStatus is the lifecycle state of a session
type SessionStatus string

const (
	StatusActive        SessionStatus = "ACTIVE"
	StatusWaitingExpert SessionStatus = "WAITING_EXPERT"
	StatusResolved      SessionStatus = "RESOLVED"
	StatusExpired       SessionStatus = "EXPIRED"
)

// Terminal reports whether no further mutation is allowed
func (s SessionStatus) Terminal() bool {
	return s == StatusResolved || s == StatusExpired
}

// allowedTransitions lists the explicit transitions callers may request.
// EXPIRED is absent on purpose: only the TTL sweep produces it.
var allowedTransitions = map[SessionStatus][]SessionStatus{
	StatusActive:        {StatusWaitingExpert, StatusResolved},
	StatusWaitingExpert: {StatusResolved},
}

// CanTransition reports whether an explicit move from -> to is allowed
func CanTransition(from, to SessionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is one tracked question/answer exchange.
// The full transcript lives with an external collaborator under FullContextKey.
type Session struct {
	SessionID       string        `json:"session_id"`
	UserID          string        `json:"user_id"`
	Channel         Channel       `json:"channel"`
	Role            Role          `json:"role"`
	Status          SessionStatus `json:"status"`
	Summary         string        `json:"summary"`
	KeyPoints       []string      `json:"key_points"`
	Version         int64         `json:"version"`
	CreatedAt       time.Time     `json:"created_at"`
	LastActiveAt    time.Time     `json:"last_active_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
	FullContextKey  string        `json:"full_context_key"`
	LinkedSessionID string        `json:"linked_session_id,omitempty"` // asker <-> expert session pairing
	ExpertID        string        `json:"expert_id,omitempty"`         // expert an escalated session was routed to
}

// Clone returns a deep copy so callers never share the KeyPoints backing array
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.KeyPoints != nil {
		c.KeyPoints = append([]string(nil), s.KeyPoints...)
	}
	return &c
}

// ExpiredAt reports whether the session is past its TTL deadline at now
func (s *Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// OwnerKey is the (user, role) index key the session is listed under
func (s *Session) OwnerKey() string {
	return OwnerKey(s.UserID, s.Role)
}

// OwnerKey builds the index key for a (user, role) pair
func OwnerKey(userID string, role Role) string {
	return userID + ":" + string(role)
}

// SummaryMode controls how SessionDelta.Summary is merged
type SummaryMode int

const (
	SummaryAppend SummaryMode = iota
	SummaryReplace
)

// summarySeparator joins appended summary fragments
const summarySeparator = " | "

// SessionDelta is an additive change. Two writers that each submit a delta
// both land in the record instead of one overwriting the other.
type SessionDelta struct {
	Summary         string
	SummaryMode     SummaryMode
	KeyPoints       []string
	Status          *SessionStatus
	LinkedSessionID string
	ExpertID        string
}

// IsEmpty reports whether applying the delta would change nothing but the version
func (d SessionDelta) IsEmpty() bool {
	return d.Summary == "" && len(d.KeyPoints) == 0 && d.Status == nil &&
		d.LinkedSessionID == "" && d.ExpertID == ""
}

// WithStatus returns a copy of d that also moves the session to status
func (d SessionDelta) WithStatus(status SessionStatus) SessionDelta {
	d.Status = &status
	return d
}

// ApplyTo merges the delta into s in place. maxKeyPoints bounds the key point
// list; the oldest points are evicted first. Status validation is the caller's job.
func (d SessionDelta) ApplyTo(s *Session, maxKeyPoints int) {
	if summary := strings.TrimSpace(d.Summary); summary != "" {
		if d.SummaryMode == SummaryReplace || s.Summary == "" {
			s.Summary = summary
		} else {
			s.Summary = s.Summary + summarySeparator + summary
		}
	}

	for _, point := range d.KeyPoints {
		point = strings.TrimSpace(point)
		if point == "" || containsString(s.KeyPoints, point) {
			continue
		}
		s.KeyPoints = append(s.KeyPoints, point)
	}
	if maxKeyPoints > 0 && len(s.KeyPoints) > maxKeyPoints {
		s.KeyPoints = append([]string(nil), s.KeyPoints[len(s.KeyPoints)-maxKeyPoints:]...)
	}

	if d.Status != nil {
		s.Status = *d.Status
	}
	if d.LinkedSessionID != "" && s.LinkedSessionID == "" {
		s.LinkedSessionID = d.LinkedSessionID
	}
	if d.ExpertID != "" && s.ExpertID == "" {
		s.ExpertID = d.ExpertID
	}
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
