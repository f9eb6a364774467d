// Package moderation holds the review status state machine.
package moderation

import (
	"fmt"

	"broker_reviews/internal/domain"
)

type Actor int

const (
	System Actor = iota
	Admin
)

// Policy decides what happens to a clean submission.
type Policy string

const (
	// PolicyAuto publishes clean reviews immediately.
	PolicyAuto Policy = "auto"
	// PolicyNewAuthors holds clean reviews from authors without an approved review.
	PolicyNewAuthors Policy = "new_authors"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyAuto, "":
		return PolicyAuto, nil
	case PolicyNewAuthors:
		return PolicyNewAuthors, nil
	}
	return "", fmt.Errorf("unknown review policy %q", s)
}

type edge struct{ from, to domain.Status }

// edges maps each permitted move to a bitmask of actors allowed to make it.
var edges = map[edge]uint8{}

func allow(from, to domain.Status, by ...Actor) {
	for _, a := range by {
		edges[edge{from, to}] |= 1 << uint(a)
	}
}

func init() {
	allow(domain.StatusPending, domain.StatusFlagged, System, Admin)
	allow(domain.StatusPending, domain.StatusApproved, System, Admin)
	allow(domain.StatusPending, domain.StatusRejected, Admin)
	allow(domain.StatusFlagged, domain.StatusApproved, Admin)
	allow(domain.StatusFlagged, domain.StatusRejected, Admin)
	allow(domain.StatusApproved, domain.StatusFlagged, Admin)
}

// CanTransition reports whether actor may move a review from one status to another.
// Rejected has no outgoing edges.
func CanTransition(from, to domain.Status, by Actor) bool {
	return edges[edge{from, to}]&(1<<uint(by)) != 0
}

// Check returns domain.ErrInvalidTransition for a disallowed move.
func Check(from, to domain.Status, by Actor) error {
	if !CanTransition(from, to, by) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	return nil
}

// Decision is the automatic outcome for a new submission.
type Decision struct {
	Status domain.Status
	Reason string
}

// Signals gathered while processing a submission.
type Signals struct {
	ProfanityExceeded bool
	DuplicateOf       string
	// FirstApproval is true when the author has no approved review yet.
	FirstApproval bool
}

// Decide applies the automatic transitions out of pending.
func Decide(p Policy, s Signals) Decision {
	switch {
	case s.ProfanityExceeded:
		return Decision{Status: domain.StatusFlagged, Reason: "profanity"}
	case s.DuplicateOf != "":
		return Decision{Status: domain.StatusFlagged, Reason: "near_duplicate"}
	case p == PolicyNewAuthors && s.FirstApproval:
		return Decision{Status: domain.StatusPending, Reason: "first_review"}
	}
	return Decision{Status: domain.StatusApproved, Reason: "clean"}
}

// AffectsVisibility reports whether a move changes approved-set membership.
func AffectsVisibility(from, to domain.Status) bool {
	return from != to && (from == domain.StatusApproved || to == domain.StatusApproved)
}
