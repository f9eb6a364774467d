package domain

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusFlagged  Status = "flagged"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusFlagged, StatusRejected:
		return true
	}
	return false
}

// ReviewCandidate is the immutable submission built once by the transport layer.
type ReviewCandidate struct {
	BrokerID     string `json:"broker_id" validate:"required,max=64"`
	AuthorID     string `json:"author_id" validate:"required,max=64"`
	Rating       int    `json:"rating" validate:"min=1,max=5"`
	Body         string `json:"body" validate:"min=10,max=1000"`
	CaptchaToken string `json:"captcha_token" validate:"required"`
	RemoteIP     string `json:"-"`
}

type Review struct {
	ID            string       `json:"id"`
	BrokerID      string       `json:"broker_id"`
	AuthorID      string       `json:"author_id"`
	Rating        int          `json:"rating"`
	SanitizedBody string       `json:"body"`
	Fingerprint   uint64       `json:"-"`
	Status        Status       `json:"status"`
	Flags         []FilterFlag `json:"flags,omitempty"`
	Severity      int          `json:"-"`
	CreatedAt     time.Time    `json:"created_at"`
	ModeratedAt   *time.Time   `json:"moderated_at,omitempty"`
	AdminNotes    *string      `json:"admin_notes,omitempty"`
	DuplicateOfID *string      `json:"duplicate_of_id,omitempty"`
}

type FlagKind string

const (
	FlagEmail     FlagKind = "email"
	FlagPhone     FlagKind = "phone"
	FlagNumber    FlagKind = "number"
	FlagProfanity FlagKind = "profanity"
	FlagDuplicate FlagKind = "duplicate"
)

// FilterFlag never carries the redacted value itself.
type FilterFlag struct {
	Kind   FlagKind `json:"kind"`
	Term   string   `json:"term,omitempty"`
	Count  int      `json:"count"`
	Weight int      `json:"weight,omitempty"`
}

// FingerprintRecord is the slice of a review the duplicate index keeps.
type FingerprintRecord struct {
	ReviewID    string
	BrokerID    string
	Fingerprint uint64
	// Body is the sanitized text; the index keeps only its term hashes.
	Body      string
	CreatedAt time.Time
}

type AuditEntry struct {
	ReviewID   string    `json:"review_id"`
	FromStatus Status    `json:"from_status,omitempty"`
	ToStatus   Status    `json:"to_status"`
	Actor      string    `json:"actor"`
	Notes      string    `json:"notes,omitempty"`
	At         time.Time `json:"at"`
}

// BrokerReviewAggregate is derived from the approved set; never edited by hand.
type BrokerReviewAggregate struct {
	BrokerID      string    `json:"broker_id"`
	ApprovedCount int64     `json:"approved_count"`
	RatingSum     int64     `json:"rating_sum"`
	AverageRating float64   `json:"average_rating"`
	LastUpdated   time.Time `json:"last_updated"`
}

// NewAggregate derives the average from count and sum so every caller computes it the same way.
func NewAggregate(brokerID string, count, sum int64, at time.Time) BrokerReviewAggregate {
	a := BrokerReviewAggregate{BrokerID: brokerID, ApprovedCount: count, RatingSum: sum, LastUpdated: at}
	if count > 0 {
		a.AverageRating = float64(sum) / float64(count)
	}
	return a
}

type SubmitResult struct {
	ReviewID string `json:"review_id"`
	Status   Status `json:"status"`
}
