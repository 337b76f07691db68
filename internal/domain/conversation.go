package domain

import "time"

// ConversationStatus is the state-machine position of a conversation.
type ConversationStatus string

const (
	StatusNone                 ConversationStatus = "none"
	StatusAwaitingConfirmation ConversationStatus = "awaiting_confirmation"
	StatusAwaitingVerification ConversationStatus = "awaiting_verification"
	StatusAwaitingChallenge    ConversationStatus = "awaiting_challenge"
	StatusHandover             ConversationStatus = "handover"
)

// VerificationLevel describes how strongly the messaging identity is bound to a gym member.
type VerificationLevel string

const (
	VerificationNone   VerificationLevel = "none"
	VerificationStrong VerificationLevel = "strong"
)

// ChallengeDOB asks the WhatsApp user for their date of birth.
const ChallengeDOB = "dob"

// Conversation is the durable per tenant+channel+user state.
type Conversation struct {
	TenantID          string
	Channel           Channel
	ChannelUserID     string
	LanguageCode      string
	LastIntent        string
	Status            ConversationStatus
	PGMemberID        string
	VerificationLevel VerificationLevel
	VerifiedUntil     int64
	VerificationCode  string
	ChallengeType     string
	ChallengeAttempts int
	AssignedAgent     string
	UpdatedAt         int64
}

// StronglyVerified reports whether strong verification is present and not expired.
func (c *Conversation) StronglyVerified(now time.Time) bool {
	if c == nil {
		return false
	}
	return c.VerificationLevel == VerificationStrong && c.VerifiedUntil >= now.Unix()
}

// CurrentStatus treats a missing status as StatusNone.
func (c *Conversation) CurrentStatus() ConversationStatus {
	if c == nil || c.Status == "" {
		return StatusNone
	}
	return c.Status
}

// ConversationPatch is a partial update: only non-nil fields are written.
// A pointer to the zero value clears the stored field.
type ConversationPatch struct {
	LanguageCode      *string
	LastIntent        *string
	Status            *ConversationStatus
	PGMemberID        *string
	VerificationLevel *VerificationLevel
	VerifiedUntil     *int64
	VerificationCode  *string
	ChallengeType     *string
	ChallengeAttempts *int
	AssignedAgent     *string
}

// IsEmpty reports whether the patch would write nothing.
func (p ConversationPatch) IsEmpty() bool {
	return p.LanguageCode == nil && p.LastIntent == nil && p.Status == nil &&
		p.PGMemberID == nil && p.VerificationLevel == nil && p.VerifiedUntil == nil &&
		p.VerificationCode == nil && p.ChallengeType == nil && p.ChallengeAttempts == nil &&
		p.AssignedAgent == nil
}

// Apply folds the patch into c. Stores that keep conversations in memory use it
// to share the same partial-update semantics as the DynamoDB store.
func (p ConversationPatch) Apply(c *Conversation) {
	if p.LanguageCode != nil {
		c.LanguageCode = *p.LanguageCode
	}
	if p.LastIntent != nil {
		c.LastIntent = *p.LastIntent
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.PGMemberID != nil {
		c.PGMemberID = *p.PGMemberID
	}
	if p.VerificationLevel != nil {
		c.VerificationLevel = *p.VerificationLevel
	}
	if p.VerifiedUntil != nil {
		c.VerifiedUntil = *p.VerifiedUntil
	}
	if p.VerificationCode != nil {
		c.VerificationCode = *p.VerificationCode
	}
	if p.ChallengeType != nil {
		c.ChallengeType = *p.ChallengeType
	}
	if p.ChallengeAttempts != nil {
		c.ChallengeAttempts = *p.ChallengeAttempts
	}
	if p.AssignedAgent != nil {
		c.AssignedAgent = *p.AssignedAgent
	}
}

// Ref returns a pointer to v, for building patches inline.
func Ref[T any](v T) *T {
	return &v
}

// PendingReservation is a reservation awaiting a yes/no from the user.
type PendingReservation struct {
	Phone          string
	ClassID        string
	MemberID       string
	IdempotencyKey string
	CreatedAt      int64
}

// Tenant carries per-tenant settings.
type Tenant struct {
	TenantID     string
	LanguageCode string
}

// Template is a stored reply body with {placeholder} markers.
type Template struct {
	TenantID     string
	Name         string
	LanguageCode string
	Body         string
}
