package domain

// GymClass is an upcoming class as reported by the gym platform.
type GymClass struct {
	ID             string
	StartDate      string
	ClassTypeName  string
	AttendeesCount int
	// AttendeesLimit of zero means the class has no limit.
	AttendeesLimit int
}

// ReservationResult is the outcome of a class reservation.
type ReservationResult struct {
	OK            bool
	ReservationID string
}

// Contract is a member contract.
type Contract struct {
	ID           string
	PlanName     string
	Status       string
	IsActive     bool
	StartDate    string
	EndDate      string
	PaymentValue string
}

// ContractStatusCurrent marks the contract preferred for status replies.
const ContractStatusCurrent = "Current"

// Balance is a member's account balance.
type Balance struct {
	MemberID string
	Amount   float64
	Currency string
}

// Member is a gym member resolved from the members index.
type Member struct {
	TenantID string
	MemberID string
	Phone    string
	Email    string
}

// TicketRequest is what the ticketing capability receives.
type TicketRequest struct {
	TenantID    string
	Summary     string
	Description string
	Meta        map[string]any
}

// TicketResult is the outcome of ticket creation.
type TicketResult struct {
	OK       bool
	TicketID string
}
