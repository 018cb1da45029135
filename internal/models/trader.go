package models

import "time"

// Trader is the certification subject, one per user account.
// StartDate/EndDate form the certification validity window; both stay unset
// until the trader's first approved course completion.
type Trader struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	Company      string     `db:"company" json:"company"`
	FullName     string     `db:"full_name" json:"full_name"`
	GovernmentID string     `db:"government_id" json:"government_id"`
	Phone        string     `db:"phone" json:"phone"`
	Email        string     `db:"email" json:"email"`
	StartDate    *time.Time `db:"start_date" json:"start_date,omitempty"`
	EndDate      *time.Time `db:"end_date" json:"end_date,omitempty"`

	// Denormalized display breakdowns maintained by the status engine.
	DurationYears   int `db:"duration_years" json:"duration_years"`
	DurationMonths  int `db:"duration_months" json:"duration_months"`
	DurationDays    int `db:"duration_days" json:"duration_days"`
	RemainingYears  int `db:"remaining_years" json:"remaining_years"`
	RemainingMonths int `db:"remaining_months" json:"remaining_months"`
	RemainingDays   int `db:"remaining_days" json:"remaining_days"`

	IsDeleted bool      `db:"is_deleted" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Training is one course registration on a trader's history.
// Rows are appended at registration, removed on rejection, and flipped to
// completed on approval.
type Training struct {
	ID            string    `db:"id" json:"id"`
	TraderID      string    `db:"trader_id" json:"trader_id"`
	CourseID      string    `db:"course_id" json:"course_id"`
	CourseName    string    `db:"course_name" json:"course_name"`
	Description   string    `db:"description" json:"description"`
	Location      string    `db:"location" json:"location"`
	Hours         int       `db:"hours" json:"hours"`
	ScheduledDate time.Time `db:"scheduled_date" json:"scheduled_date"`
	IsCompleted   bool      `db:"is_completed" json:"is_completed"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// TimeBreakdown is a years/months/days decomposition used by display fields.
type TimeBreakdown struct {
	Years  int `json:"years"`
	Months int `json:"months"`
	Days   int `json:"days"`
}

// CertificationWindow carries a recomputed validity window and its displays.
type CertificationWindow struct {
	StartDate time.Time     `json:"start_date"`
	EndDate   time.Time     `json:"end_date"`
	Duration  TimeBreakdown `json:"duration"`
	Remaining TimeBreakdown `json:"remaining"`
}

// TraderDetail joins a trader with its training history.
type TraderDetail struct {
	Trader
	Trainings []Training `json:"trainings"`
}
