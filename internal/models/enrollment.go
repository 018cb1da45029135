package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. APPROVED and REJECTED are terminal.
const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusValidated EnrollmentStatus = "VALIDATED"
	EnrollmentStatusApproved  EnrollmentStatus = "APPROVED"
	EnrollmentStatusRejected  EnrollmentStatus = "REJECTED"
)

// Actionable reports whether an admin can still approve or reject.
func (s EnrollmentStatus) Actionable() bool {
	return s == EnrollmentStatusPending || s == EnrollmentStatusValidated
}

// Enrollment is the authoritative state-machine record for one
// (user, course) pair, unique on that pair.
type Enrollment struct {
	ID             string           `db:"id" json:"id"`
	UserID         string           `db:"user_id" json:"user_id"`
	CourseID       string           `db:"course_id" json:"course_id"`
	Status         EnrollmentStatus `db:"status" json:"status"`
	EnrollDate     time.Time        `db:"enroll_date" json:"enroll_date"`
	ValidationCode *string          `db:"validation_code" json:"validation_code,omitempty"`
	ValidatedAt    *time.Time       `db:"validated_at" json:"validated_at,omitempty"`
	VerifiedBy     *string          `db:"verified_by" json:"verified_by,omitempty"`
	VerifiedAt     *time.Time       `db:"verified_at" json:"verified_at,omitempty"`
}

// EnrollmentDetail enriches Enrollment with trader and course info.
type EnrollmentDetail struct {
	Enrollment
	TraderName     string    `db:"trader_name" json:"trader_name"`
	TraderCompany  string    `db:"trader_company" json:"trader_company"`
	CourseName     string    `db:"course_name" json:"course_name"`
	CourseDate     time.Time `db:"course_date" json:"course_date"`
	CourseLocation string    `db:"course_location" json:"course_location"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	UserID    string
	CourseID  string
	Status    EnrollmentStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// RegistrationSummary is returned after a successful course registration.
type RegistrationSummary struct {
	Enrollment Enrollment `json:"enrollment"`
	Trader     Trader     `json:"trader"`
	Course     Course     `json:"course"`
}

// RegistrationStatus reports whether a user is registered for a course,
// cross-checked against three independent sources.
type RegistrationStatus struct {
	Registered       bool             `json:"registered"`
	Status           EnrollmentStatus `json:"status,omitempty"`
	EnrollmentRecord bool             `json:"enrollment_record"`
	CourseMembership bool             `json:"course_membership"`
	TrainingRecord   bool             `json:"training_record"`
}
