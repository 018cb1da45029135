package models

import (
	"time"

	"github.com/lib/pq"
)

// Course is a catalog entry with seat inventory and attendance code state.
type Course struct {
	ID             string         `db:"id" json:"id"`
	Name           string         `db:"name" json:"name"`
	Code           string         `db:"code" json:"code"`
	Description    string         `db:"description" json:"description"`
	StartDate      time.Time      `db:"start_date" json:"start_date"`
	EndDate        time.Time      `db:"end_date" json:"end_date"`
	CourseDate     time.Time      `db:"course_date" json:"course_date"`
	Location       string         `db:"location" json:"location"`
	Hours          int            `db:"hours" json:"hours"`
	MaxSeats       int            `db:"max_seats" json:"max_seats"`
	AvailableSeats int            `db:"available_seats" json:"available_seats"`
	Tags           pq.StringArray `db:"tags" json:"tags"`
	ImagePath      *string        `db:"image_path" json:"image_path,omitempty"`
	ProductRef     *string        `db:"product_ref" json:"product_ref,omitempty"`
	PriceRef       *string        `db:"price_ref" json:"price_ref,omitempty"`
	IsPublished    bool           `db:"is_published" json:"is_published"`
	IsDeleted      bool           `db:"is_deleted" json:"-"`

	// Single-use attendance code for the current session, with its
	// issuance timestamp used to detect "already generated".
	GeneratedCode   *string    `db:"generated_code" json:"-"`
	CodeGeneratedAt *time.Time `db:"code_generated_at" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CourseFilter provides filters for listing courses.
type CourseFilter struct {
	Search        string
	Tag           string
	PublishedOnly bool
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}

// AttendanceCode is the result of generating a session code.
type AttendanceCode struct {
	CourseID  string    `json:"course_id"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
