package models

// StudentSummary is the slice of the student directory the hall pass engine reads.
type StudentSummary struct {
	ID       string `db:"id" json:"id"`
	FullName string `db:"full_name" json:"full_name"`
}
