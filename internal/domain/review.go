package domain

import "time"

const (
	// MinReviewRating is the lowest accepted star rating.
	MinReviewRating = 1
	// MaxReviewRating is the highest accepted star rating.
	MaxReviewRating = 5
)

// Review is a customer's rating of a product they received. A customer reviews a product once.
type Review struct {
	ID         string
	ProductID  string
	CustomerID string
	Rating     int
	Comment    string
	CreatedAt  time.Time
}
