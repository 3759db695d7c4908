package domain

import "time"

// PendingStatus is the lifecycle of a queued external order.
type PendingStatus string

const (
	PendingQueued PendingStatus = "QUEUED"
	PendingDone   PendingStatus = "DONE"
	PendingFailed PendingStatus = "FAILED"
)

// PendingOrder is an already-decided order waiting to be executed.
type PendingOrder struct {
	ID        string
	Slug      string
	Outcome   Outcome
	Price     float64
	Shares    float64
	Intent    Intent
	Reasoning string
	Status    PendingStatus
	Detail    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Request converts the queued row into an executor request.
func (p PendingOrder) Request() OrderRequest {
	return OrderRequest{
		Slug:      p.Slug,
		Outcome:   p.Outcome,
		Price:     p.Price,
		Shares:    p.Shares,
		Reasoning: p.Reasoning,
		Intent:    p.Intent,
	}
}
