package models

// Reservation tracks credits set aside for one job.
type Reservation struct {
	JobID     string `json:"job_id"`
	Amount    int64  `json:"amount"`
	Committed bool   `json:"committed"`
	Released  bool   `json:"released"`
}

// Open reports whether the reservation still holds credits.
func (r Reservation) Open() bool {
	return !r.Committed && !r.Released
}

// Balance is a snapshot of a ledger account.
type Balance struct {
	Plan      string `json:"plan"`
	Allowance int64  `json:"allowance"` // Remaining units, debited on commit
	Held      int64  `json:"held"`      // Sum of open reservations
}

// Available is what a new reservation may still claim.
func (b Balance) Available() int64 {
	return b.Allowance - b.Held
}
