package leads

import (
	"time"

	"github.com/chandankrroy/erino-backend/core/pointers"
)

// lead sources and statuses. The database stores them as plain varchars,
// unknown values fall back to the defaults on write.
var (
	Sources  = []string{"website", "facebook_ads", "google_ads", "referral", "events", "other"}
	Statuses = []string{"new", "contacted", "qualified", "lost", "won"}
)

const (
	defaultSource = "other"
	defaultStatus = "new"
)

// Lead is a sales-prospect record owned by a user. All reads and writes
// are scoped to the owning user.
type Lead struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone"`
	Company        string     `json:"company"`
	City           string     `json:"city"`
	State          string     `json:"state"`
	Source         string     `json:"source"`
	Status         string     `json:"status"`
	Score          int        `json:"score"`
	LeadValue      float64    `json:"lead_value"`
	LastActivityAt *time.Time `json:"last_activity_at"`
	IsQualified    bool       `json:"is_qualified"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// leadRequest is the payload accepted by create and update. Optional fields
// are pointers so that absent values can fall back to their defaults.
type leadRequest struct {
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Email          string     `json:"email"`
	Phone          *string    `json:"phone"`
	Company        *string    `json:"company"`
	City           *string    `json:"city"`
	State          *string    `json:"state"`
	Source         *string    `json:"source"`
	Status         *string    `json:"status"`
	Score          *int       `json:"score"`
	LeadValue      *float64   `json:"lead_value"`
	LastActivityAt *time.Time `json:"last_activity_at"`
	IsQualified    *bool      `json:"is_qualified"`
}

// lead materializes the request into a lead owned by userID, with defaults
// applied for everything the client did not send.
func (lr leadRequest) lead(userID int64) Lead {
	lead := Lead{
		UserID:         userID,
		FirstName:      lr.FirstName,
		LastName:       lr.LastName,
		Email:          lr.Email,
		Phone:          pointers.SafeString(lr.Phone),
		Company:        pointers.SafeString(lr.Company),
		City:           pointers.SafeString(lr.City),
		State:          pointers.SafeString(lr.State),
		Source:         normalize(pointers.SafeString(lr.Source), Sources, defaultSource),
		Status:         normalize(pointers.SafeString(lr.Status), Statuses, defaultStatus),
		Score:          clampScore(pointers.SafeInt(lr.Score)),
		LeadValue:      pointers.SafeFloat64(lr.LeadValue),
		LastActivityAt: lr.LastActivityAt,
		IsQualified:    pointers.SafeBool(lr.IsQualified),
	}
	return lead
}

func normalize(value string, allowed []string, fallback string) string {
	for _, a := range allowed {
		if value == a {
			return value
		}
	}
	return fallback
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
