// internal/model/communication_log.go
package model

import "time"

type LogStatus string

const (
	LogPending   LogStatus = "PENDING"
	LogSent      LogStatus = "SENT"
	LogFailed    LogStatus = "FAILED"
	LogDelivered LogStatus = "DELIVERED"
)

// Success reports whether s counts towards a campaign's sentCount.
func (s LogStatus) Success() bool {
	return s == LogSent || s == LogDelivered
}

// CommunicationLog is the per-recipient delivery record. There is at most
// one row per (CampaignID, CustomerID).
type CommunicationLog struct {
	ID              int64      `db:"id" json:"id"`
	CampaignID      int64      `db:"campaign_id" json:"campaignId"`
	CustomerID      int64      `db:"customer_id" json:"customerId"`
	Message         string     `db:"message" json:"message"`
	Status          LogStatus  `db:"status" json:"status"`
	VendorMessageID string     `db:"vendor_message_id" json:"vendorMessageId,omitempty"`
	SentAt          *time.Time `db:"sent_at" json:"sentAt,omitempty"`
	FailedAt        *time.Time `db:"failed_at" json:"failedAt,omitempty"`
	FailureReason   string     `db:"failure_reason" json:"failureReason,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
}

// Outcome is a terminal result applied to a PENDING log.
type Outcome struct {
	Status          LogStatus
	VendorMessageID string
	At              time.Time
	FailureReason   string
}
