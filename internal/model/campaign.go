// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "DRAFT"
	StatusScheduled CampaignStatus = "SCHEDULED"
	StatusSending   CampaignStatus = "SENDING"
	StatusCompleted CampaignStatus = "COMPLETED"
	StatusFailed    CampaignStatus = "FAILED"
)

// Launchable reports whether a campaign in status s may enter SENDING.
func (s CampaignStatus) Launchable() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusFailed:
		return true
	}
	return false
}

type Campaign struct {
	ID              int64          `db:"id" json:"id"`
	Name            string         `db:"name" json:"name"`
	AudienceRules   RuleGroup      `db:"audience_rules" json:"audienceRules"`
	MessageTemplate string         `db:"message_template" json:"messageTemplate"`
	Status          CampaignStatus `db:"status" json:"status"`
	AudienceSize    int            `db:"audience_size" json:"audienceSize"`
	SentCount       int            `db:"sent_count" json:"sentCount"`
	FailedCount     int            `db:"failed_count" json:"failedCount"`
	ScheduledAt     *time.Time     `db:"scheduled_at" json:"scheduledAt,omitempty"`
	CreatedBy       string         `db:"created_by" json:"createdBy"`
	CreatedAt       time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updatedAt"`
}

// Counters is the aggregate delivery state returned by an atomic
// increment of a campaign's counters.
type Counters struct {
	CampaignID   int64          `json:"campaignId"`
	Status       CampaignStatus `json:"status"`
	AudienceSize int            `json:"audienceSize"`
	SentCount    int            `json:"sentCount"`
	FailedCount  int            `json:"failedCount"`
}

// Done reports whether every expected outcome has been counted.
func (c Counters) Done() bool {
	return c.SentCount+c.FailedCount >= c.AudienceSize
}
