// internal/model/delivery.go
package model

import "time"

// DeliveryJob is handed from the dispatcher to the delivery queue, one per
// recipient.
type DeliveryJob struct {
	CommunicationLogID int64  `json:"communicationLogId"`
	CampaignID         int64  `json:"campaignId"`
	CustomerID         int64  `json:"customerId"`
	CustomerEmail      string `json:"customerEmail"`
	Message            string `json:"message"`
	CallbackURL        string `json:"callbackUrl"`
}

// Receipt is an asynchronous delivery outcome reported by the vendor.
type Receipt struct {
	CommunicationLogID int64     `json:"communicationLogId"`
	Status             LogStatus `json:"status"`
	VendorMessageID    string    `json:"vendorMessageId"`
	Timestamp          time.Time `json:"timestamp"`
	FailureReason      string    `json:"failureReason,omitempty"`
}
