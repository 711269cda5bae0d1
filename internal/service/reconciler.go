// internal/service/reconciler.go
package service

import (
	"context"
	"log/slog"

	"github.com/unclebandit/crm-campaigns/internal/cache"
	appErrors "github.com/unclebandit/crm-campaigns/internal/errors"
	"github.com/unclebandit/crm-campaigns/internal/model"
	"github.com/unclebandit/crm-campaigns/internal/repository"
)

const defaultFailureReason = "Unknown"

type Reconciler struct {
	LogRepo repository.CommunicationLogRepositoryInterface
	Cache   cache.ReceiptCache
	Logger  *slog.Logger
}

type ReconcileResult struct {
	Duplicate bool           `json:"duplicate"`
	Counters  model.Counters `json:"counters"`
}

// Reconcile applies a vendor receipt. The first terminal outcome for a log
// wins; any later receipt for it is reported as a duplicate and changes
// nothing.
func (r *Reconciler) Reconcile(ctx context.Context, receipt model.Receipt) (ReconcileResult, error) {
	if err := validateReceipt(receipt); err != nil {
		return ReconcileResult{}, err
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rc := r.Cache
	if rc == nil {
		rc = cache.Noop{}
	}

	seen, err := rc.Seen(ctx, receipt)
	if err != nil {
		logger.Warn("receipt cache unavailable", "error", err)
	} else if seen {
		logger.Info("duplicate receipt", "communication_log_id", receipt.CommunicationLogID, "source", "cache")
		return ReconcileResult{Duplicate: true}, nil
	}

	outcome := model.Outcome{
		Status:          receipt.Status,
		VendorMessageID: receipt.VendorMessageID,
		At:              receipt.Timestamp,
	}
	if !receipt.Status.Success() {
		outcome.FailureReason = receipt.FailureReason
		if outcome.FailureReason == "" {
			outcome.FailureReason = defaultFailureReason
		}
	}

	counters, applied, err := r.LogRepo.ApplyOutcome(ctx, receipt.CommunicationLogID, outcome)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return ReconcileResult{}, err
		}
		return ReconcileResult{}, appErrors.NewPersistence("apply receipt", err)
	}

	if err := rc.Remember(ctx, receipt); err != nil {
		logger.Warn("failed to cache receipt", "communication_log_id", receipt.CommunicationLogID, "error", err)
	}

	if !applied {
		logger.Info("duplicate receipt", "communication_log_id", receipt.CommunicationLogID, "status", receipt.Status)
		return ReconcileResult{Duplicate: true, Counters: counters}, nil
	}
	if counters.Status == model.StatusCompleted && counters.Done() {
		logger.Info("campaign completed", "campaign_id", counters.CampaignID,
			"sent", counters.SentCount, "failed", counters.FailedCount)
	}
	return ReconcileResult{Counters: counters}, nil
}

func validateReceipt(r model.Receipt) error {
	if r.CommunicationLogID <= 0 {
		return appErrors.NewValidation("communicationLogId", "is required")
	}
	switch r.Status {
	case model.LogSent, model.LogDelivered, model.LogFailed:
	case "":
		return appErrors.NewValidation("status", "is required")
	default:
		return appErrors.NewValidation("status", "must be SENT, DELIVERED or FAILED, got %q", r.Status)
	}
	if r.VendorMessageID == "" {
		return appErrors.NewValidation("vendorMessageId", "is required")
	}
	if r.Timestamp.IsZero() {
		return appErrors.NewValidation("timestamp", "is required")
	}
	return nil
}
