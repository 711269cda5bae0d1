// internal/service/dispatcher.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	appErrors "github.com/unclebandit/crm-campaigns/internal/errors"
	"github.com/unclebandit/crm-campaigns/internal/model"
	"github.com/unclebandit/crm-campaigns/internal/queue"
	"github.com/unclebandit/crm-campaigns/internal/repository"
)

// VendorSender submits a delivery job to the vendor.
type VendorSender interface {
	Send(ctx context.Context, job model.DeliveryJob) error
}

// Dispatcher renders and records one message per recipient, hands the
// jobs to the queue, and on the consuming side submits them to the vendor.
type Dispatcher struct {
	CampaignRepo repository.CampaignRepositoryInterface
	LogRepo      repository.CommunicationLogRepositoryInterface
	Queue        queue.Queue
	Vendor       VendorSender
	CallbackURL  string
	Logger       *slog.Logger
	Now          func() time.Time
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// Dispatch queues a delivery for every customer and returns how many were
// handed off. A customer that cannot be recorded or queued is counted as
// failed right away; the rest of the batch continues.
//
// Every recipient ends up queued or counted, so cancelling ctx does not
// interrupt the batch.
func (d *Dispatcher) Dispatch(ctx context.Context, campaign *model.Campaign, customers []model.Customer) int {
	ctx = context.WithoutCancel(ctx)
	initiated := 0
	for i := range customers {
		c := &customers[i]
		message := RenderTemplate(campaign.MessageTemplate, c)

		l := &model.CommunicationLog{CampaignID: campaign.ID, CustomerID: c.ID, Message: message}
		if err := d.LogRepo.Upsert(ctx, l); err != nil {
			d.logger().Warn("failed to record communication log",
				"campaign_id", campaign.ID, "customer_id", c.ID, "error", err)
			if _, err := d.CampaignRepo.RecordDispatchFailure(ctx, campaign.ID, d.now()); err != nil {
				d.logger().Error("failed to count dispatch failure", "campaign_id", campaign.ID, "error", err)
			}
			continue
		}

		job := model.DeliveryJob{
			CommunicationLogID: l.ID,
			CampaignID:         campaign.ID,
			CustomerID:         c.ID,
			CustomerEmail:      c.Email,
			Message:            message,
			CallbackURL:        d.CallbackURL,
		}
		if err := d.Queue.Publish(ctx, job); err != nil {
			d.logger().Warn("failed to enqueue delivery",
				"campaign_id", campaign.ID, "communication_log_id", l.ID, "error", err)
			d.fail(ctx, l.ID, "Dispatch error: "+err.Error())
			continue
		}
		initiated++
	}
	return initiated
}

// Deliver submits a queued job. Acceptance leaves the log PENDING until a
// receipt arrives; a rejection or transport failure resolves it as FAILED.
// Only a failure to persist that outcome is returned.
func (d *Dispatcher) Deliver(ctx context.Context, job model.DeliveryJob) error {
	l, err := d.LogRepo.GetByID(ctx, job.CommunicationLogID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return err
		}
		return appErrors.NewPersistence("load communication log", err)
	}
	if l.Status != model.LogPending {
		// Redelivered after it was already resolved.
		return nil
	}

	err = d.Vendor.Send(ctx, job)
	if err == nil {
		d.logger().Debug("vendor accepted delivery", "communication_log_id", job.CommunicationLogID)
		return nil
	}

	reason := failureReason(err)
	d.logger().Warn("vendor delivery failed",
		"campaign_id", job.CampaignID, "communication_log_id", job.CommunicationLogID, "reason", reason)
	if _, _, err := d.LogRepo.ApplyOutcome(ctx, job.CommunicationLogID, model.Outcome{
		Status:        model.LogFailed,
		At:            d.now(),
		FailureReason: reason,
	}); err != nil {
		return appErrors.NewPersistence("record vendor failure", err)
	}
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, logID int64, reason string) {
	_, _, err := d.LogRepo.ApplyOutcome(ctx, logID, model.Outcome{Status: model.LogFailed, At: d.now(), FailureReason: reason})
	if err != nil {
		d.logger().Error("failed to record dispatch failure", "communication_log_id", logID, "error", err)
	}
}

func failureReason(err error) string {
	var rejected *appErrors.VendorRejectedError
	if errors.As(err, &rejected) {
		return fmt.Sprintf("Vendor API error: %d - %s", rejected.StatusCode, rejected.Message)
	}
	if appErrors.IsTransport(err) {
		return "Network error: " + err.Error()
	}
	return "Dispatch error: " + err.Error()
}
