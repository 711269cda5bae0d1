// internal/repository/communication_log_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/unclebandit/crm-campaigns/internal/db"
	appErrors "github.com/unclebandit/crm-campaigns/internal/errors"
	"github.com/unclebandit/crm-campaigns/internal/model"
)

type CommunicationLogRepositoryInterface interface {
	Upsert(ctx context.Context, l *model.CommunicationLog) error
	GetByID(ctx context.Context, id int64) (*model.CommunicationLog, error)
	ListByCampaign(ctx context.Context, campaignID int64, status string, offset, limit int) ([]*model.CommunicationLog, int, error)
	StatsByCampaign(ctx context.Context, campaignID int64) (map[model.LogStatus]int, error)

	// ApplyOutcome moves a PENDING log to a terminal status and bumps the
	// owning campaign's counters in one transaction. applied is false when
	// the log already had a terminal status; counters are then the current
	// values, unchanged.
	ApplyOutcome(ctx context.Context, logID int64, o model.Outcome) (counters model.Counters, applied bool, err error)
}

type CommunicationLogRepository struct {
	DB *db.DB
}

const logColumns = `id, campaign_id, customer_id, message, status, vendor_message_id,
    sent_at, failed_at, failure_reason, created_at, updated_at`

// Upsert records a PENDING log for (campaign, customer). A relaunch reuses
// the existing row and resets it.
func (r *CommunicationLogRepository) Upsert(ctx context.Context, l *model.CommunicationLog) error {
	now := db.ToMillis(time.Now())
	query := r.DB.Rebind(`
        INSERT INTO communication_logs (campaign_id, customer_id, message, status, created_at, updated_at)
        VALUES (?, ?, ?, 'PENDING', ?, ?)
        ON CONFLICT (campaign_id, customer_id) DO UPDATE SET
            message = excluded.message,
            status = 'PENDING',
            vendor_message_id = NULL,
            sent_at = NULL,
            failed_at = NULL,
            failure_reason = NULL,
            updated_at = excluded.updated_at
        RETURNING id, created_at
    `)
	var createdAt int64
	if err := r.DB.QueryRowContext(ctx, query, l.CampaignID, l.CustomerID, l.Message, now, now).Scan(&l.ID, &createdAt); err != nil {
		return err
	}
	l.Status = model.LogPending
	l.VendorMessageID = ""
	l.SentAt = nil
	l.FailedAt = nil
	l.FailureReason = ""
	l.CreatedAt = db.FromMillis(createdAt)
	l.UpdatedAt = db.FromMillis(now)
	return nil
}

func (r *CommunicationLogRepository) GetByID(ctx context.Context, id int64) (*model.CommunicationLog, error) {
	query := r.DB.Rebind(`SELECT ` + logColumns + ` FROM communication_logs WHERE id = ?`)
	l, err := scanLog(r.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewLogNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (r *CommunicationLogRepository) ListByCampaign(ctx context.Context, campaignID int64, status string, offset, limit int) ([]*model.CommunicationLog, int, error) {
	where := ` WHERE campaign_id = ?`
	args := []any{campaignID}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, r.DB.Rebind(`SELECT COUNT(*) FROM communication_logs`+where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := r.DB.Rebind(`SELECT ` + logColumns + ` FROM communication_logs` + where + ` ORDER BY id LIMIT ? OFFSET ?`)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := []*model.CommunicationLog{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// StatsByCampaign counts logs per status for one campaign.
func (r *CommunicationLogRepository) StatsByCampaign(ctx context.Context, campaignID int64) (map[model.LogStatus]int, error) {
	query := r.DB.Rebind(`SELECT status, COUNT(*) FROM communication_logs WHERE campaign_id = ? GROUP BY status`)
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[model.LogStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats[model.LogStatus(status)] = n
	}
	return stats, rows.Err()
}

func (r *CommunicationLogRepository) ApplyOutcome(ctx context.Context, logID int64, o model.Outcome) (model.Counters, bool, error) {
	var counters model.Counters
	if o.Status != model.LogSent && o.Status != model.LogDelivered && o.Status != model.LogFailed {
		return counters, false, fmt.Errorf("outcome status %q is not terminal", o.Status)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return counters, false, err
	}
	defer tx.Rollback()

	at := o.At
	if at.IsZero() {
		at = time.Now()
	}
	var sentAt, failedAt sql.NullInt64
	var vendorID, reason sql.NullString
	sent, failed := 0, 0
	if o.Status.Success() {
		sentAt = db.NullMillis(&at)
		sent = 1
	} else {
		failedAt = db.NullMillis(&at)
		reason = sql.NullString{String: o.FailureReason, Valid: true}
		failed = 1
	}
	if o.VendorMessageID != "" {
		vendorID = sql.NullString{String: o.VendorMessageID, Valid: true}
	}
	now := db.ToMillis(time.Now())

	var campaignID int64
	err = tx.QueryRowContext(ctx, r.DB.Rebind(`
        UPDATE communication_logs
        SET status = ?, vendor_message_id = ?, sent_at = ?, failed_at = ?, failure_reason = ?, updated_at = ?
        WHERE id = ? AND status = 'PENDING'
        RETURNING campaign_id
    `), string(o.Status), vendorID, sentAt, failedAt, reason, now, logID).Scan(&campaignID)

	if errors.Is(err, sql.ErrNoRows) {
		// Either unknown or already terminal.
		err = tx.QueryRowContext(ctx, r.DB.Rebind(`SELECT campaign_id FROM communication_logs WHERE id = ?`), logID).Scan(&campaignID)
		if errors.Is(err, sql.ErrNoRows) {
			return counters, false, appErrors.NewLogNotFound(logID)
		}
		if err != nil {
			return counters, false, err
		}
		counters, err = readCounters(ctx, tx, r.DB, campaignID)
		if err != nil {
			return counters, false, err
		}
		return counters, false, tx.Commit()
	}
	if err != nil {
		return counters, false, err
	}

	var status string
	err = tx.QueryRowContext(ctx, r.DB.Rebind(`
        UPDATE campaigns
        SET sent_count = sent_count + ?,
            failed_count = failed_count + ?,
            status = CASE
                WHEN status = 'SENDING' AND audience_size > 0 AND sent_count + failed_count + 1 >= audience_size
                THEN 'COMPLETED' ELSE status END,
            updated_at = ?
        WHERE id = ?
        RETURNING id, status, audience_size, sent_count, failed_count
    `), sent, failed, now, campaignID).Scan(
		&counters.CampaignID, &status, &counters.AudienceSize, &counters.SentCount, &counters.FailedCount)
	if err != nil {
		return counters, false, fmt.Errorf("increment counters of campaign %d: %w", campaignID, err)
	}
	counters.Status = model.CampaignStatus(status)

	if err := tx.Commit(); err != nil {
		return counters, false, err
	}
	return counters, true, nil
}

func readCounters(ctx context.Context, tx *sql.Tx, d *db.DB, campaignID int64) (model.Counters, error) {
	var c model.Counters
	var status string
	err := tx.QueryRowContext(ctx, d.Rebind(`
        SELECT id, status, audience_size, sent_count, failed_count FROM campaigns WHERE id = ?
    `), campaignID).Scan(&c.CampaignID, &status, &c.AudienceSize, &c.SentCount, &c.FailedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return c, appErrors.NewCampaignNotFound(campaignID)
	}
	c.Status = model.CampaignStatus(status)
	return c, err
}

func scanLog(row rowScanner) (*model.CommunicationLog, error) {
	var (
		l                    model.CommunicationLog
		status               string
		vendorID, reason     sql.NullString
		sentAt, failedAt     sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&l.ID, &l.CampaignID, &l.CustomerID, &l.Message, &status, &vendorID,
		&sentAt, &failedAt, &reason, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	l.Status = model.LogStatus(status)
	l.VendorMessageID = vendorID.String
	l.FailureReason = reason.String
	l.SentAt = db.TimePtr(sentAt)
	l.FailedAt = db.TimePtr(failedAt)
	l.CreatedAt = db.FromMillis(createdAt)
	l.UpdatedAt = db.FromMillis(updatedAt)
	return &l, nil
}

var _ CommunicationLogRepositoryInterface = (*CommunicationLogRepository)(nil)
