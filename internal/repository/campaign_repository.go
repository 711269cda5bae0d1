package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/unclebandit/crm-campaigns/internal/db"
	appErrors "github.com/unclebandit/crm-campaigns/internal/errors"
	"github.com/unclebandit/crm-campaigns/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)

	// Launch transitions. Each is a single conditional UPDATE and reports
	// whether the row was in the expected state.
	BeginSending(ctx context.Context, id int64, now time.Time) (bool, error)
	StartDelivery(ctx context.Context, id int64, audienceSize int, now time.Time) error
	CompleteEmpty(ctx context.Context, id int64, now time.Time) error
	MarkFailed(ctx context.Context, id int64, now time.Time) error
	RecordDispatchFailure(ctx context.Context, id int64, now time.Time) (model.Counters, error)
}

type CampaignRepository struct {
	DB *db.DB
}

const campaignColumns = `id, name, audience_rules, message_template, status, audience_size,
    sent_count, failed_count, scheduled_at, created_by, created_at, updated_at`

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	rules, err := json.Marshal(c.AudienceRules)
	if err != nil {
		return fmt.Errorf("encode audience rules: %w", err)
	}
	query := r.DB.Rebind(`
        INSERT INTO campaigns (name, audience_rules, message_template, status, audience_size,
            sent_count, failed_count, scheduled_at, created_by, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?)
        RETURNING id
    `)
	return r.DB.QueryRowContext(ctx, query,
		c.Name, string(rules), c.MessageTemplate, string(c.Status), c.AudienceSize,
		db.NullMillis(c.ScheduledAt), c.CreatedBy, db.ToMillis(now), db.ToMillis(now),
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	query := r.DB.Rebind(`SELECT ` + campaignColumns + ` FROM campaigns WHERE id = ?`)
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, r.DB.Rebind(`SELECT COUNT(*) FROM campaigns`+where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := r.DB.Rebind(`SELECT ` + campaignColumns + ` FROM campaigns` + where + ` ORDER BY id DESC LIMIT ? OFFSET ?`)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

// ====================== Launch transitions ======================

// BeginSending is the compare-and-swap into SENDING. Counters are reset so
// a campaign that FAILED can be relaunched cleanly.
func (r *CampaignRepository) BeginSending(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := r.DB.Rebind(`
        UPDATE campaigns
        SET status = 'SENDING', audience_size = 0, sent_count = 0, failed_count = 0, updated_at = ?
        WHERE id = ? AND status IN ('DRAFT', 'SCHEDULED', 'FAILED')
    `)
	return r.execOne(ctx, query, db.ToMillis(now), id)
}

func (r *CampaignRepository) StartDelivery(ctx context.Context, id int64, audienceSize int, now time.Time) error {
	query := r.DB.Rebind(`
        UPDATE campaigns
        SET audience_size = ?, sent_count = 0, failed_count = 0, updated_at = ?
        WHERE id = ? AND status = 'SENDING'
    `)
	ok, err := r.execOne(ctx, query, audienceSize, db.ToMillis(now), id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("campaign %d left SENDING before delivery started", id)
	}
	return nil
}

func (r *CampaignRepository) CompleteEmpty(ctx context.Context, id int64, now time.Time) error {
	query := r.DB.Rebind(`
        UPDATE campaigns
        SET status = 'COMPLETED', audience_size = 0, sent_count = 0, failed_count = 0, updated_at = ?
        WHERE id = ? AND status = 'SENDING'
    `)
	ok, err := r.execOne(ctx, query, db.ToMillis(now), id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("campaign %d left SENDING before it could complete", id)
	}
	return nil
}

func (r *CampaignRepository) MarkFailed(ctx context.Context, id int64, now time.Time) error {
	query := r.DB.Rebind(`UPDATE campaigns SET status = 'FAILED', updated_at = ? WHERE id = ? AND status = 'SENDING'`)
	_, err := r.execOne(ctx, query, db.ToMillis(now), id)
	return err
}

// RecordDispatchFailure counts a recipient that never got a log row as
// failed, completing the campaign when it was the last outstanding one.
func (r *CampaignRepository) RecordDispatchFailure(ctx context.Context, id int64, now time.Time) (model.Counters, error) {
	var c model.Counters
	var status string
	err := r.DB.QueryRowContext(ctx, r.DB.Rebind(`
        UPDATE campaigns
        SET failed_count = failed_count + 1,
            status = CASE
                WHEN status = 'SENDING' AND audience_size > 0 AND sent_count + failed_count + 1 >= audience_size
                THEN 'COMPLETED' ELSE status END,
            updated_at = ?
        WHERE id = ?
        RETURNING id, status, audience_size, sent_count, failed_count
    `), db.ToMillis(now), id).Scan(&c.CampaignID, &status, &c.AudienceSize, &c.SentCount, &c.FailedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return c, appErrors.NewCampaignNotFound(id)
	}
	c.Status = model.CampaignStatus(status)
	return c, err
}

func (r *CampaignRepository) execOne(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c                    model.Campaign
		rules, status        string
		scheduledAt          sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&c.ID, &c.Name, &rules, &c.MessageTemplate, &status, &c.AudienceSize,
		&c.SentCount, &c.FailedCount, &scheduledAt, &c.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(rules), &c.AudienceRules); err != nil {
		return nil, fmt.Errorf("decode audience rules of campaign %d: %w", c.ID, err)
	}
	c.Status = model.CampaignStatus(status)
	c.ScheduledAt = db.TimePtr(scheduledAt)
	c.CreatedAt = db.FromMillis(createdAt)
	c.UpdatedAt = db.FromMillis(updatedAt)
	return &c, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
