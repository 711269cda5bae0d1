// internal/service/campaign_service.go
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/unclebandit/crm-campaigns/internal/audience"
	appErrors "github.com/unclebandit/crm-campaigns/internal/errors"
	"github.com/unclebandit/crm-campaigns/internal/model"
	"github.com/unclebandit/crm-campaigns/internal/repository"
	"github.com/unclebandit/crm-campaigns/internal/rules"
)

// CampaignDispatcher hands a resolved audience to delivery.
type CampaignDispatcher interface {
	Dispatch(ctx context.Context, campaign *model.Campaign, customers []model.Customer) int
}

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	CustomerRepo repository.CustomerRepositoryInterface
	LogRepo      repository.CommunicationLogRepositoryInterface
	Resolver     *audience.Resolver
	Dispatcher   CampaignDispatcher
	Logger       *slog.Logger
	Now          func() time.Time
}

// LaunchResult is returned by Launch.
type LaunchResult struct {
	CampaignID     int64                `json:"campaignId"`
	InitiatedSends int                  `json:"initiatedSends"`
	AudienceSize   int                  `json:"audienceSize"`
	Status         model.CampaignStatus `json:"status"`
}

type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

type CreateCampaignInput struct {
	Name            string          `json:"name"`
	AudienceRules   model.RuleGroup `json:"audienceRules"`
	MessageTemplate string          `json:"messageTemplate"`
	ScheduledAt     *time.Time      `json:"scheduledAt,omitempty"`
	CreatedBy       string          `json:"-"`
}

func (s *CampaignService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *CampaignService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Launch moves a campaign into SENDING and dispatches its audience. Only
// the caller that wins the transition proceeds; a concurrent caller gets a
// *appErrors.ConflictError.
func (s *CampaignService) Launch(ctx context.Context, campaignID int64) (*LaunchResult, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, lookupError("load campaign", err)
	}

	// Settled campaigns are a conflict whatever their stored rules say.
	// BeginSending still decides races.
	if !campaign.Status.Launchable() {
		return nil, appErrors.NewConflict(campaignID, string(campaign.Status))
	}

	// Rules are validated before anything changes.
	pred, err := rules.Compile(campaign.AudienceRules)
	if err != nil {
		return nil, err
	}

	won, err := s.CampaignRepo.BeginSending(ctx, campaignID, s.now())
	if err != nil {
		return nil, appErrors.NewPersistence("begin sending", err)
	}
	if !won {
		current, err := s.CampaignRepo.GetByID(ctx, campaignID)
		if err != nil {
			return nil, lookupError("reload campaign", err)
		}
		return nil, appErrors.NewConflict(campaignID, string(current.Status))
	}
	// The launch is committed. Dispatch and its failure bookkeeping must
	// finish even if the caller goes away, or logs are left PENDING.
	ctx = context.WithoutCancel(ctx)
	log := s.logger().With("campaign_id", campaignID)
	log.Info("campaign launch started")

	customers, err := s.Resolver.Fetch(ctx, pred)
	if err != nil {
		return nil, s.abort(ctx, campaignID, "resolve audience", err)
	}

	if len(customers) == 0 {
		if err := s.CampaignRepo.CompleteEmpty(ctx, campaignID, s.now()); err != nil {
			return nil, s.abort(ctx, campaignID, "complete empty campaign", err)
		}
		log.Info("campaign has no audience, completed")
		return &LaunchResult{CampaignID: campaignID, Status: model.StatusCompleted}, nil
	}

	if err := s.CampaignRepo.StartDelivery(ctx, campaignID, len(customers), s.now()); err != nil {
		return nil, s.abort(ctx, campaignID, "record audience size", err)
	}
	campaign.AudienceSize = len(customers)
	campaign.Status = model.StatusSending

	initiated := s.Dispatcher.Dispatch(ctx, campaign, customers)
	log.Info("campaign dispatched", "audience_size", len(customers), "initiated", initiated)

	result := &LaunchResult{
		CampaignID:     campaignID,
		InitiatedSends: initiated,
		AudienceSize:   len(customers),
		Status:         model.StatusSending,
	}
	// Immediate failures may already have completed it.
	if current, err := s.CampaignRepo.GetByID(ctx, campaignID); err == nil {
		result.Status = current.Status
	}
	return result, nil
}

// abort moves a launch that could not be carried out to FAILED.
func (s *CampaignService) abort(ctx context.Context, campaignID int64, op string, cause error) error {
	s.logger().Error("campaign launch failed", "campaign_id", campaignID, "op", op, "error", cause)
	if err := s.CampaignRepo.MarkFailed(ctx, campaignID, s.now()); err != nil {
		s.logger().Error("failed to mark campaign FAILED", "campaign_id", campaignID, "error", err)
	}
	return appErrors.NewPersistence(op, cause)
}

func lookupError(op string, err error) error {
	if appErrors.IsNotFound(err) {
		return err
	}
	return appErrors.NewPersistence(op, err)
}

// CreateCampaign validates the rules, computes the audience as of now and
// stores the campaign as DRAFT, or SCHEDULED when a send time is given.
func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, appErrors.NewValidation("name", "is required")
	}
	if strings.TrimSpace(in.MessageTemplate) == "" {
		return nil, appErrors.NewValidation("messageTemplate", "is required")
	}
	pred, err := rules.Compile(in.AudienceRules)
	if err != nil {
		return nil, err
	}
	size, err := s.Resolver.Count(ctx, pred)
	if err != nil {
		return nil, appErrors.NewPersistence("count audience", err)
	}

	c := &model.Campaign{
		Name:            strings.TrimSpace(in.Name),
		AudienceRules:   in.AudienceRules,
		MessageTemplate: in.MessageTemplate,
		Status:          model.StatusDraft,
		AudienceSize:    size,
		ScheduledAt:     in.ScheduledAt,
		CreatedBy:       in.CreatedBy,
	}
	if in.ScheduledAt != nil {
		c.Status = model.StatusScheduled
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, appErrors.NewPersistence("create campaign", err)
	}
	s.logger().Info("campaign created", "campaign_id", c.ID, "audience_size", size, "status", c.Status)
	return c, nil
}

// PreviewAudience counts the customers rules would select, without side
// effects.
func (s *CampaignService) PreviewAudience(ctx context.Context, g model.RuleGroup) (int, error) {
	pred, err := rules.Compile(g)
	if err != nil {
		return 0, err
	}
	n, err := s.Resolver.Count(ctx, pred)
	if err != nil {
		return 0, appErrors.NewPersistence("count audience", err)
	}
	return n, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	page, pageSize = normalizePage(page, pageSize)
	offset := (page - 1) * pageSize

	status = strings.ToUpper(strings.TrimSpace(status))
	if status != "" && !knownStatus(model.CampaignStatus(status)) {
		return nil, nil, appErrors.NewValidation("status", "unknown campaign status %q", status)
	}

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, appErrors.NewPersistence("list campaigns", err)
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}
	return campaigns, pagination(page, pageSize, total), nil
}

// GetCampaignDetails fetches a campaign with its log counts per status.
func (s *CampaignService) GetCampaignDetails(ctx context.Context, id int64) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError("load campaign", err)
	}
	byStatus, err := s.LogRepo.StatsByCampaign(ctx, id)
	if err != nil {
		return nil, appErrors.NewPersistence("load log stats", err)
	}

	stats := map[string]int{
		"total":     0,
		"pending":   0,
		"sent":      0,
		"delivered": 0,
		"failed":    0,
	}
	for status, n := range byStatus {
		key := strings.ToLower(string(status))
		if _, ok := stats[key]; ok {
			stats[key] = n
		}
		stats["total"] += n
	}
	return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}

// ListLogs pages through a campaign's communication logs.
func (s *CampaignService) ListLogs(ctx context.Context, campaignID int64, page, pageSize int, status string) ([]*model.CommunicationLog, map[string]int, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, campaignID); err != nil {
		return nil, nil, lookupError("load campaign", err)
	}
	page, pageSize = normalizePage(page, pageSize)

	status = strings.ToUpper(strings.TrimSpace(status))
	switch model.LogStatus(status) {
	case "", model.LogPending, model.LogSent, model.LogDelivered, model.LogFailed:
	default:
		return nil, nil, appErrors.NewValidation("status", "unknown log status %q", status)
	}

	logs, total, err := s.LogRepo.ListByCampaign(ctx, campaignID, status, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, nil, appErrors.NewPersistence("list logs", err)
	}
	return logs, pagination(page, pageSize, total), nil
}

// RenderPreview renders the campaign's template, or an override, for one
// customer.
func (s *CampaignService) RenderPreview(ctx context.Context, campaignID, customerID int64, overrideTemplate *string) (string, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return "", lookupError("load campaign", err)
	}
	customer, err := s.CustomerRepo.GetByID(ctx, customerID)
	if err != nil {
		return "", lookupError("load customer", err)
	}

	template := campaign.MessageTemplate
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	}
	if strings.TrimSpace(template) == "" {
		return "", appErrors.NewValidation("template", "cannot be empty")
	}
	return RenderTemplate(template, customer), nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func pagination(page, pageSize, total int) map[string]int {
	return map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}
}

func knownStatus(s model.CampaignStatus) bool {
	switch s {
	case model.StatusDraft, model.StatusScheduled, model.StatusSending, model.StatusCompleted, model.StatusFailed:
		return true
	}
	return false
}
