// internal/controller/campaign_controller.go
package controller

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/crm-campaigns/internal/errors"
	"github.com/unclebandit/crm-campaigns/internal/model"
	"github.com/unclebandit/crm-campaigns/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
}

// Routes mounts the authenticated campaign and audience endpoints on r.
func (c *CampaignController) Routes(r chi.Router) {
	r.Post("/campaigns", c.CreateCampaign)
	r.Get("/campaigns", c.ListCampaigns)
	r.Get("/campaigns/{id}", c.GetCampaignDetails)
	r.Get("/campaigns/{id}/logs", c.ListLogs)
	r.Post("/campaigns/{id}/deliver", c.Deliver)
	r.Post("/campaigns/{id}/personalized-preview", c.PersonalizedPreview)
	r.Post("/audiences/preview", c.PreviewAudience)
}

// Health answers liveness probes.
func Health(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func campaignID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.NewValidation("id", "invalid campaign id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	var body struct {
		CustomerID       int64   `json:"customerId"`
		OverrideTemplate *string `json:"overrideTemplate"`
	}
	if err := decodeBody(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	if body.CustomerID <= 0 {
		WriteError(w, r, appErrors.NewValidation("customerId", "is required"))
		return
	}

	rendered, err := c.CampaignService.RenderPreview(r.Context(), id, body.CustomerID, body.OverrideTemplate)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"renderedMessage": rendered,
		"usedTemplate":    body.OverrideTemplate,
		"customerId":      body.CustomerID,
	})
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in service.CreateCampaignInput
	if err := decodeBody(r, &in); err != nil {
		WriteError(w, r, err)
		return
	}
	if p, ok := PrincipalFromContext(r.Context()); ok {
		in.CreatedBy = p.Subject
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), in)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]any{
		"message":  "Campaign created successfully",
		"campaign": campaign,
	})
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, q.Get("status"))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	details, err := c.CampaignService.GetCampaignDetails(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, details)
}

func (c *CampaignController) ListLogs(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	logs, pagination, err := c.CampaignService.ListLogs(r.Context(), id, page, pageSize, q.Get("status"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*model.CommunicationLog{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"data":       logs,
		"pagination": pagination,
	})
}

// Deliver launches a campaign. Sends complete asynchronously; the response
// reports how many were handed to the queue.
func (c *CampaignController) Deliver(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	result, err := c.CampaignService.Launch(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

func (c *CampaignController) PreviewAudience(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rules *model.RuleGroup `json:"rules"`
	}
	if err := decodeBody(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	if body.Rules == nil {
		WriteError(w, r, appErrors.NewValidation("rules", "is required"))
		return
	}

	size, err := c.CampaignService.PreviewAudience(r.Context(), *body.Rules)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]int{"audienceSize": size})
}
