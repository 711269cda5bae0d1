// internal/handler/receipt_handler.go
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/unclebandit/crm-campaigns/internal/controller"
	appErrors "github.com/unclebandit/crm-campaigns/internal/errors"
	"github.com/unclebandit/crm-campaigns/internal/model"
	"github.com/unclebandit/crm-campaigns/internal/service"
)

type ReceiptReconciler interface {
	Reconcile(ctx context.Context, receipt model.Receipt) (service.ReconcileResult, error)
}

// ReceiptHandler accepts delivery receipts posted by the vendor. It is
// unauthenticated: the vendor only knows the callback URL.
type ReceiptHandler struct {
	Reconciler ReceiptReconciler
	Logger     *slog.Logger
}

// logID accepts the id as a JSON number or a numeric string.
type logID int64

func (id *logID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return appErrors.NewValidation("communicationLogId", "must be an integer, got %s", b)
	}
	*id = logID(n)
	return nil
}

type receiptPayload struct {
	CommunicationLogID logID  `json:"communicationLogId"`
	Status             string `json:"status"`
	VendorMessageID    string `json:"vendorMessageId"`
	Timestamp          string `json:"timestamp"`
	FailureReason      string `json:"failureReason"`
}

func (p receiptPayload) complete() bool {
	return p.CommunicationLogID > 0 && p.Status != "" && p.VendorMessageID != "" && p.Timestamp != ""
}

func (h *ReceiptHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// HandleReceipt handles POST /webhooks/delivery-receipts.
func (h *ReceiptHandler) HandleReceipt(w http.ResponseWriter, r *http.Request) {
	var p receiptPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		controller.WriteMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !p.complete() {
		controller.WriteMessage(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		controller.WriteError(w, r, appErrors.NewValidation("timestamp", "must be RFC 3339, got %q", p.Timestamp))
		return
	}

	res, err := h.Reconciler.Reconcile(r.Context(), model.Receipt{
		CommunicationLogID: int64(p.CommunicationLogID),
		Status:             model.LogStatus(strings.ToUpper(p.Status)),
		VendorMessageID:    p.VendorMessageID,
		Timestamp:          ts,
		FailureReason:      p.FailureReason,
	})
	if err != nil {
		if appErrors.IsNotFound(err) {
			controller.WriteMessage(w, http.StatusNotFound, "CommunicationLog not found")
			return
		}
		controller.WriteError(w, r, err)
		return
	}

	h.logger().Debug("receipt processed", "communication_log_id", int64(p.CommunicationLogID), "duplicate", res.Duplicate)
	controller.WriteJSON(w, http.StatusOK, map[string]any{
		"message":   "Delivery receipt processed",
		"duplicate": res.Duplicate,
	})
}
