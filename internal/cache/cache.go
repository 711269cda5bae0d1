package cache

import (
	"context"

	"github.com/unclebandit/crm-campaigns/internal/model"
)

// ReceiptCache remembers receipts that were already reconciled so replays
// can be answered without touching the database.
type ReceiptCache interface {
	Seen(ctx context.Context, r model.Receipt) (bool, error)
	Remember(ctx context.Context, r model.Receipt) error
}

// Noop is used when no Redis is configured.
type Noop struct{}

func (Noop) Seen(context.Context, model.Receipt) (bool, error) { return false, nil }
func (Noop) Remember(context.Context, model.Receipt) error     { return nil }
