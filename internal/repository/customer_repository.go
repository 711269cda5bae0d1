package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/unclebandit/crm-campaigns/internal/db"
	appErrors "github.com/unclebandit/crm-campaigns/internal/errors"
	"github.com/unclebandit/crm-campaigns/internal/model"
)

// CustomerRepositoryInterface defines the read access the core needs.
// Customers are owned by the ingestion side; Create exists for seeding.
type CustomerRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.Customer, error)
	ListAll(ctx context.Context) ([]model.Customer, error)
	CountWhere(ctx context.Context, where string, args []any) (int, error)
	FindWhere(ctx context.Context, where string, args []any) ([]model.Customer, error)
}

// CustomerRepository is the concrete implementation
type CustomerRepository struct {
	DB *db.DB
}

const customerColumns = `id, name, email, total_spends, visit_count, last_active_at`

// Create inserts a customer and sets its ID.
func (r *CustomerRepository) Create(ctx context.Context, c *model.Customer) error {
	query := r.DB.Rebind(`
        INSERT INTO customers (name, email, total_spends, visit_count, last_active_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        RETURNING id
    `)
	return r.DB.QueryRowContext(ctx, query,
		c.Name, c.Email, c.TotalSpends, c.VisitCount, db.NullMillis(c.LastActiveDate), db.ToMillis(time.Now()),
	).Scan(&c.ID)
}

// CreateIfAbsent inserts c unless a customer with the same email exists.
// It reports whether a row was inserted.
func (r *CustomerRepository) CreateIfAbsent(ctx context.Context, c *model.Customer) (bool, error) {
	query := r.DB.Rebind(`
        INSERT INTO customers (name, email, total_spends, visit_count, last_active_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (email) DO NOTHING
        RETURNING id
    `)
	err := r.DB.QueryRowContext(ctx, query,
		c.Name, c.Email, c.TotalSpends, c.VisitCount, db.NullMillis(c.LastActiveDate), db.ToMillis(time.Now()),
	).Scan(&c.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetByID fetches a customer by ID
func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (*model.Customer, error) {
	query := r.DB.Rebind(`SELECT ` + customerColumns + ` FROM customers WHERE id = ?`)
	c, err := scanCustomer(r.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewCustomerNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListAll fetches every customer; it backs the full-scan audience path.
func (r *CustomerRepository) ListAll(ctx context.Context) ([]model.Customer, error) {
	return r.FindWhere(ctx, "1 = 1", nil)
}

// CountWhere counts customers matching a compiled WHERE clause without
// loading them.
func (r *CustomerRepository) CountWhere(ctx context.Context, where string, args []any) (int, error) {
	query := r.DB.Rebind(`SELECT COUNT(*) FROM customers WHERE ` + where)
	var n int
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// FindWhere loads customers matching a compiled WHERE clause.
func (r *CustomerRepository) FindWhere(ctx context.Context, where string, args []any) ([]model.Customer, error) {
	query := r.DB.Rebind(`SELECT ` + customerColumns + ` FROM customers WHERE ` + where + ` ORDER BY id`)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := []model.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (*model.Customer, error) {
	var c model.Customer
	var lastActive sql.NullInt64
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.TotalSpends, &c.VisitCount, &lastActive); err != nil {
		return nil, err
	}
	c.LastActiveDate = db.TimePtr(lastActive)
	return &c, nil
}

var _ CustomerRepositoryInterface = (*CustomerRepository)(nil)
