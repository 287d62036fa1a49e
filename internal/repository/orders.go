package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-inbox/constants"
	"github.com/joseph-ayodele/receipts-inbox/internal/common"
	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
)

const (
	ordersTable     = "orders"
	orderItemsTable = "order_items"
)

var (
	orderColumns = []string{
		"id", "is_draft", "source", "original_fingerprint", "sender_email", "merchant_name",
		"purchase_date", "currency_code", "subtotal", "tax", "total", "created_at",
	}
	orderItemColumns = []string{
		"id", "order_id", "product_id", "description", "quantity", "unit_price", "total_price", "position",
	}
)

type OrderRepository interface {
	// CreateDraftOrder writes newProducts, the order and its items in one
	// transaction. created is false when an order for the same fingerprint
	// already existed; that order is returned and nothing is written.
	CreateDraftOrder(ctx context.Context, order entity.Order, newProducts []entity.Product) (result *entity.Order, created bool, err error)
	FindByFingerprint(ctx context.Context, fingerprint string) (*entity.Order, error)
	GetByID(ctx context.Context, id string) (*entity.Order, error)
	Count(ctx context.Context) (int, error)
}

type orderRepository struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewOrderRepository(db *DB, logger *slog.Logger) OrderRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &orderRepository{db: db, logger: logger, now: utcNow}
}

func (r *orderRepository) CreateDraftOrder(ctx context.Context, order entity.Order, newProducts []entity.Product) (*entity.Order, bool, error) {
	now := r.now()
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Source == "" {
		order.Source = constants.SourceEmail
	}
	order.CreatedAt = now
	order.PurchaseDate = dateOnly(order.PurchaseDate)

	products := make([]entity.Product, len(newProducts))
	for i, p := range newProducts {
		fillProductDefaults(&p, now)
		products[i] = p
	}
	for i := range order.Items {
		it := &order.Items[i]
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		it.OrderID = order.ID
		it.Position = i
	}

	b := r.db.builder()
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, p := range products {
			q, args := insertProductQuery(b, p)
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("insert draft product %q: %w", p.Name, err)
			}
		}

		q, args := b.Insert(ordersTable).
			Columns(append(orderColumns, "updated_at")...).
			Values(order.ID, order.IsDraft, string(order.Source), order.OriginalFingerprint, order.SenderEmail,
				stringArg(order.MerchantName), order.PurchaseDate, order.CurrencyCode,
				floatArg(order.Subtotal), floatArg(order.Tax), floatArg(order.Total), now, now).
			Query()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		if len(order.Items) == 0 {
			return nil
		}
		ins := b.Insert(orderItemsTable).Columns(orderItemColumns...)
		for _, it := range order.Items {
			ins = ins.Values(it.ID, it.OrderID, it.ProductID, it.Description, it.Quantity,
				floatArg(it.UnitPrice), floatArg(it.TotalPrice), it.Position)
		}
		q, args = ins.Query()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
	if err != nil {
		// A concurrent attempt may have won the unique fingerprint key.
		if order.OriginalFingerprint != "" {
			if existing, ferr := r.FindByFingerprint(ctx, order.OriginalFingerprint); ferr == nil {
				r.logger.Info("draft order already exists", "fingerprint", order.OriginalFingerprint, "order_id", existing.ID)
				return existing, false, nil
			}
		}
		r.logger.Error("failed to create draft order", "fingerprint", order.OriginalFingerprint, "error", err)
		return nil, false, err
	}

	r.logger.Info("draft order created",
		"order_id", order.ID,
		"fingerprint", order.OriginalFingerprint,
		"items", len(order.Items),
		"new_products", len(products))
	return &order, true, nil
}

func (r *orderRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*entity.Order, error) {
	return r.findOne(ctx, entsql.EQ("original_fingerprint", fingerprint), "order for "+fingerprint)
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	return r.findOne(ctx, entsql.EQ("id", id), "order "+id)
}

func (r *orderRepository) Count(ctx context.Context) (int, error) {
	query, args := r.db.builder().
		Select(entsql.Count("*")).
		From(r.db.builder().Table(ordersTable)).
		Query()
	var n int
	if err := r.db.SQL().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

func (r *orderRepository) findOne(ctx context.Context, where *entsql.Predicate, what string) (*entity.Order, error) {
	query, args := r.db.builder().
		Select(orderColumns...).
		From(r.db.builder().Table(ordersTable)).
		Where(where).
		Query()

	var (
		o        entity.Order
		source   string
		fp       sql.NullString
		merchant sql.NullString
		subtotal sql.NullFloat64
		tax      sql.NullFloat64
		total    sql.NullFloat64
	)
	err := r.db.SQL().QueryRowContext(ctx, query, args...).Scan(
		&o.ID, &o.IsDraft, &source, &fp, &o.SenderEmail, &merchant,
		&o.PurchaseDate, &o.CurrencyCode, &subtotal, &tax, &total, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError(common.CodeNotFound, what+" not found", common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Source = constants.Source(source)
	o.OriginalFingerprint = fp.String
	o.MerchantName = nullString(merchant)
	o.Subtotal = nullFloat(subtotal)
	o.Tax = nullFloat(tax)
	o.Total = nullFloat(total)

	items, err := r.listItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (r *orderRepository) listItems(ctx context.Context, orderID string) ([]entity.OrderItem, error) {
	query, args := r.db.builder().
		Select(orderItemColumns...).
		From(r.db.builder().Table(orderItemsTable)).
		Where(entsql.EQ("order_id", orderID)).
		OrderBy("position").
		Query()

	rows, err := r.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	var out []entity.OrderItem
	for rows.Next() {
		var (
			it         entity.OrderItem
			unit, line sql.NullFloat64
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Description, &it.Quantity, &unit, &line, &it.Position); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		it.UnitPrice = nullFloat(unit)
		it.TotalPrice = nullFloat(line)
		out = append(out, it)
	}
	return out, rows.Err()
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
