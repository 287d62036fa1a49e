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

const productsTable = "products"

var productColumns = []string{"id", "name", "description", "price", "is_draft", "source", "created_at", "updated_at"}

type ProductRepository interface {
	ListCatalog(ctx context.Context) ([]entity.Product, error)
	GetByID(ctx context.Context, id string) (*entity.Product, error)
	Create(ctx context.Context, p entity.Product) (*entity.Product, error)
	CountDrafts(ctx context.Context) (int, error)
}

type productRepository struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewProductRepository(db *DB, logger *slog.Logger) ProductRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &productRepository{db: db, logger: logger, now: utcNow}
}

// ListCatalog returns the non-draft products in a stable order.
func (r *productRepository) ListCatalog(ctx context.Context) ([]entity.Product, error) {
	query, args := r.db.builder().
		Select(productColumns...).
		From(r.db.builder().Table(productsTable)).
		Where(entsql.EQ("is_draft", false)).
		OrderBy("created_at", "id").
		Query()

	rows, err := r.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to list catalog", "error", err)
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	defer rows.Close()

	var out []entity.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("list catalog scan: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	r.logger.Debug("catalog loaded", "count", len(out))
	return out, nil
}

func (r *productRepository) GetByID(ctx context.Context, id string) (*entity.Product, error) {
	query, args := r.db.builder().
		Select(productColumns...).
		From(r.db.builder().Table(productsTable)).
		Where(entsql.EQ("id", id)).
		Query()

	p, err := scanProduct(r.db.SQL().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError(common.CodeNotFound, "product "+id+" not found", common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// Create inserts a standalone product. Draft products created for orders go
// through OrderRepository.CreateDraftOrder instead.
func (r *productRepository) Create(ctx context.Context, p entity.Product) (*entity.Product, error) {
	fillProductDefaults(&p, r.now())
	query, args := insertProductQuery(r.db.builder(), p)
	if _, err := r.db.SQL().ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("failed to create product", "name", p.Name, "error", err)
		return nil, fmt.Errorf("create product: %w", err)
	}
	r.logger.Info("product created", "product_id", p.ID, "name", p.Name, "is_draft", p.IsDraft)
	return &p, nil
}

func (r *productRepository) CountDrafts(ctx context.Context) (int, error) {
	query, args := r.db.builder().
		Select(entsql.Count("*")).
		From(r.db.builder().Table(productsTable)).
		Where(entsql.EQ("is_draft", true)).
		Query()
	var n int
	if err := r.db.SQL().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count draft products: %w", err)
	}
	return n, nil
}

func fillProductDefaults(p *entity.Product, now time.Time) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Source == "" {
		p.Source = constants.SourceManual
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}

func insertProductQuery(b *entsql.DialectBuilder, p entity.Product) (string, []any) {
	return b.Insert(productsTable).
		Columns(productColumns...).
		Values(p.ID, p.Name, p.Description, floatArg(p.Price), p.IsDraft, string(p.Source), p.CreatedAt, p.UpdatedAt).
		Query()
}

func scanProduct(s rowScanner) (*entity.Product, error) {
	var (
		p      entity.Product
		price  sql.NullFloat64
		source string
	)
	if err := s.Scan(&p.ID, &p.Name, &p.Description, &price, &p.IsDraft, &source, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Price = nullFloat(price)
	p.Source = constants.Source(source)
	return &p, nil
}
