package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ignite/catalog-importer/internal/domain"
	"github.com/lib/pq"
)

// ProductRepo implements product storage against PostgreSQL. SKU identity is
// the lowercase folding, enforced by the unique index on lower(sku).
type ProductRepo struct{ db *sql.DB }

// NewProductRepo creates a Postgres-backed product repository.
func NewProductRepo(db *sql.DB) *ProductRepo { return &ProductRepo{db: db} }

const productColumns = `id, sku, name, description, active, created_at, updated_at`

// BatchUpsert inserts new rows and updates existing rows identified by
// lower(sku) in a single statement inside one transaction; the transaction
// is the unit of retry. Within the batch, rows are deduplicated by
// lower(sku) keeping the last occurrence, because the single-statement
// upsert forbids two source rows with the same conflict key. Rows with
// blank SKUs are skipped. created_at is never touched on conflict.
func (r *ProductRepo) BatchUpsert(ctx context.Context, rows []domain.ProductInput) (int64, error) {
	type entry struct {
		sku         string
		name        string
		description *string
		active      bool
	}

	order := make([]string, 0, len(rows))
	dedup := make(map[string]entry, len(rows))
	for _, row := range rows {
		sku := strings.TrimSpace(row.SKU)
		if sku == "" {
			continue
		}
		key := strings.ToLower(sku)
		if _, seen := dedup[key]; !seen {
			order = append(order, key)
		}
		dedup[key] = entry{sku: sku, name: row.Name, description: row.Description, active: row.Active}
	}
	if len(dedup) == 0 {
		return 0, nil
	}

	var (
		values strings.Builder
		args   = make([]interface{}, 0, len(dedup)*4)
	)
	for i, key := range order {
		e := dedup[key]
		if i > 0 {
			values.WriteString(", ")
		}
		base := i * 4
		fmt.Fprintf(&values, "($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4)
		args = append(args, e.sku, e.name, e.description, e.active)
	}

	query := fmt.Sprintf(`
		INSERT INTO products (sku, name, description, active)
		VALUES %s
		ON CONFLICT (lower(sku)) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			active = EXCLUDED.active,
			updated_at = now()
	`, values.String())

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert tx: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("batch upsert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert tx: %w", err)
	}

	affected, _ := res.RowsAffected()
	return affected, nil
}

// Count returns the total number of products.
func (r *ProductRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

// SelectIDs returns up to limit product ids in no particular order.
func (r *ProductRepo) SelectIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM products LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select product ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan product id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteByIDs removes the given rows in one statement and reports how many
// were deleted.
func (r *ProductRepo) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete products: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetByID fetches one product.
func (r *ProductRepo) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

// GetBySKU fetches one product by case-insensitive SKU.
func (r *ProductRepo) GetBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE lower(sku) = lower($1)`, strings.TrimSpace(sku)))
}

// ProductFilter narrows List results. String fields match as ILIKE
// substrings; Active matches exactly.
type ProductFilter struct {
	SKU         *string
	Name        *string
	Description *string
	Active      *bool
}

// List returns a page of products plus the total matching count.
func (r *ProductRepo) List(ctx context.Context, f ProductFilter, page, pageSize int) ([]domain.Product, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	where := make([]string, 0, 4)
	args := make([]interface{}, 0, 6)
	idx := 1
	add := func(clause string, val interface{}) {
		where = append(where, fmt.Sprintf(clause, idx))
		args = append(args, val)
		idx++
	}

	if f.SKU != nil {
		add("sku ILIKE $%d", "%"+*f.SKU+"%")
	}
	if f.Name != nil {
		add("name ILIKE $%d", "%"+*f.Name+"%")
	}
	if f.Description != nil {
		add("description IS NOT NULL AND description ILIKE $%d", "%"+*f.Description+"%")
	}
	if f.Active != nil {
		add("active = $%d", *f.Active)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM products%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		productColumns, clause, idx, idx+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// Create inserts one product.
func (r *ProductRepo) Create(ctx context.Context, in domain.ProductInput) (*domain.Product, error) {
	p, err := r.scanOne(r.db.QueryRowContext(ctx, `
		INSERT INTO products (sku, name, description, active)
		VALUES ($1, $2, $3, $4)
		RETURNING `+productColumns,
		strings.TrimSpace(in.SKU), in.Name, in.Description, in.Active))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateSKU
		}
		return nil, err
	}
	return p, nil
}

// ProductUpdate carries the optional fields of a partial update.
type ProductUpdate struct {
	SKU         *string
	Name        *string
	Description *string
	Active      *bool
}

// Update applies the provided fields to one product.
func (r *ProductRepo) Update(ctx context.Context, id int64, in ProductUpdate) (*domain.Product, error) {
	set := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	idx := 1
	add := func(clause string, val interface{}) {
		set = append(set, fmt.Sprintf(clause, idx))
		args = append(args, val)
		idx++
	}

	if in.SKU != nil {
		add("sku = $%d", strings.TrimSpace(*in.SKU))
	}
	if in.Name != nil {
		add("name = $%d", *in.Name)
	}
	if in.Description != nil {
		add("description = $%d", *in.Description)
	}
	if in.Active != nil {
		add("active = $%d", *in.Active)
	}
	if len(set) == 0 {
		return r.GetByID(ctx, id)
	}
	set = append(set, "updated_at = now()")

	query := fmt.Sprintf(`UPDATE products SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(set, ", "), idx, productColumns)
	args = append(args, id)

	p, err := r.scanOne(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateSKU
		}
		return nil, err
	}
	return p, nil
}

// Delete removes one product and reports whether it existed.
func (r *ProductRepo) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete product: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *ProductRepo) scanOne(row *sql.Row) (*domain.Product, error) {
	p := &domain.Product{}
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}
	return p, nil
}
