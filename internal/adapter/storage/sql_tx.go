package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rl1809/catalog-core/internal/core/domain"
	"github.com/rl1809/catalog-core/internal/port"
)

type sqlTx struct {
	store  *SQLStore
	conn   *sql.Conn
	tx     *sql.Tx
	cancel context.CancelFunc
}

func (t *sqlTx) LockProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(t.store.dialect.queryRow(ctx, t.tx,
		`SELECT `+productColumns+` FROM products WHERE id = ? FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("product %d", id)
	}
	if err != nil {
		return nil, classify("lock product", err)
	}
	return p, nil
}

func (t *sqlTx) UpdateProduct(ctx context.Context, product domain.Product) error {
	res, err := t.store.dialect.exec(ctx, t.tx, `
		UPDATE products
		SET name = ?, description = ?, price = ?, category = ?, stock = ?, image_url = ?, updated_at = ?
		WHERE id = ?`,
		product.Name, product.Description, product.Price, product.Category,
		product.Stock, product.ImageURL, t.store.now(), product.ID,
	)
	if err != nil {
		return classify("update product", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return classify("update product", err)
	}
	if rows == 0 {
		return domain.NotFoundf("product %d", product.ID)
	}
	return nil
}

func (t *sqlTx) DeactivateProduct(ctx context.Context, id int64) (bool, error) {
	res, err := t.store.dialect.exec(ctx, t.tx,
		`UPDATE products SET active = ?, updated_at = ? WHERE id = ? AND active = ?`,
		false, t.store.now(), id, true)
	if err != nil {
		return false, classify("deactivate product", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, classify("deactivate product", err)
	}
	if rows > 0 {
		return true, nil
	}

	var existing int64
	err = t.store.dialect.queryRow(ctx, t.tx, `SELECT id FROM products WHERE id = ?`, id).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.NotFoundf("product %d", id)
	}
	if err != nil {
		return false, classify("check product exists", err)
	}
	return false, nil
}

func (t *sqlTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	now := t.store.now()
	order.CreatedAt = now
	order.UpdatedAt = now

	id, err := t.store.dialect.insertID(ctx, t.tx, `
		INSERT INTO orders (reference, customer_name, customer_email, total_amount, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.Reference, order.CustomerName, order.CustomerEmail, order.TotalAmount,
		string(order.Status), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return classify("insert order", err)
	}
	order.ID = id
	return nil
}

func (t *sqlTx) InsertOrderItem(ctx context.Context, item *domain.OrderItem) error {
	id, err := t.store.dialect.insertID(ctx, t.tx, `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price)
		VALUES (?, ?, ?, ?)`,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice,
	)
	if err != nil {
		return classify("insert order item", err)
	}
	item.ID = id
	return nil
}

// DecrementStock is guarded in SQL as well, so stock cannot go negative even
// if a caller skipped LockProduct.
func (t *sqlTx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	res, err := t.store.dialect.exec(ctx, t.tx, `
		UPDATE products
		SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND stock >= ?`,
		quantity, t.store.now(), productID, quantity,
	)
	if err != nil {
		return classify("decrement stock", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return classify("decrement stock", err)
	}
	if rows == 0 {
		return &domain.InsufficientStockError{ProductID: productID, Requested: quantity}
	}
	return nil
}

func (t *sqlTx) Commit() error {
	defer t.release()
	if err := t.tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	defer t.release()
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (t *sqlTx) release() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

var _ port.StoreTx = (*sqlTx)(nil)
