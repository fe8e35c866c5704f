package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/catalog-core/internal/core/domain"
	"github.com/rl1809/catalog-core/internal/port"
)

type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	// AcquireTimeout bounds the wait for a pooled connection.
	AcquireTimeout time.Duration
	// QueryTimeout bounds a single statement, or a whole transaction.
	QueryTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Driver:          DriverMySQL,
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxIdleTime: 30 * time.Second,
		ConnMaxLifetime: 30 * time.Minute,
		AcquireTimeout:  2 * time.Second,
		QueryTimeout:    5 * time.Second,
	}
}

const productColumns = `id, name, description, price, category, stock, image_url, active, created_at, updated_at`

const orderColumns = `id, reference, customer_name, customer_email, total_amount, status, created_at, updated_at`

// SQLStore is the relational port.InventoryStore over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	config  Config
	logger  *log.Entry
	now     func() time.Time
}

// Open connects with the configured driver, applies the pool limits and
// pings the database.
func Open(ctx context.Context, config Config, logger *log.Entry) (*SQLStore, error) {
	d, err := dialectFor(config.Driver)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch d.name {
	case DriverMySQL:
		myCfg, err := mysql.ParseDSN(config.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		myCfg.ParseTime = true
		myCfg.Loc = time.UTC
		// Report matched rather than changed rows so an UPDATE that writes
		// identical values still proves the row exists.
		myCfg.ClientFoundRows = true
		connector, err := mysql.NewConnector(myCfg)
		if err != nil {
			return nil, fmt.Errorf("mysql connector: %w", err)
		}
		db = sql.OpenDB(connector)
	case DriverPostgres:
		pgCfg, err := pgx.ParseConfig(config.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		db = stdlib.OpenDB(*pgCfg)
	}

	store := NewSQLStore(db, d.name, config, logger)

	pingCtx, cancel := context.WithTimeout(ctx, store.config.AcquireTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}

	return store, nil
}

// NewSQLStore wraps an already opened pool.
func NewSQLStore(db *sql.DB, driver string, config Config, logger *log.Entry) *SQLStore {
	d, err := dialectFor(driver)
	if err != nil {
		d, _ = dialectFor(DriverMySQL)
	}
	defaults := DefaultConfig()
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = defaults.MaxOpenConns
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = defaults.MaxIdleConns
	}
	if config.ConnMaxIdleTime <= 0 {
		config.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if config.ConnMaxLifetime <= 0 {
		config.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = defaults.AcquireTimeout
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = defaults.QueryTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "store")
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	return &SQLStore{
		db:      db,
		dialect: d,
		config:  config,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	return s.withConn(ctx, "ensure schema", func(ctx context.Context, conn *sql.Conn) error {
		for _, stmt := range s.dialect.schema() {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, s.config.AcquireTimeout)
	defer cancel()
	return classify("ping", s.db.PingContext(pingCtx))
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// acquire takes a connection from the pool, waiting at most AcquireTimeout.
func (s *SQLStore) acquire(ctx context.Context) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.config.AcquireTimeout)
	defer cancel()

	conn, err := s.db.Conn(acquireCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(acquireCtx.Err(), context.DeadlineExceeded) {
			stats := s.db.Stats()
			s.logger.WithFields(log.Fields{
				"in_use":     stats.InUse,
				"wait_count": stats.WaitCount,
				"max_open":   stats.MaxOpenConnections,
			}).Warn("connection pool exhausted")
			return nil, ErrPoolTimeout
		}
		return nil, classify("acquire connection", err)
	}
	return conn, nil
}

// withConn runs fn on a dedicated connection under QueryTimeout.
func (s *SQLStore) withConn(ctx context.Context, op string, fn func(ctx context.Context, conn *sql.Conn) error) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	opCtx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	return classify(op, fn(opCtx, conn))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.Category,
		&p.Stock, &p.ImageURL, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var status string
	if err := row.Scan(
		&o.ID, &o.Reference, &o.CustomerName, &o.CustomerEmail,
		&o.TotalAmount, &status, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func (s *SQLStore) ListActiveProducts(ctx context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0)
	err := s.withConn(ctx, "list products", func(ctx context.Context, conn *sql.Conn) error {
		rows, err := s.dialect.query(ctx, conn,
			`SELECT `+productColumns+` FROM products WHERE active = ? ORDER BY id`, true)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanProduct(rows)
			if err != nil {
				return fmt.Errorf("scan product: %w", err)
			}
			products = append(products, *p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (s *SQLStore) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var product *domain.Product
	err := s.withConn(ctx, "get product", func(ctx context.Context, conn *sql.Conn) error {
		p, err := scanProduct(s.dialect.queryRow(ctx, conn,
			`SELECT `+productColumns+` FROM products WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFoundf("product %d", id)
		}
		product = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *SQLStore) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	now := s.now()
	product.CreatedAt = now
	product.UpdatedAt = now

	err := s.withConn(ctx, "insert product", func(ctx context.Context, conn *sql.Conn) error {
		id, err := s.dialect.insertID(ctx, conn, `
			INSERT INTO products (name, description, price, category, stock, image_url, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			product.Name, product.Description, product.Price, product.Category,
			product.Stock, product.ImageURL, product.Active, product.CreatedAt, product.UpdatedAt,
		)
		product.ID = id
		return err
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *SQLStore) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	var order *domain.Order
	err := s.withConn(ctx, "get order", func(ctx context.Context, conn *sql.Conn) error {
		o, err := scanOrder(s.dialect.queryRow(ctx, conn,
			`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFoundf("order %d", id)
		}
		if err != nil {
			return err
		}
		if o.Items, err = s.loadItems(ctx, conn, o.ID); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *SQLStore) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	orders := make([]domain.Order, 0)
	err := s.withConn(ctx, "list orders", func(ctx context.Context, conn *sql.Conn) error {
		query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC, id DESC`
		args := []any{}
		if limit > 0 {
			query += ` LIMIT ?`
			args = append(args, limit)
		}

		rows, err := s.dialect.query(ctx, conn, query, args...)
		if err != nil {
			return err
		}
		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan order: %w", err)
			}
			orders = append(orders, *o)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		// Items are loaded after the order cursor is closed: a single
		// connection cannot interleave two result sets.
		for i := range orders {
			if orders[i].Items, err = s.loadItems(ctx, conn, orders[i].ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *SQLStore) loadItems(ctx context.Context, q queryer, orderID int64) ([]domain.OrderItem, error) {
	rows, err := s.dialect.query(ctx, q, `
		SELECT id, order_id, product_id, quantity, unit_price
		FROM order_items WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func (s *SQLStore) UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) (*domain.Order, error) {
	err := s.withConn(ctx, "update order status", func(ctx context.Context, conn *sql.Conn) error {
		res, err := s.dialect.exec(ctx, conn,
			`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), s.now(), id)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.NotFoundf("order %d", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, id)
}

func (s *SQLStore) Stats(ctx context.Context) (*domain.Stats, error) {
	var stats domain.Stats
	err := s.withConn(ctx, "stats", func(ctx context.Context, conn *sql.Conn) error {
		return s.dialect.queryRow(ctx, conn, `
			SELECT
				(SELECT COUNT(*) FROM orders),
				(SELECT COUNT(*) FROM products WHERE active = ?),
				(SELECT COALESCE(SUM(total_amount), 0) FROM orders WHERE status <> ?),
				(SELECT COUNT(*) FROM orders WHERE status = ?)`,
			true, string(domain.OrderStatusCancelled), string(domain.OrderStatusPending),
		).Scan(&stats.TotalOrders, &stats.TotalProducts, &stats.TotalRevenue, &stats.PendingOrders)
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// BeginTx pins one connection for the lifetime of the transaction. The
// transaction is rolled back by database/sql if QueryTimeout elapses first.
func (s *SQLStore) BeginTx(ctx context.Context) (port.StoreTx, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	txCtx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	tx, err := conn.BeginTx(txCtx, nil)
	if err != nil {
		cancel()
		conn.Close()
		return nil, classify("begin tx", err)
	}

	return &sqlTx{store: s, conn: conn, tx: tx, cancel: cancel}, nil
}

var _ port.InventoryStore = (*SQLStore)(nil)
