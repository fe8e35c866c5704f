package storage

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id          BIGINT AUTO_INCREMENT PRIMARY KEY,
		name        VARCHAR(255)  NOT NULL,
		description TEXT          NOT NULL,
		price       DECIMAL(12,2) NOT NULL,
		category    VARCHAR(100)  NOT NULL,
		stock       INT           NOT NULL DEFAULT 0,
		image_url   VARCHAR(500)  NOT NULL DEFAULT '',
		active      BOOLEAN       NOT NULL DEFAULT TRUE,
		created_at  DATETIME(6)   NOT NULL,
		updated_at  DATETIME(6)   NOT NULL,
		CONSTRAINT chk_products_price CHECK (price >= 0),
		CONSTRAINT chk_products_stock CHECK (stock >= 0),
		INDEX idx_products_active (active)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS orders (
		id             BIGINT AUTO_INCREMENT PRIMARY KEY,
		reference      CHAR(36)      NOT NULL,
		customer_name  VARCHAR(255)  NOT NULL,
		customer_email VARCHAR(255)  NOT NULL,
		total_amount   DECIMAL(12,2) NOT NULL,
		status         VARCHAR(20)   NOT NULL,
		created_at     DATETIME(6)   NOT NULL,
		updated_at     DATETIME(6)   NOT NULL,
		CONSTRAINT uq_orders_reference UNIQUE (reference),
		CONSTRAINT chk_orders_total CHECK (total_amount >= 0),
		INDEX idx_orders_status (status)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id         BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id   BIGINT        NOT NULL,
		product_id BIGINT        NOT NULL,
		quantity   INT           NOT NULL,
		unit_price DECIMAL(12,2) NOT NULL,
		CONSTRAINT chk_order_items_quantity CHECK (quantity > 0),
		CONSTRAINT fk_order_items_order FOREIGN KEY (order_id) REFERENCES orders (id) ON DELETE CASCADE,
		CONSTRAINT fk_order_items_product FOREIGN KEY (product_id) REFERENCES products (id) ON DELETE RESTRICT
	) ENGINE=InnoDB`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		name        VARCHAR(255)  NOT NULL,
		description TEXT          NOT NULL DEFAULT '',
		price       NUMERIC(12,2) NOT NULL CHECK (price >= 0),
		category    VARCHAR(100)  NOT NULL,
		stock       INTEGER       NOT NULL DEFAULT 0 CHECK (stock >= 0),
		image_url   VARCHAR(500)  NOT NULL DEFAULT '',
		active      BOOLEAN       NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ   NOT NULL,
		updated_at  TIMESTAMPTZ   NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_active ON products (active)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id             BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		reference      UUID          NOT NULL UNIQUE,
		customer_name  VARCHAR(255)  NOT NULL,
		customer_email VARCHAR(255)  NOT NULL,
		total_amount   NUMERIC(12,2) NOT NULL CHECK (total_amount >= 0),
		status         VARCHAR(20)   NOT NULL,
		created_at     TIMESTAMPTZ   NOT NULL,
		updated_at     TIMESTAMPTZ   NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id         BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		order_id   BIGINT        NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
		product_id BIGINT        NOT NULL REFERENCES products (id) ON DELETE RESTRICT,
		quantity   INTEGER       NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(12,2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_id)`,
}

func (d dialect) schema() []string {
	if d.name == DriverPostgres {
		return postgresSchema
	}
	return mysqlSchema
}
