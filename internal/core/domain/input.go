package domain

import "github.com/shopspring/decimal"

// Storage limits: prices and totals are DECIMAL(12,2), stock and quantities
// are 32-bit INT columns.
const (
	MaxQuantity = 2147483647
	MoneyScale  = 2
)

// MaxAmount is the largest price or order total a row can hold.
var MaxAmount = decimal.RequireFromString("9999999999.99")

type CreateProductInput struct {
	Name        string          `validate:"required,max=255"`
	Description string          `validate:"max=4000"`
	Price       decimal.Decimal `validate:"gte=0,lte=9999999999.99,decimal_scale2"`
	Category    string          `validate:"required,max=100"`
	Stock       int             `validate:"gte=0,lte=2147483647"`
	ImageURL    string          `validate:"omitempty,max=500"`
}

// UpdateProductInput is a partial update: nil fields keep their current value.
type UpdateProductInput struct {
	Name        *string          `validate:"omitempty,min=1,max=255"`
	Description *string          `validate:"omitempty,max=4000"`
	Price       *decimal.Decimal `validate:"omitempty,gte=0,lte=9999999999.99,decimal_scale2"`
	Category    *string          `validate:"omitempty,min=1,max=100"`
	Stock       *int             `validate:"omitempty,gte=0,lte=2147483647"`
	ImageURL    *string          `validate:"omitempty,max=500"`
}

type OrderItemInput struct {
	ProductID int64 `validate:"required,gt=0"`
	Quantity  int   `validate:"required,gt=0,lte=2147483647"`
}

type CreateOrderInput struct {
	CustomerName  string           `validate:"required,max=255"`
	CustomerEmail string           `validate:"required,email,max=255"`
	Items         []OrderItemInput `validate:"required,min=1,dive"`
}

type UpdateOrderStatusInput struct {
	Status OrderStatus `validate:"required,oneof=pending processing shipped delivered cancelled"`
}
