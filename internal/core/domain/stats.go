package domain

import "github.com/shopspring/decimal"

// Stats is the dashboard aggregate. Revenue excludes cancelled orders.
type Stats struct {
	TotalOrders   int             `json:"total_orders"`
	TotalProducts int             `json:"total_products"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	PendingOrders int             `json:"pending_orders"`
}
