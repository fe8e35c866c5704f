package cache

import (
	"strconv"
	"strings"
)

const (
	KeyAllProducts = "products:all"
	KeyStats       = "stats:summary"

	productKeyPrefix = "product:"
)

func ProductKey(id int64) string {
	return productKeyPrefix + strconv.FormatInt(id, 10)
}

// keyClass is the metrics label for a key.
func keyClass(key string) string {
	switch {
	case key == KeyAllProducts:
		return "catalog"
	case key == KeyStats:
		return "stats"
	case strings.HasPrefix(key, productKeyPrefix):
		return "product"
	default:
		return "other"
	}
}
