package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_Rebind(t *testing.T) {
	mysql, err := dialectFor(DriverMySQL)
	require.NoError(t, err)
	pg, err := dialectFor(DriverPostgres)
	require.NoError(t, err)

	query := `UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?`

	assert.Equal(t, query, mysql.rebind(query))
	assert.Equal(t, `UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $3`, pg.rebind(query))
}

func TestDialectFor_Unknown(t *testing.T) {
	_, err := dialectFor("sqlite3")
	assert.Error(t, err)

	d, err := dialectFor("postgres")
	require.NoError(t, err)
	assert.True(t, d.returning)
}
