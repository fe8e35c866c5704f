package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/rl1809/catalog-core/internal/core/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retriable bool
	}{
		{name: "deadline", err: context.DeadlineExceeded, retriable: true},
		{name: "bad conn", err: driver.ErrBadConn, retriable: true},
		{name: "mysql deadlock", err: &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, retriable: true},
		{name: "mysql lock wait", err: &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout"}, retriable: true},
		{name: "pg serialization failure", err: &pgconn.PgError{Code: "40001"}, retriable: true},
		{name: "mysql check constraint", err: &mysql.MySQLError{Number: 3819, Message: "Check constraint violated"}, retriable: false},
		{name: "pg foreign key", err: &pgconn.PgError{Code: "23503"}, retriable: false},
		{name: "not found passes through", err: domain.ErrNotFound, retriable: false},
		{name: "mysql out of range", err: &mysql.MySQLError{Number: 1264, Message: "Out of range value for column 'price'"}, retriable: false},
		{name: "mysql data too long", err: &mysql.MySQLError{Number: 1406, Message: "Data too long for column 'name'"}, retriable: false},
		{name: "pg numeric overflow", err: &pgconn.PgError{Code: "22003"}, retriable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			assert.Equal(t, tt.retriable, domain.IsRetriable(got))
			assert.True(t, errors.Is(got, tt.err), "original error must stay inspectable")
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.NoError(t, classify("op", nil))
}

func TestPoolTimeoutIsRetriable(t *testing.T) {
	assert.True(t, domain.IsRetriable(ErrPoolTimeout))
}

func TestClassify_DataExceptionIsValidation(t *testing.T) {
	for _, err := range []error{
		&mysql.MySQLError{Number: 1264, Message: "Out of range value for column 'total_amount'"},
		&mysql.MySQLError{Number: 1406, Message: "Data too long for column 'name'"},
		&pgconn.PgError{Code: "22003"},
		&pgconn.PgError{Code: "22001"},
	} {
		got := classify("insert order", err)
		assert.ErrorIs(t, got, domain.ErrValidation)
		assert.NotErrorIs(t, got, domain.ErrStoreUnavailable)
	}

	assert.NotErrorIs(t, classify("op", &mysql.MySQLError{Number: 1213}), domain.ErrValidation)
}
