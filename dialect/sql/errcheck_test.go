package sql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueConstraintError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '7' for key 'PRIMARY'"}, true},
		{"pq unique", &pq.Error{Code: "23505"}, true},
		{"sqlite string", errors.New("constraint failed: UNIQUE constraint failed: Person.Id"), true},
		{"wrapped mysql", fmt.Errorf("dialect/sql: exec: %w", &mysql.MySQLError{Number: 1062}), true},
		{"unrelated", errors.New("connection refused"), false},
		{"mysql other", &mysql.MySQLError{Number: 1064}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueConstraintError(tt.err))
		})
	}
}

func TestIsLockContentionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}, true},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"pq nowait", &pq.Error{Code: "55P03"}, true},
		{"sqlite busy", errors.New("database is locked"), true},
		{"row locked string", errors.New("row is locked by another session"), true},
		{"wrapped pq", fmt.Errorf("dialect/sql: exec: %w", &pq.Error{Code: "55P03"}), true},
		{"unique violation is not contention", &pq.Error{Code: "23505"}, false},
		{"unrelated", errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLockContentionError(tt.err))
		})
	}
}
