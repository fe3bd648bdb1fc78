package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM payments":                          "SELECT",
		"  update payments SET state = 'EXPIRED'":         "UPDATE",
		"WITH latest AS (SELECT 1) SELECT * FROM latest":  "SELECT",
		"INSERT INTO notification_ledger (id) VALUES (1)": "INSERT",
		"":                    "UNKNOWN",
		"PRAGMA foreign_keys": "UNKNOWN",
	}
	for sql, want := range cases {
		assert.Equal(t, want, OperationFromSQL(sql), sql)
	}
}
