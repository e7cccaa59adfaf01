package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryName(t *testing.T) {
	assert.Equal(t, "SELECT", queryName("SELECT 1"))
	assert.Equal(t, "UPDATE", queryName("\n\t update sessions SET ended_at = $2"))
	assert.Equal(t, "INSERT", queryName("INSERT INTO devices"))
	assert.Equal(t, "other", queryName("TRUNCATE sessions"))
	assert.Equal(t, "unknown", queryName("   "))
}

func TestExtractSSLMode(t *testing.T) {
	assert.Equal(t, "disable", extractSSLMode("postgres://u:p@localhost/db?sslmode=disable"))
	assert.Equal(t, "prefer (default)", extractSSLMode("postgres://u:p@localhost/db"))
	assert.Equal(t, "unknown", extractSSLMode("://bad"))
}
