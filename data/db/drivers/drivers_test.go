package drivers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistered(t *testing.T) {
	assert.ElementsMatch(t, []string{"sqlite", "mysql", "pgx", "sqlserver"}, Registered())
}
