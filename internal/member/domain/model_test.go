package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ana Souza", Member{FirstName: " Ana ", LastName: "Souza"}.DisplayName())
	assert.Equal(t, "Ana", Member{FirstName: "Ana"}.DisplayName())
	assert.Equal(t, FallbackDisplayName, Member{}.DisplayName())
}

func TestContactAddress(t *testing.T) {
	assert.Equal(t, "ana@example.com", Member{Email: "  ana@example.com "}.ContactAddress())
	assert.Equal(t, "", Member{Email: "   "}.ContactAddress())
	assert.Equal(t, "", Member{Email: "not-an-address"}.ContactAddress())
}
