package pdf

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReceiptProducesPDF(t *testing.T) {
	reader, err := New().GenerateReceipt(context.Background(), ReceiptData{
		GymName:        "Gym",
		ReceiptNumber:  "1790000000000000000",
		MemberName:     "Ana Lopez",
		MemberEmail:    "ana@example.com",
		Method:         "cash",
		PaymentDate:    "01/01/2024",
		ExpirationDate: "31/01/2024",
		DurationDays:   30,
		Amount:         "50.00",
		Voided:         true,
		VoidReason:     "duplicate",
	})
	require.NoError(t, err)

	doc, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.True(t, len(doc) > 4)
	assert.Equal(t, "%PDF", string(doc[:4]))
}

func TestGenerateReceiptRequiresNumber(t *testing.T) {
	_, err := New().GenerateReceipt(context.Background(), ReceiptData{})
	assert.Error(t, err)
}

func TestMembershipLine(t *testing.T) {
	assert.Equal(t, "Membership, 1 day", membershipLine(1))
	assert.Equal(t, "Membership, 30 days", membershipLine(30))
}
