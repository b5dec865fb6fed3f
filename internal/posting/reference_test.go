package posting

import (
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

func TestReferenceKeepsShortFormsReadable(t *testing.T) {
	require.Equal(t, "PAY-CHK-9-INV-1", Reference("PAY", "CHK-9", "INV-1"))
	require.Equal(t, "DN-PR-001", Reference("DN", "PR-001"))

	exact := Reference("DN", strings.Repeat("R", MaxReferenceLength-3))
	require.Len(t, exact, MaxReferenceLength)
	require.True(t, strings.HasPrefix(exact, "DN-RRR"))
}

func TestReferenceHashesLongFormsDeterministically(t *testing.T) {
	payment := strings.Repeat("P", 64)
	a := Reference("PAY", payment, "INV-1")
	b := Reference("PAY", payment, "INV-1")
	c := Reference("PAY", payment, "INV-2")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.True(t, strings.HasPrefix(a, "PAY-"))
	require.LessOrEqual(t, len(a), MaxReferenceLength)

	ev := Event{Type: "sales.payment.allocated", ReferenceNumber: a, Date: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, validator.New().Struct(ev))
}
