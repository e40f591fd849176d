package persistence

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/autosave/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &domain.Cursor{UpdatedAt: time.Date(2025, time.June, 2, 14, 0, 0, 123, time.UTC), ActivityID: "a1|b"}
	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeCursorEdgeCases(t *testing.T) {
	cursor, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, cursor)
	require.Empty(t, EncodeCursor(nil))

	_, err = DecodeCursor("%%%")
	require.Error(t, err)

	_, err = DecodeCursor(base64.RawURLEncoding.EncodeToString([]byte("no-separator")))
	require.Error(t, err)
}
