package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 123456789, time.UTC)
	id := uuid.New()

	encoded := EncodeCursor(Cursor{CreatedAt: now, ID: id})
	parsed, err := ParseCursor(encoded)
	require.NoError(t, err)
	require.NotNil(t, parsed)
	require.True(t, parsed.CreatedAt.Equal(now))
	require.Equal(t, id, parsed.ID)
}

func TestParseCursorEmpty(t *testing.T) {
	parsed, err := ParseCursor("   ")
	require.NoError(t, err)
	require.Nil(t, parsed)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	_, err := ParseCursor("not-base64!!!")
	require.Error(t, err)

	_, err = ParseCursor("bm8tc2VwYXJhdG9y")
	require.Error(t, err)
}

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, NormalizeLimit(0))
	require.Equal(t, DefaultLimit, NormalizeLimit(-5))
	require.Equal(t, 40, NormalizeLimit(40))
	require.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))
}

func TestTrimPage(t *testing.T) {
	rows := []int{1, 2, 3, 4}

	trimmed, more := TrimPage(rows, 3)
	require.Equal(t, []int{1, 2, 3}, trimmed)
	require.True(t, more)

	trimmed, more = TrimPage(rows, 10)
	require.Equal(t, rows, trimmed)
	require.False(t, more)
}
