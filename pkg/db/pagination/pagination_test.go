package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	token, err := EncodeCursor(Cursor{ID: "tx-1", OccurredAt: at})
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", cursor.ID)
	assert.True(t, cursor.OccurredAt.Equal(at))
}

func TestDecodeCursor(t *testing.T) {
	cursor, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	_, err = DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestPage(t *testing.T) {
	items := []int{5, 4, 3}
	extract := func(v int) Cursor { return Cursor{ID: string(rune('a' + v))} }

	kept, info, err := Page(items, 2, extract)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 4}, kept)
	assert.True(t, info.HasMore)
	assert.NotEmpty(t, info.NextPageToken)

	kept, info, err = Page(items, 3, extract)
	require.NoError(t, err)
	assert.Len(t, kept, 3)
	assert.False(t, info.HasMore)
}

func TestLimit(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	assert.Equal(t, 7, Pagination{PageSize: 7}.Limit())
}
