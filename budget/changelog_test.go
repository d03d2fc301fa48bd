package budget_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trip-budget/budget"
	"github.com/warp/trip-budget/budget/store"
)

func ptr(s string) *string { return &s }

// appendHistory writes entries oldest first, one minute apart.
func appendHistory(t *testing.T, mem *store.Memory, day budget.DistanceDay, values [][2]*string) {
	t.Helper()
	base := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	for i, v := range values {
		require.NoError(t, mem.AppendChange(context.Background(), budget.ChangeLogEntry{
			ID:        "c" + string(rune('a'+i)),
			Workspace: day.Workspace,
			Table:     budget.TableDistanceDays,
			RecordID:  day.ID,
			Field:     "distance",
			OldValue:  v[0],
			NewValue:  v[1],
			Actor:     actor,
			At:        base.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func zeroDay() budget.DistanceDay {
	return budget.DistanceDay{ID: "day-1", Workspace: budget.WorkspaceConcrete, Day: 1, Distance: budget.DecInt(0)}
}

func TestRecoverIfZero(t *testing.T) {
	tests := []struct {
		name    string
		history [][2]*string // oldest first
		want    int64
		found   bool
	}{
		{
			name:    "old value of the newest entry wins",
			history: [][2]*string{{ptr("12"), ptr("0")}},
			want:    12,
			found:   true,
		},
		{
			name:    "new value tried when old is null",
			history: [][2]*string{{ptr("5"), ptr("0")}, {nil, ptr("5")}},
			want:    5,
			found:   true,
		},
		{
			name:    "newest positive value beats older ones",
			history: [][2]*string{{nil, ptr("40")}, {ptr("40"), ptr("0")}, {ptr("0"), ptr("25")}, {ptr("25"), ptr("0")}},
			want:    25,
			found:   true,
		},
		{
			name:    "unparseable and negative values are skipped",
			history: [][2]*string{{nil, ptr("7")}, {ptr("-3"), ptr("abc")}},
			want:    7,
			found:   true,
		},
		{
			name:    "nothing positive in history",
			history: [][2]*string{{nil, ptr("0")}},
			found:   false,
		},
		{
			name:  "no history",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN
			mem := store.NewMemory()
			day := zeroDay()
			appendHistory(t, mem, day, tt.history)

			// WHEN
			got, found, err := budget.NewChangeLog(mem).RecoverIfZero(context.Background(), day)

			// THEN
			require.NoError(t, err)
			assert.Equal(t, tt.found, found)
			if tt.found {
				assert.True(t, got.Equal(decimal.NewFromInt(tt.want)), "got %s", got)
			} else {
				assert.True(t, got.IsZero())
			}
		})
	}
}

func TestRecoverIfZero_NullDistance(t *testing.T) {
	mem := store.NewMemory()
	day := zeroDay()
	day.Distance = decimal.NullDecimal{}
	appendHistory(t, mem, day, [][2]*string{{ptr("9"), nil}})

	got, found, err := budget.NewChangeLog(mem).RecoverIfZero(context.Background(), day)

	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, got.Equal(decimal.NewFromInt(9)))
}

func TestRecoverIfZero_IgnoresOtherRecordsAndFields(t *testing.T) {
	mem := store.NewMemory()
	day := zeroDay()
	other := day
	other.ID = "day-2"
	appendHistory(t, mem, other, [][2]*string{{ptr("50"), ptr("0")}})
	require.NoError(t, mem.AppendChange(context.Background(), budget.ChangeLogEntry{
		ID: "day-field", Workspace: day.Workspace, Table: budget.TableDistanceDays,
		RecordID: day.ID, Field: "day", OldValue: ptr("3"), NewValue: ptr("1"), At: time.Now(),
	}))

	_, found, err := budget.NewChangeLog(mem).RecoverIfZero(context.Background(), day)

	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecoverIfZero_NonZeroLeftAlone(t *testing.T) {
	mem := store.NewMemory()
	day := zeroDay()
	day.Distance = budget.DecInt(33)
	appendHistory(t, mem, day, [][2]*string{{ptr("90"), ptr("33")}})

	got, found, err := budget.NewChangeLog(mem).RecoverIfZero(context.Background(), day)

	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, got.Equal(decimal.NewFromInt(33)))
}

func TestChangeLog_QueryNewestFirst(t *testing.T) {
	mem := store.NewMemory()
	day := zeroDay()
	appendHistory(t, mem, day, [][2]*string{{nil, ptr("1")}, {ptr("1"), ptr("2")}, {ptr("2"), ptr("3")}})

	entries, err := budget.NewChangeLog(mem).Query(context.Background(), budget.ChangeFilter{RecordID: day.ID, Limit: 2})

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "3", *entries[0].NewValue)
	assert.Equal(t, "2", *entries[1].NewValue)
}
