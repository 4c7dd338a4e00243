package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"posmon/internal/history"
	"posmon/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ history.Persister = (*Journal)(nil)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_SaveLoadRoundTrip(t *testing.T) {
	j := openJournal(t)
	open := time.Date(2024, 6, 1, 9, 30, 0, 123, time.UTC)
	recs := []model.ClosedRecord{
		{ID: "b", Pair: "ETH/USDT", Type: model.Short, Entry: 3000, Exit: 2900, Amount: 100, Profit: 3.33, ProfitPercent: 3.33, OpenTime: open, CloseTime: open.Add(time.Minute), Reason: model.ReasonTP, IsAI: true},
		{ID: "a", Pair: "BTC/USDT", Type: model.Long, Entry: 100, Exit: 89, Amount: 1000, Profit: -110, ProfitPercent: -10, OpenTime: open, CloseTime: open.Add(2 * time.Minute), Reason: model.ReasonSL},
	}
	require.NoError(t, j.Save(recs))

	got, err := j.Load()
	require.NoError(t, err)
	assert.Equal(t, recs, got, "order and fields survive")
}

func TestJournal_SaveReplaces(t *testing.T) {
	j := openJournal(t)
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, j.Save([]model.ClosedRecord{{ID: "1", Pair: "X", Type: model.Long, OpenTime: at, CloseTime: at, Reason: model.ReasonTP}}))
	require.NoError(t, j.Save([]model.ClosedRecord{{ID: "2", Pair: "Y", Type: model.Long, OpenTime: at, CloseTime: at, Reason: model.ReasonSL}}))

	got, err := j.Load()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)

	require.NoError(t, j.Save(nil))
	got, err = j.Load()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJournal_BacksHistoryStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	j, err := Open(path)
	require.NoError(t, err)

	s := history.Open(j, 2, nil)
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"1", "2", "3"} {
		s.Append(model.ClosedRecord{ID: id, Pair: "BTC/USDT", Type: model.Long, OpenTime: at, CloseTime: at.Add(time.Duration(i) * time.Second), Reason: model.ReasonTP})
	}
	require.NoError(t, s.Persist())
	require.NoError(t, j.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()
	reopened := history.Open(j2, 2, nil)
	got := reopened.Query(time.Time{})
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}
