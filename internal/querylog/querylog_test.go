package querylog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.ndjson")
	l, err := Open(path, nil)
	require.NoError(t, err)

	l.Log("alice", "first query", map[string]any{"hits": 3})
	l.Log("bob", "second query", map[string]any{"hits": 0})
	require.NoError(t, l.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[0].UserID)
	assert.Equal(t, "first query", records[0].Query)
	assert.JSONEq(t, `{"hits":3}`, string(records[0].Response))
	assert.Equal(t, "bob", records[1].UserID)
	assert.False(t, records[0].Timestamp.IsZero())
}

func TestLogger_AppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.ndjson")

	l, err := Open(path, nil)
	require.NoError(t, err)
	l.Log("alice", "one", nil)
	require.NoError(t, l.Close())

	l, err = Open(path, nil)
	require.NoError(t, err)
	l.Log("alice", "two", nil)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"one"`)
	assert.Contains(t, string(data), `"two"`)
}

func TestLogger_LogRacingClose(t *testing.T) {
	// Logs racing Close must drop cleanly, never panic on the closing channel.
	for i := 0; i < 200; i++ {
		path := filepath.Join(t.TempDir(), "queries.ndjson")
		l, err := Open(path, nil)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l.Log("alice", "racing", nil)
			}()
		}
		require.NoError(t, l.Close())
		wg.Wait()
	}
}

func TestLogger_UnmarshalableResponseSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.ndjson")
	l, err := Open(path, nil)
	require.NoError(t, err)

	l.Log("alice", "bad", make(chan int))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}
