package cache

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/0xideahub/OpenStock/internal/clientdata"
)

type payload struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

func setupCache(t *testing.T) (*Layered, *sql.DB) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := clientdata.NewRepository(db)
	require.NoError(t, err)

	return New(repo, true, zerolog.Nop()), db
}

func TestSetAndGet(t *testing.T) {
	c, _ := setupCache(t)

	c.Set(clientdata.TableYahooFundamentals, "AAPL", payload{Name: "Apple", Price: 190.5}, time.Hour)

	var got payload
	found, err := c.Get(clientdata.TableYahooFundamentals, "AAPL", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Apple", got.Name)
	assert.Equal(t, 190.5, got.Price)
}

func TestGetMiss(t *testing.T) {
	c, _ := setupCache(t)

	var got payload
	found, err := c.Get(clientdata.TableYahooFundamentals, "MISSING", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetPromotesFromSqlite(t *testing.T) {
	c, db := setupCache(t)

	// Write directly to sqlite, bypassing the memory layer.
	repo, err := clientdata.NewRepository(db)
	require.NoError(t, err)
	require.NoError(t, repo.Store(clientdata.TableSimFinFundamentals, "MSFT", payload{Name: "Microsoft"}, time.Hour))

	var got payload
	found, err := c.Get(clientdata.TableSimFinFundamentals, "MSFT", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Microsoft", got.Name)

	// The entry is now served from memory even if the row disappears.
	require.NoError(t, repo.Delete(clientdata.TableSimFinFundamentals, "MSFT"))

	found, err = c.Get(clientdata.TableSimFinFundamentals, "MSFT", &got)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestGetStaleIgnoresExpiry(t *testing.T) {
	c, db := setupCache(t)

	expiredAt := time.Now().Add(-time.Hour).Unix()
	_, err := db.Exec(
		"INSERT INTO yahoo_fundamentals (key, data, expires_at) VALUES (?, ?, ?)",
		"AAPL", `{"name":"Apple","price":180}`, expiredAt,
	)
	require.NoError(t, err)

	var got payload
	found, err := c.Get(clientdata.TableYahooFundamentals, "AAPL", &got)
	require.NoError(t, err)
	assert.False(t, found, "expired entry must not be served fresh")

	found, err = c.GetStale(clientdata.TableYahooFundamentals, "AAPL", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Apple", got.Name)
}

func TestDelete(t *testing.T) {
	c, _ := setupCache(t)

	c.Set(clientdata.TableYahooSession, "session", payload{Name: "s"}, time.Hour)

	c.Delete(clientdata.TableYahooSession, "session")

	var got payload
	found, err := c.Get(clientdata.TableYahooSession, "session", &got)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = c.GetStale(clientdata.TableYahooSession, "session", &got)
	require.NoError(t, err)
	assert.False(t, found, "Delete must also clear the persistent layer")
}

func TestDisabledCacheIsNoop(t *testing.T) {
	c := New(nil, true, zerolog.Nop())
	assert.False(t, c.Enabled())

	c.Set(clientdata.TableYahooFundamentals, "AAPL", payload{Name: "Apple"}, time.Hour)

	var got payload
	found, err := c.Get(clientdata.TableYahooFundamentals, "AAPL", &got)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = c.GetStale(clientdata.TableYahooFundamentals, "AAPL", &got)
	require.NoError(t, err)
	assert.False(t, found)

	// Delete on a disabled cache must not panic.
	c.Delete(clientdata.TableYahooFundamentals, "AAPL")
}
