package storage

import (
	"context"
	"testing"

	"github.com/eventboard/server/internal/config"
	"github.com/eventboard/server/internal/storage/memory"
	"github.com/stretchr/testify/require"
)

func TestOpenMemory(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Driver = config.DriverMemory

	store, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	require.IsType(t, &memory.Store{}, store)
	require.NoError(t, store.Ping(context.Background()))
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Driver = "sqlite"

	_, err := Open(context.Background(), cfg)
	require.ErrorContains(t, err, "sqlite")
}

func TestOpenPostgresBadURL(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Driver = config.DriverPostgres
	cfg.Database.URL = "://not-a-url"

	_, err := Open(context.Background(), cfg)
	require.ErrorContains(t, err, "parse database url")
}
