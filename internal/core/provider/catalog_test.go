package provider_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Nzyazin/otpshop/internal/core/logger"
	"github.com/Nzyazin/otpshop/internal/core/provider"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	catalog provider.Catalog
	err     error
	calls   int
}

func (f *stubFetcher) FetchServices(ctx context.Context) (provider.Catalog, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.catalog, nil
}

func testCatalog() provider.Catalog {
	return provider.Catalog{
		"Telegram": {
			{ServiceCode: "tg", ServerCode: "1", Price: decimal.RequireFromString("5.64")},
		},
	}
}

func TestCatalogCacheServesFromAPIThenCache(t *testing.T) {
	log := logger.NewNopLogger()
	fetcher := &stubFetcher{catalog: testCatalog()}
	cache := provider.NewCatalogCache(fetcher, "", time.Hour, log)

	catalog, source, err := cache.Services(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provider.SourceAPI, source)
	assert.Len(t, catalog["Telegram"], 1)

	_, source, err = cache.Services(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provider.SourceCache, source)
	assert.Equal(t, 1, fetcher.calls, "fresh cache must not hit the API")
}

func TestCatalogCacheStaleCacheOnFetchFailure(t *testing.T) {
	log := logger.NewNopLogger()
	fetcher := &stubFetcher{catalog: testCatalog()}
	cache := provider.NewCatalogCache(fetcher, "", time.Nanosecond, log)

	_, source, err := cache.Services(context.Background())
	require.NoError(t, err)
	require.Equal(t, provider.SourceAPI, source)

	// TTL уже истёк, API падает - отдаём протухший кэш.
	fetcher.err = errors.New("provider down")
	time.Sleep(time.Millisecond)

	catalog, source, err := cache.Services(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provider.SourceCache, source)
	assert.Len(t, catalog["Telegram"], 1)
}

func TestCatalogCacheSnapshotFallback(t *testing.T) {
	log := logger.NewNopLogger()
	snapshot := filepath.Join(t.TempDir(), "catalog.json")

	// Первый кэш прогревает снимок на диске.
	warm := provider.NewCatalogCache(&stubFetcher{catalog: testCatalog()}, snapshot, time.Hour, log)
	_, _, err := warm.Services(context.Background())
	require.NoError(t, err)

	// Холодный кэш с упавшим API читает снимок.
	cold := provider.NewCatalogCache(&stubFetcher{err: errors.New("provider down")}, snapshot, time.Hour, log)
	catalog, source, err := cold.Services(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provider.SourceSnapshot, source)
	assert.Len(t, catalog["Telegram"], 1)
}

func TestCatalogCacheSampleFallback(t *testing.T) {
	log := logger.NewNopLogger()
	cache := provider.NewCatalogCache(&stubFetcher{err: errors.New("provider down")}, "", time.Hour, log)

	catalog, source, err := cache.Services(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provider.SourceSample, source)
	assert.NotEmpty(t, catalog)
}

func TestCatalogCachePrice(t *testing.T) {
	log := logger.NewNopLogger()
	cache := provider.NewCatalogCache(&stubFetcher{catalog: testCatalog()}, "", time.Hour, log)

	price, err := cache.Price(context.Background(), "tg", "1")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("5.64")))

	_, err = cache.Price(context.Background(), "tg", "99")
	assert.ErrorIs(t, err, provider.ErrPriceNotFound)
}

func TestParseCatalog(t *testing.T) {
	data := []byte(`{"Telegram":[{"service_code":"tg","server_code":"1","price":"5.64"}]}`)
	catalog, err := provider.ParseCatalog(data)
	require.NoError(t, err)
	require.Len(t, catalog["Telegram"], 1)
	assert.True(t, catalog["Telegram"][0].Price.Equal(decimal.RequireFromString("5.64")))

	_, err = provider.ParseCatalog([]byte(`{"Telegram":[{"price":"free"}]}`))
	assert.Error(t, err)
}
