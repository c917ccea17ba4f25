package repository

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
	"KronosCast/pkg/cache"
	pkghttp "KronosCast/pkg/http"
)

func TestHTTPKlineSource_TableShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/kline", r.URL.Path)
		assert.Equal(t, "600519", r.URL.Query().Get("code"))
		assert.Equal(t, "2024-01-02", r.URL.Query().Get("from"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"columns":["日期","开盘","最高","最低","收盘"],"rows":[["2024-01-02",10,11,9,10.5]]}`))
	}))
	defer srv.Close()

	src := NewHTTPKlineSource(srv.URL+"/", time.Second)
	feed, err := src.Fetch(context.Background(), domrepo.FeedQuery{Code: "600519", From: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, []string{"日期", "开盘", "最高", "最低", "收盘"}, feed.Columns)
	require.Len(t, feed.Rows, 1)
	assert.Equal(t, 10.5, feed.Rows[0][4])
}

func TestHTTPKlineSource_ColumnOrientedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"timestamp":["2024-01-02","2024-01-03"],"open":[1,2],"high":[2,3],"low":[0.5,1.5],"close":[1.5,2.5],"symbol":"X"}}`))
	}))
	defer srv.Close()

	feed, err := NewHTTPKlineSource(srv.URL, time.Second).Fetch(context.Background(), domrepo.FeedQuery{Code: "X"})
	require.NoError(t, err)
	assert.Equal(t, []string{"close", "high", "low", "open", "timestamp"}, feed.Columns)
	require.Len(t, feed.Rows, 2)
	assert.Equal(t, []interface{}{2.5, 3.0, 1.5, 2.0, "2024-01-03"}, feed.Rows[1])
}

func TestHTTPKlineSource_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPKlineSource(srv.URL, time.Second).Fetch(context.Background(), domrepo.FeedQuery{Code: "X"})
	assert.Error(t, err)
}

func TestHTTPKlineSource_Health(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	src := NewHTTPKlineSource(srv.URL, time.Second)
	require.NoError(t, src.Health(context.Background()))

	healthy = false
	var se *pkghttp.StatusError
	require.ErrorAs(t, src.Health(context.Background()), &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
}

type countingSource struct {
	calls int
	feed  models.RawFeed
	err   error
}

func (c *countingSource) Fetch(context.Context, domrepo.FeedQuery) (models.RawFeed, error) {
	c.calls++
	return c.feed, c.err
}

func (c *countingSource) Health(context.Context) error { return nil }

func TestCachedFeedSource_HitsCacheOnSecondFetch(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	inner := &countingSource{feed: models.RawFeed{
		Columns: []string{"date", "open", "high", "low", "close"},
		Rows:    [][]interface{}{{"2024-01-02", 10.0, 11.0, 9.0, 10.5}},
	}}
	src := NewCachedFeedSource(inner, cache.NewRedisCacheFromClient(client, "test"), time.Minute, nil)
	q := domrepo.FeedQuery{Code: "600519", To: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)}

	first, err := src.Fetch(context.Background(), q)
	require.NoError(t, err)
	second, err := src.Fetch(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first, second)
	assert.True(t, s.Exists("test:feed:600519:-:20240105"))

	require.NoError(t, src.Invalidate(context.Background(), "600519"))
	_, err = src.Fetch(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedFeedSource_FallsBackWhenCacheDown(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	s.Close()

	inner := &countingSource{feed: models.RawFeed{Columns: []string{"close"}, Rows: [][]interface{}{{1.0}}}}
	src := NewCachedFeedSource(inner, cache.NewRedisCacheFromClient(client, "test"), time.Minute, nil)

	feed, err := src.Fetch(context.Background(), domrepo.FeedQuery{Code: "X"})
	require.NoError(t, err)
	assert.Len(t, feed.Rows, 1)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedFeedSource_EmptyFeedNotCached(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	inner := &countingSource{}
	src := NewCachedFeedSource(inner, mc, time.Minute, nil)

	for i := 0; i < 2; i++ {
		_, err := src.Fetch(context.Background(), domrepo.FeedQuery{Code: "X"})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, inner.calls)
}
