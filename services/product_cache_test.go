package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"orders-service/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupCache(t *testing.T, inner ProductClient) (*CachedProductClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := NewCachedProductClient(inner, rdb, time.Minute, zap.NewNop())
	c.writes = make(chan struct{}, 1)
	return c, mr
}

func waitForWrite(t *testing.T, c *CachedProductClient) {
	t.Helper()
	select {
	case <-c.writes:
	case <-time.After(2 * time.Second):
		t.Fatal("cache write did not finish")
	}
}

func TestCachedProductClient_MissThenHit(t *testing.T) {
	inner := &mockProducts{products: []models.Product{
		{ID: "p1", Name: "Keyboard", Price: decimal.RequireFromString("10.50")},
	}}
	c, mr := setupCache(t, inner)

	got, err := c.ValidateProducts(context.Background(), []string{"p1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	waitForWrite(t, c)

	assert.True(t, mr.Exists(productCachePrefix+"p1"))
	assert.Equal(t, time.Minute, mr.TTL(productCachePrefix+"p1"))

	got, err = c.ValidateProducts(context.Background(), []string{"p1"})
	require.NoError(t, err)
	assert.Len(t, inner.asked, 1, "second lookup is served from cache")
	assert.Equal(t, "Keyboard", got[0].Name)
	assert.True(t, got[0].Price.Equal(decimal.RequireFromString("10.5")))
}

func TestCachedProductClient_AsksOnlyForMissing(t *testing.T) {
	inner := &mockProducts{products: []models.Product{
		{ID: "p2", Name: "Mouse", Price: decimal.RequireFromString("4.25")},
	}}
	c, mr := setupCache(t, inner)
	require.NoError(t, mr.Set(productCachePrefix+"p1", `{"id":"p1","name":"Keyboard","price":"10.5"}`))

	got, err := c.ValidateProducts(context.Background(), []string{"p1", "p2"})
	require.NoError(t, err)
	waitForWrite(t, c)

	assert.Equal(t, [][]string{{"p2"}}, inner.asked)
	byID := models.IndexProducts(got)
	assert.Equal(t, "Keyboard", byID["p1"].Name)
	assert.Equal(t, "Mouse", byID["p2"].Name)
}

func TestCachedProductClient_UnknownIDStillFails(t *testing.T) {
	inner := &mockProducts{err: errors.New("Some products were not found")}
	c, mr := setupCache(t, inner)
	require.NoError(t, mr.Set(productCachePrefix+"p1", `{"id":"p1","name":"Keyboard","price":"10.5"}`))

	_, err := c.ValidateProducts(context.Background(), []string{"p1", "nope"})

	assert.EqualError(t, err, "Some products were not found")
	assert.Equal(t, [][]string{{"nope"}}, inner.asked)
	assert.False(t, mr.Exists(productCachePrefix+"nope"))
}

func TestCachedProductClient_RedisDownFallsBack(t *testing.T) {
	inner := &mockProducts{products: []models.Product{{ID: "p1", Name: "Keyboard"}}}
	c, mr := setupCache(t, inner)
	mr.Close()

	got, err := c.ValidateProducts(context.Background(), []string{"p1"})
	require.NoError(t, err)
	waitForWrite(t, c)

	assert.Len(t, got, 1)
	assert.Equal(t, [][]string{{"p1"}}, inner.asked)
}

func TestCachedProductClient_CorruptEntryIsRefetched(t *testing.T) {
	inner := &mockProducts{products: []models.Product{{ID: "p1", Name: "Keyboard"}}}
	c, mr := setupCache(t, inner)
	require.NoError(t, mr.Set(productCachePrefix+"p1", `not json`))

	got, err := c.ValidateProducts(context.Background(), []string{"p1"})
	require.NoError(t, err)
	waitForWrite(t, c)

	assert.Equal(t, "Keyboard", got[0].Name)
	assert.Equal(t, [][]string{{"p1"}}, inner.asked)
}
