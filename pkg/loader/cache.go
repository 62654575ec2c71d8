// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/gribscan/gribscan-harmonie/pkg/dataset"
	"github.com/gribscan/gribscan-harmonie/pkg/fsutil"
)

// storeCache keeps opened reference stores keyed by path and modification
// time, so a rebuilt store is never served stale.
type storeCache struct {
	cache *ristretto.Cache
}

func newStoreCache(size int64) (*storeCache, error) {
	if size < 1 {
		size = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * size,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &storeCache{cache: cache}, nil
}

func cacheKey(path string) string {
	return fmt.Sprintf("%s@%d", path, fsutil.ModTime(path).UnixNano())
}

func (c *storeCache) get(path string) (*dataset.Dataset, bool) {
	v, ok := c.cache.Get(cacheKey(path))
	if !ok {
		return nil, false
	}
	ds, ok := v.(*dataset.Dataset)
	return ds, ok
}

func (c *storeCache) set(path string, ds *dataset.Dataset) {
	c.cache.Set(cacheKey(path), ds, 1)
	c.cache.Wait()
}

func (c *storeCache) close() {
	c.cache.Close()
}
