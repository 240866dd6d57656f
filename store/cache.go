package store

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LocalCache is an optional write-through embedded cache (SPEC_FULL.md
// §4.6 supplement). Every persisted row is written to it as well as to the
// SQL store, if one is configured. At startup the coordinator rehydrates
// from the SQL store when one is configured and reads LocalCache only when
// none is; it does not fall back to LocalCache when the SQL store is slow
// or fails.
// Adopted from aistore's own embedded-KV dependency, github.com/tidwall/buntdb.
type LocalCache struct {
	db *buntdb.DB
}

func OpenLocalCache(path string) (*LocalCache, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "store: opening local cache")
	}
	return &LocalCache{db: db}, nil
}

func (c *LocalCache) Put(row Row) error {
	b, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(row.RequestID, string(b), nil)
		return err
	})
}

func (c *LocalCache) Delete(requestID string) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(requestID)
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		return nil
	})
}

func (c *LocalCache) LoadAll() ([]Row, error) {
	var rows []Row
	err := c.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, value string) bool {
			var row Row
			if err := json.Unmarshal([]byte(value), &row); err == nil {
				rows = append(rows, row)
			}
			return true
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "store: loading local cache")
	}
	return rows, nil
}

func (c *LocalCache) Close() error {
	return c.db.Close()
}
