//go:build !js || !wasm

package cache

import (
	"go.etcd.io/bbolt"
)

var objectStoreBucket = []byte("cache")

type bboltBackend struct {
	db *bbolt.DB
}

func openObjectStoreBackend(path string) (objectStoreBackend, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(objectStoreBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &bboltBackend{db: db}, nil
}

func (b *bboltBackend) get(key string) (value []byte, found bool, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(objectStoreBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		value = append([]byte(nil), v...)
		return nil
	})
	return value, found, err
}

func (b *bboltBackend) put(key string, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(objectStoreBucket).Put([]byte(key), value)
	})
}

func (b *bboltBackend) delete(key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(objectStoreBucket).Delete([]byte(key))
	})
}

func (b *bboltBackend) close() error {
	return b.db.Close()
}
