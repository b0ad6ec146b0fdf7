//go:build js && wasm

package cache

import (
	"errors"
	"syscall/js"
)

const (
	objectStoreDBVersion = 1
	objectStoreDBName    = "querycore"
	objectStoreName      = "cache"
)

// idbBackend bridges indexedDB's callback/event API to Go using
// channels: every call blocks the calling goroutine on a request's
// onsuccess/onerror event, which is safe because js/wasm dispatches
// events on the same goroutine-per-callback model the Go scheduler
// already cooperates with.
type idbBackend struct {
	db js.Value
}

func openObjectStoreBackend(path string) (objectStoreBackend, error) {
	result := make(chan js.Value, 1)
	errCh := make(chan error, 1)

	req := js.Global().Get("indexedDB").Call("open", objectStoreDBName, objectStoreDBVersion)

	req.Set("onupgradeneeded", js.FuncOf(func(this js.Value, args []js.Value) any {
		db := req.Get("result")
		names := db.Get("objectStoreNames")
		if !names.Call("contains", objectStoreName).Bool() {
			db.Call("createObjectStore", objectStoreName)
		}
		return nil
	}))

	req.Set("onsuccess", js.FuncOf(func(this js.Value, args []js.Value) any {
		result <- req.Get("result")
		return nil
	}))
	req.Set("onerror", js.FuncOf(func(this js.Value, args []js.Value) any {
		errCh <- errors.New("indexedDB: open failed")
		return nil
	}))

	select {
	case db := <-result:
		return &idbBackend{db: db}, nil
	case err := <-errCh:
		return nil, err
	}
}

func (b *idbBackend) transaction(mode string) js.Value {
	return b.db.Call("transaction", []any{objectStoreName}, mode).Call("objectStore", objectStoreName)
}

func (b *idbBackend) get(key string) ([]byte, bool, error) {
	store := b.transaction("readonly")
	req := store.Call("get", key)

	result := make(chan js.Value, 1)
	errCh := make(chan error, 1)
	req.Set("onsuccess", js.FuncOf(func(this js.Value, args []js.Value) any {
		result <- req.Get("result")
		return nil
	}))
	req.Set("onerror", js.FuncOf(func(this js.Value, args []js.Value) any {
		errCh <- errors.New("indexedDB: get failed")
		return nil
	}))

	select {
	case v := <-result:
		if v.IsUndefined() || v.IsNull() {
			return nil, false, nil
		}
		return []byte(v.String()), true, nil
	case err := <-errCh:
		return nil, false, err
	}
}

func (b *idbBackend) put(key string, value []byte) error {
	store := b.transaction("readwrite")
	req := store.Call("put", string(value), key)

	done := make(chan error, 1)
	req.Set("onsuccess", js.FuncOf(func(this js.Value, args []js.Value) any {
		done <- nil
		return nil
	}))
	req.Set("onerror", js.FuncOf(func(this js.Value, args []js.Value) any {
		done <- errors.New("indexedDB: put failed")
		return nil
	}))
	return <-done
}

func (b *idbBackend) delete(key string) error {
	store := b.transaction("readwrite")
	req := store.Call("delete", key)

	done := make(chan error, 1)
	req.Set("onsuccess", js.FuncOf(func(this js.Value, args []js.Value) any {
		done <- nil
		return nil
	}))
	req.Set("onerror", js.FuncOf(func(this js.Value, args []js.Value) any {
		done <- errors.New("indexedDB: delete failed")
		return nil
	}))
	return <-done
}

func (b *idbBackend) close() error {
	b.db.Call("close")
	return nil
}
