//go:build js && wasm

package cache

import (
	"errors"
	"syscall/js"
)

// domLocalKV talks to the real window.localStorage.
type domLocalKV struct {
	storage js.Value
}

func newLocalKVBackend() localKVBackend {
	return &domLocalKV{storage: js.Global().Get("localStorage")}
}

func (b *domLocalKV) getItem(key string) (string, bool) {
	v := b.storage.Call("getItem", key)
	if v.IsNull() || v.IsUndefined() {
		return "", false
	}
	return v.String(), true
}

func (b *domLocalKV) setItem(key string, value string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("localKV: localStorage.setItem threw (likely quota exceeded)")
		}
	}()
	b.storage.Call("setItem", key, value)
	return nil
}

func (b *domLocalKV) removeItem(key string) {
	b.storage.Call("removeItem", key)
}
