package store

import "context"

// Namespaced prefixes every key with prefix + ":" before delegating to kv.
// Batched writes stay atomic when kv supports them.
func Namespaced(kv KV, prefix string) KV {
	return &namespaced{kv: kv, prefix: prefix + ":"}
}

type namespaced struct {
	kv     KV
	prefix string
}

func (n *namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.kv.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key, value string) error {
	return n.kv.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) Has(ctx context.Context, key string) (bool, error) {
	return n.kv.Has(ctx, n.prefix+key)
}

func (n *namespaced) SetMany(ctx context.Context, entries []Entry) error {
	prefixed := make([]Entry, len(entries))
	for i, e := range entries {
		prefixed[i] = Entry{Key: n.prefix + e.Key, Value: e.Value}
	}
	return SetAll(ctx, n.kv, prefixed...)
}
