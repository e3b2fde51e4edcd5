package redis

import (
	"context"
	"path"
	"sort"

	"github.com/redis/go-redis/v9"
)

// fakeStore implements the subset of redis.Cmdable the adapter uses over
// in-memory maps. Calling any other method panics.
type fakeStore struct {
	redis.Cmdable

	strings map[string]string
	hashes  map[string]map[string]string
	lists   map[string][]string
	sets    map[string][]string

	scans    int
	scanErr  error
	commands []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		strings: map[string]string{},
		hashes:  map[string]map[string]string{},
		lists:   map[string][]string{},
		sets:    map[string][]string{},
	}
}

func (f *fakeStore) allKeys() []string {
	var keys []string
	for k := range f.strings {
		keys = append(keys, k)
	}
	for k := range f.hashes {
		keys = append(keys, k)
	}
	for k := range f.lists {
		keys = append(keys, k)
	}
	for k := range f.sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeStore) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	f.scans++
	f.commands = append(f.commands, "SCAN")
	if f.scanErr != nil {
		return redis.NewScanCmdResult(nil, 0, f.scanErr)
	}
	if err := ctx.Err(); err != nil {
		return redis.NewScanCmdResult(nil, 0, err)
	}
	all := f.allKeys()
	end := int(cursor) + int(count)
	if end > len(all) {
		end = len(all)
	}
	var keys []string
	for _, k := range all[cursor:end] {
		if ok, _ := path.Match(match, k); ok {
			keys = append(keys, k)
		}
	}
	next := uint64(end)
	if end == len(all) {
		next = 0
	}
	return redis.NewScanCmdResult(keys, next, nil)
}

func (f *fakeStore) Type(_ context.Context, key string) *redis.StatusCmd {
	f.commands = append(f.commands, "TYPE")
	switch {
	case f.has(f.strings, key):
		return redis.NewStatusResult(TypeString, nil)
	case f.hashes[key] != nil:
		return redis.NewStatusResult(TypeHash, nil)
	case f.lists[key] != nil:
		return redis.NewStatusResult(TypeList, nil)
	case f.sets[key] != nil:
		return redis.NewStatusResult(TypeSet, nil)
	}
	return redis.NewStatusResult("none", nil)
}

func (f *fakeStore) has(m map[string]string, key string) bool {
	_, ok := m[key]
	return ok
}

func (f *fakeStore) Get(_ context.Context, key string) *redis.StringCmd {
	f.commands = append(f.commands, "GET")
	v, ok := f.strings[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeStore) MGet(_ context.Context, keys ...string) *redis.SliceCmd {
	f.commands = append(f.commands, "MGET")
	out := make([]any, len(keys))
	for i, k := range keys {
		if v, ok := f.strings[k]; ok {
			out[i] = v
		}
	}
	return redis.NewSliceResult(out, nil)
}

func (f *fakeStore) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	f.commands = append(f.commands, "HGETALL")
	m := map[string]string{}
	for k, v := range f.hashes[key] {
		m[k] = v
	}
	return redis.NewMapStringStringResult(m, nil)
}

func (f *fakeStore) HMGet(_ context.Context, key string, fields ...string) *redis.SliceCmd {
	f.commands = append(f.commands, "HMGET")
	out := make([]any, len(fields))
	for i, name := range fields {
		if v, ok := f.hashes[key][name]; ok {
			out[i] = v
		}
	}
	return redis.NewSliceResult(out, nil)
}

func (f *fakeStore) LRange(_ context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	f.commands = append(f.commands, "LRANGE")
	items := f.lists[key]
	if stop < 0 || int(stop) >= len(items) {
		stop = int64(len(items)) - 1
	}
	return redis.NewStringSliceResult(append([]string(nil), items[start:stop+1]...), nil)
}

func (f *fakeStore) SMembers(_ context.Context, key string) *redis.StringSliceCmd {
	f.commands = append(f.commands, "SMEMBERS")
	return redis.NewStringSliceResult(append([]string(nil), f.sets[key]...), nil)
}

// shop seeds hashes under user:, strings under session: and a list.
func shop() *fakeStore {
	f := newFakeStore()
	f.hashes["user:1"] = map[string]string{"name": "Alice", "email": "alice@example.com", "age": "31"}
	f.hashes["user:2"] = map[string]string{"name": "Bob", "age": "unknown"}
	f.hashes["user:3"] = map[string]string{"name": "Carol", "email": "carol@example.com", "age": "27"}
	f.strings["session:abc"] = "1"
	f.strings["session:def"] = "2"
	f.lists["queue:jobs"] = []string{"a", "b", "c"}
	f.strings["orphan"] = "x"
	return f
}
