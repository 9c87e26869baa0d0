package firestore

import (
	"encoding/json"

	"github.com/klipach/chatsync/gateway"
)

type location struct {
	path       string
	collection string
	doc        string
	fields     []string
}

func locate(path string) (location, error) {
	segs := gateway.Split(path)
	if len(segs) == 0 {
		return location{}, errPathTooShort
	}
	loc := location{path: gateway.Join(segs...), collection: segs[0]}
	if len(segs) > 1 {
		loc.doc = segs[1]
		loc.fields = segs[2:]
	}
	return loc, nil
}

func (l location) snapshot(v any) gateway.Snapshot {
	snap := gateway.Snapshot{Path: l.path, Key: gateway.Key(l.path)}
	if v == nil {
		return snap
	}
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return snap
	}
	raw, err := json.Marshal(v)
	if err == nil {
		snap.Value = raw
	}
	return snap
}

// extract walks fields down data. It returns nil when any step is missing.
func extract(data map[string]any, fields []string) any {
	if data == nil {
		return nil
	}
	var cur any = data
	for _, f := range fields {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = node[f]
	}
	return cur
}

// nest wraps v into maps so it sits at fields.
func nest(fields []string, v any) map[string]any {
	out := map[string]any{}
	merge(out, fields, v)
	return out
}

func merge(dst map[string]any, fields []string, v any) {
	node := dst
	for _, f := range fields[:len(fields)-1] {
		next, ok := node[f].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[f] = next
		}
		node = next
	}
	node[fields[len(fields)-1]] = v
}
