package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// assemble builds the snapshot of path from a set of leaves. Leaves are
// keyed by their full path.
func assemble(path string, exact json.RawMessage, hasExact bool, descendants map[string]json.RawMessage) (Snapshot, error) {
	if hasExact {
		return Snapshot{Path: path, Exists: true, Raw: exact}, nil
	}
	if len(descendants) == 0 {
		return Snapshot{Path: path}, nil
	}

	root := make(map[string]any)
	prefix := path + "/"
	for full, raw := range descendants {
		rest := strings.TrimPrefix(full, prefix)
		segs := strings.Split(rest, "/")
		node := root
		for _, seg := range segs[:len(segs)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[seg] = child
			}
			node = child
		}
		node[segs[len(segs)-1]] = raw
	}

	raw, err := json.Marshal(root)
	if err != nil {
		return Snapshot{}, fmt.Errorf("assemble %s: %w", path, err)
	}
	return Snapshot{Path: path, Exists: true, Raw: raw}, nil
}

func sameSnapshot(a, b Snapshot) bool {
	if a.Exists != b.Exists {
		return false
	}
	return !a.Exists || string(a.Raw) == string(b.Raw)
}
