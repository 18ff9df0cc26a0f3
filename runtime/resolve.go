package runtime

import (
	"time"

	"github.com/spf13/cast"
)

// structural attributes never follow the inherit link, they always come from the parent
var reservedKeys = map[string]struct{}{
	"cwd":           {},
	"task":          {},
	"args":          {},
	"children":      {},
	"parent":        {},
	"inherit":       {},
	"concurrent":    {},
	"data":          {},
	"init":          {},
	"prober":        {},
	"start_time":    {},
	"end_time":      {},
	"dispatch_time": {},
	"err":           {},
}

// maxLookupHops bounds the walk when inherit links form a cycle
const maxLookupHops = 1 << 12

func IsReservedKey(key string) bool {
	_, reserved := reservedKeys[key]
	return reserved
}

// lookup resolves key on n, the caller holds the tree lock.
// Each node answers from its runtime data first, then from its initial
// configuration. Otherwise the search continues at the inherited node for
// ordinary keys and at the parent for structural ones or when nothing is
// inherited.
func (n *Node) lookup(key string) (any, bool) {
	_, reserved := reservedKeys[key]
	cur := n
	for hops := 0; cur != nil && hops < maxLookupHops; hops++ {
		if v, exists := cur.data[key]; exists {
			return v, true
		}
		if v, exists := cur.init[key]; exists {
			return v, true
		}
		if !reserved && cur.inherit != nil {
			cur = cur.inherit
		} else {
			cur = cur.parent
		}
	}
	return nil, false
}

func (n *Node) Get(key string) (any, bool) {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	return n.lookup(key)
}

func (n *Node) Has(key string) bool {
	_, exists := n.Get(key)
	return exists
}

func (n *Node) GetString(key string) (string, bool) {
	v, exists := n.Get(key)
	return cast.ToString(v), exists
}

func (n *Node) GetInt(key string) (int, bool) {
	v, exists := n.Get(key)
	return cast.ToInt(v), exists
}

func (n *Node) GetFloat64(key string) (float64, bool) {
	v, exists := n.Get(key)
	return cast.ToFloat64(v), exists
}

func (n *Node) GetBool(key string) (bool, bool) {
	v, exists := n.Get(key)
	return cast.ToBool(v), exists
}

func (n *Node) GetDuration(key string) (time.Duration, bool) {
	v, exists := n.Get(key)
	return cast.ToDuration(v), exists
}

func (n *Node) GetStringSlice(key string) ([]string, bool) {
	v, exists := n.Get(key)
	return cast.ToStringSlice(v), exists
}

// Set stores a runtime value, cleared whenever the node's task starts again
func (n *Node) Set(key string, value any) {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	n.data.Set(key, value)
}

func (n *Node) Delete(key string) {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	n.data.Delete(key)
}
