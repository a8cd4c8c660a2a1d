package value

import (
	"strconv"
	"strings"
)

// Lookup resolves a dot-separated path inside v.
//
// Each segment selects an object member by key, or an array element when the
// current node is an array and the segment parses as a non-negative decimal
// index. Resolution stops with false as soon as a segment cannot be resolved.
func Lookup(v Value, path string) (Value, bool) {
	cur := v
	for part := range strings.SplitSeq(path, ".") {
		switch c := cur.(type) {
		case Object:
			next, ok := c[part]
			if !ok {
				return nil, false
			}
			cur = next
		case Array:
			i, err := strconv.ParseUint(part, 10, 64)
			if err != nil || i >= uint64(len(c)) {
				return nil, false
			}
			cur = c[i]
		default:
			return nil, false
		}
	}
	if cur == nil {
		cur = Null{}
	}
	return cur, true
}
