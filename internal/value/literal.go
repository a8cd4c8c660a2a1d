package value

import (
	"math"
	"strconv"
)

// ParseLiteral interprets user-typed text the way an interactive shell would.
//
// Text starting with '{' or '[' is decoded as JSON and falls back to a String
// when it is not valid JSON. Otherwise the text becomes an Int, a Float, a
// Bool for exactly "true" or "false", and a String in every other case.
func ParseLiteral(s string) Value {
	if len(s) > 0 && (s[0] == '{' || s[0] == '[') {
		if v, err := Unmarshal([]byte(s)); err == nil {
			return v
		}
		return String(s)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return Float(f)
	}
	switch s {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	return String(s)
}
