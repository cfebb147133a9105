package sensors

import (
	"strconv"
	"strings"
)

// RawPrefix marks raw Teltonika AVL IO fields (avl_io_<property id>).
const RawPrefix = "avl_io_"

// Field is a provider field name classified once as either a raw protocol
// channel (Raw, Code) or a processed provider field (Name only).
type Field struct {
	Name string
	Code int  // AVL property id, only meaningful when Raw
	Raw  bool // true for avl_io_<digits>
}

// ParseField classifies a provider field name.
func ParseField(name string) Field {
	rest, ok := strings.CutPrefix(name, RawPrefix)
	if !ok || rest == "" {
		return Field{Name: name}
	}
	code, err := strconv.Atoi(rest)
	if err != nil || code < 0 || strings.HasPrefix(rest, "+") {
		return Field{Name: name}
	}
	return Field{Name: name, Code: code, Raw: true}
}

func (f Field) String() string { return f.Name }

// Names returns the field names in order.
func Names(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}
