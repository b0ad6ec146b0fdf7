package querycore

import (
	"encoding/json"
	"fmt"
)

// deepCopy returns a structurally independent copy of v via a JSON
// marshal/unmarshal round trip. T is unconstrained, so a field-by-field
// copy (as the teacher's models.Entry.Clone does for its concrete
// fields) is not expressible; the round trip is the generic substitute.
//
// Values that cannot be marshaled (channels, funcs, cyclic structures)
// are not supported by endpoint state and make deepCopy panic.
func deepCopy[T any](v *T) *T {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("querycore: value of type %T is not deep-copyable: %v", v, err))
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		panic(fmt.Sprintf("querycore: value of type %T round-tripped but failed to unmarshal: %v", v, err))
	}
	return out
}
