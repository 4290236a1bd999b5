package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ObjID derives a deterministic identifier for a serializable object:
// the prefix plus a short hash of the object's canonical JSON. Equal objects
// always get equal ids, so re-registering the same chain or feedback
// definition is idempotent.
func ObjID(prefix string, obj any) string {
	data, err := json.Marshal(obj)
	if err != nil {
		// Marshal failures only occur for non-serializable values, which the
		// domain types never contain. Degrade to a fixed id rather than panic.
		data = []byte(fmt.Sprintf("%v", obj))
	}
	sum := sha256.Sum256(data)
	return prefix + "_" + hex.EncodeToString(sum[:8])
}
