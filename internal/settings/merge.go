package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Rorqualx/darkmode-go/internal/types"
)

// DeepMerge overlays a stored JSON document onto base.
//
// Objects merge key-wise (nested records and the customCSSPerSite map),
// while arrays and scalars present in stored replace the base value. Keys
// outside the known shape are ignored and an explicit null clears an
// optional field. The result is normalized.
//
// A value of the wrong type for one field is skipped and reported after the
// rest of the document has been merged, so the returned Global is usable
// even when err is non-nil. A syntactically invalid document returns base
// unchanged.
func DeepMerge(base Global, stored []byte) (Global, error) {
	out := base.Clone()
	stored = bytes.TrimSpace(stored)
	if len(stored) == 0 || bytes.Equal(stored, []byte("null")) {
		return out, nil
	}
	if !json.Valid(stored) {
		return out, fmt.Errorf("%w: malformed settings document", types.ErrInvalidValue)
	}
	if stored[0] != '{' {
		return out, fmt.Errorf("%w: settings must be an object", types.ErrInvalidValue)
	}

	// encoding/json decodes onto existing values: struct fields and map
	// entries not mentioned in stored keep the base value, slices are reset.
	err := json.Unmarshal(stored, &out)
	out.Normalize()

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return out, fmt.Errorf("%w: field %s: %v", types.ErrInvalidValue, typeErr.Field, typeErr)
	}
	if err != nil {
		return base.Clone(), fmt.Errorf("%w: %v", types.ErrInvalidValue, err)
	}
	return out, nil
}
