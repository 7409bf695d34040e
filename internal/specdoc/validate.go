package specdoc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateFile checks one artifact file against the schema for its kind.
// Returns the concrete error messages; empty means valid.
func ValidateFile(path string, kind Kind) ([]string, error) {
	schema, err := schemaFor(kind)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []string{fmt.Sprintf("invalid JSON: %v", err)}, nil
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return flattenCauses(ve), nil
		}
		return []string{err.Error()}, nil
	}
	return nil, nil
}

// flattenCauses walks to the leaf causes so the repair prompt gets concrete
// per-location messages instead of the root "doesn't validate" summary.
func flattenCauses(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var out []string
	for _, cause := range ve.Causes {
		out = append(out, flattenCauses(cause)...)
	}
	return out
}

// ValidateKinds validates every discovered artifact for the given kinds. A
// kind with no file at all is itself a validation error: the phase claimed
// to have produced it.
func ValidateKinds(specDir string, kinds []Kind) ([]FileError, error) {
	var failures []FileError
	for _, kind := range kinds {
		files, err := Discover(specDir, kind)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			failures = append(failures, FileError{
				Path:   string(kind),
				Errors: []string{fmt.Sprintf("no %s artifact found (expected %v)", kind, Patterns(kind))},
			})
			continue
		}
		for _, f := range files {
			msgs, err := ValidateFile(f, kind)
			if err != nil {
				return nil, err
			}
			if len(msgs) > 0 {
				failures = append(failures, FileError{Path: f, Errors: msgs})
			}
		}
	}
	return failures, nil
}
