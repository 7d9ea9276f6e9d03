// Package fieldpath resolves dot-separated paths inside nested form records.
package fieldpath

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNotAContainer = errors.New("FIELD_PATH_NOT_A_CONTAINER")

// Get returns the value at path and whether it exists. A missing intermediate node is
// reported as not found, never as an error.
func Get(record map[string]interface{}, path string) (interface{}, bool) {
	if record == nil || path == "" {
		return nil, false
	}

	var current interface{} = record
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set writes value at path, creating intermediate maps as needed. It fails when an
// intermediate node exists but is not an object.
func Set(record map[string]interface{}, path string, value interface{}) error {
	if record == nil {
		return fmt.Errorf("%w: nil record", ErrNotAContainer)
	}
	segments := strings.Split(path, ".")
	node := record
	for i, segment := range segments[:len(segments)-1] {
		next, exists := node[segment]
		if !exists || next == nil {
			child := map[string]interface{}{}
			node[segment] = child
			node = child
			continue
		}
		child, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotAContainer, strings.Join(segments[:i+1], "."))
		}
		node = child
	}
	node[segments[len(segments)-1]] = value
	return nil
}

// Last returns the final segment of path, which is how field labels are keyed.
func Last(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Section returns the first segment of path.
func Section(path string) string {
	if i := strings.Index(path, "."); i >= 0 {
		return path[:i]
	}
	return path
}
