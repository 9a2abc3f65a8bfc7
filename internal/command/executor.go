// Package command applies serialized edit commands to a design document.
package command

import (
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/and161185/collab-studio/internal/errs"
)

// Executor applies an ordered list of command bodies to a base document.
type Executor interface {
	Apply(base string, commands []string) (string, error)
}

// JSONPatch treats every command body as an RFC 6902 patch document.
type JSONPatch struct{}

// NewJSONPatch constructs the JSON Patch executor.
func NewJSONPatch() *JSONPatch { return &JSONPatch{} }

// Apply applies the patches in order. Any decoding or application failure
// aborts the whole sequence.
func (JSONPatch) Apply(base string, commands []string) (string, error) {
	doc := []byte(base)
	for i, body := range commands {
		patch, err := jsonpatch.DecodePatch([]byte(body))
		if err != nil {
			return "", fmt.Errorf("%w: decode command %d: %v", errs.ErrCommandApplication, i, err)
		}
		doc, err = patch.Apply(doc)
		if err != nil {
			return "", fmt.Errorf("%w: apply command %d: %v", errs.ErrCommandApplication, i, err)
		}
	}
	return string(doc), nil
}
