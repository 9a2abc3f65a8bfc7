package rollup

import (
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/and161185/collab-studio/internal/model"
)

// DeriveMetadata reads name, description and tag names from an API design
// document. Missing sections yield empty values.
func DeriveMetadata(doc string) (model.DesignMetadata, error) {
	var api openapi3.T
	if err := json.Unmarshal([]byte(doc), &api); err != nil {
		return model.DesignMetadata{}, fmt.Errorf("parse design document: %w", err)
	}

	var meta model.DesignMetadata
	if api.Info != nil {
		meta.Name = api.Info.Title
		meta.Description = api.Info.Description
	}
	for _, tag := range api.Tags {
		if tag != nil && tag.Name != "" {
			meta.Tags = append(meta.Tags, tag.Name)
		}
	}
	return meta, nil
}
