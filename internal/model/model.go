// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// ContentType is the kind of a content log entry.
type ContentType int16

// Content entry kinds. Values are persisted, do not reorder.
const (
	ContentDocument ContentType = iota
	ContentCommand
	ContentPublish
	ContentMock
	ContentTemplate
)

func (t ContentType) String() string {
	switch t {
	case ContentDocument:
		return "document"
	case ContentCommand:
		return "command"
	case ContentPublish:
		return "publish"
	case ContentMock:
		return "mock"
	case ContentTemplate:
		return "template"
	default:
		return "unknown"
	}
}

// ContentEntry is one immutable record of a design's append-only content log.
type ContentEntry struct {
	DesignID  string
	Version   int64       // strictly increasing per design, server assigned
	Type      ContentType // document snapshot, command, ...
	Data      string      // full document or serialized command
	CreatedBy string
	CreatedOn time.Time
	Reverted  bool // only meaningful for commands
}

// CommandInfo identifies the most recent command of a design.
type CommandInfo struct {
	Author  string
	Version int64
}

// ConnectionToken is a single-use admission ticket for a live editing connection.
type ConnectionToken struct {
	ID             uuid.UUID
	DesignID       string
	User           string
	SecretHash     []byte // SHA-512(salt || user || secret)
	ContentVersion int64  // version the client believed current at issue time
	ExpiresAt      time.Time
}

// DesignMetadata is the descriptive data derived from a design's content.
type DesignMetadata struct {
	Name        string
	Description string
	Tags        []string
}

// Equal reports whether two metadata values carry the same data.
func (m DesignMetadata) Equal(o DesignMetadata) bool {
	if m.Name != o.Name || m.Description != o.Description || len(m.Tags) != len(o.Tags) {
		return false
	}
	for i := range m.Tags {
		if m.Tags[i] != o.Tags[i] {
			return false
		}
	}
	return true
}

// Participant is one connected editor of a design.
type Participant struct {
	SessionID string
	User      string
}
