// Package ops defines the operations exchanged between editors, server nodes
// and the server over a live editing connection.
package ops

import (
	"encoding/json"
	"fmt"

	"github.com/and161185/collab-studio/internal/errs"
)

// Type discriminates operation variants on the wire.
type Type string

// Operation types.
const (
	TypeJoin         Type = "join"
	TypeLeave        Type = "leave"
	TypeCommand      Type = "command"
	TypeUndo         Type = "undo"
	TypeRedo         Type = "redo"
	TypeSelection    Type = "selection"
	TypeBatch        Type = "batch"
	TypeListClients  Type = "list-clients"
	TypeAck          Type = "ack"
	TypeDeferred     Type = "deferred"
	TypeStorageError Type = "storage-error"
)

// Source tells whether an operation came from this node's own client or from
// another node through the fan-out.
type Source string

// Operation sources.
const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Envelope is the part shared by every operation.
type Envelope struct {
	Type   Type   `json:"type"`
	Source Source `json:"source,omitempty"`
}

// Env returns the envelope itself so embedding types satisfy Operation.
func (e *Envelope) Env() *Envelope { return e }

// Operation is any wire message.
type Operation interface {
	Env() *Envelope
}

// DecodeEnvelope reads only the discriminator fields of raw.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", errs.ErrProtocolViolation, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", errs.ErrProtocolViolation)
	}
	return env, nil
}

// Decode unmarshals raw into a fresh value of T.
func Decode[T any, PT interface {
	*T
	Operation
}](raw []byte) (Operation, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrProtocolViolation, err)
	}
	return PT(&v), nil
}

// Command is a single edit. Inbound it carries the client's local CommandID;
// outbound to other editors it carries the assigned ContentVersion and Author.
type Command struct {
	Envelope
	CommandID      int64           `json:"commandId,omitempty"`
	Command        json.RawMessage `json:"command"`
	ContentVersion int64           `json:"contentVersion,omitempty"`
	Author         string          `json:"author,omitempty"`
	Reverted       bool            `json:"reverted"`
}

// Undo reverts the command stored at ContentVersion.
type Undo struct {
	Envelope
	ContentVersion int64 `json:"contentVersion"`
}

// Redo re-applies the reverted command stored at ContentVersion.
type Redo struct {
	Envelope
	ContentVersion int64 `json:"contentVersion"`
}

// Join announces a participant.
type Join struct {
	Envelope
	User string `json:"user"`
	ID   string `json:"id"`
}

// Leave announces a departed participant.
type Leave struct {
	Envelope
	User string `json:"user"`
	ID   string `json:"id"`
}

// Selection is ephemeral cursor/selection presence; never persisted.
type Selection struct {
	Envelope
	User      string          `json:"user,omitempty"`
	ID        string          `json:"id,omitempty"`
	Selection json.RawMessage `json:"selection"`
}

// Batch holds sub-operations processed in list order.
type Batch struct {
	Envelope
	Operations []json.RawMessage `json:"operations"`
}

// ListClients asks other nodes to announce their participants.
type ListClients struct {
	Envelope
}

// Ack confirms a command, undo or redo to its originator. AckType is the
// kind of the acknowledged operation.
type Ack struct {
	Envelope
	CommandID      *int64 `json:"commandId,omitempty"`
	ContentVersion int64  `json:"contentVersion"`
	AckType        Type   `json:"ackType"`
}

// Deferred tells the originator its undo or redo found the target already in
// the requested state.
type Deferred struct {
	Envelope
	ContentVersion int64 `json:"contentVersion"`
	DeferredType   Type  `json:"deferredType"`
}

// StorageError tells the originator its operation could not be persisted.
type StorageError struct {
	Envelope
	CommandID      *int64 `json:"commandId,omitempty"`
	ContentVersion *int64 `json:"contentVersion,omitempty"`
	ErrorType      Type   `json:"errorType"`
	Message        string `json:"message"`
}

// NewCommand builds the outbound form of a stored command.
func NewCommand(version int64, body json.RawMessage, author string, reverted bool) *Command {
	return &Command{
		Envelope:       Envelope{Type: TypeCommand},
		Command:        body,
		ContentVersion: version,
		Author:         author,
		Reverted:       reverted,
	}
}

// NewCommandAck acknowledges a stored command.
func NewCommandAck(commandID, version int64) *Ack {
	return &Ack{Envelope: Envelope{Type: TypeAck}, CommandID: &commandID, ContentVersion: version, AckType: TypeCommand}
}

// NewAck acknowledges an undo or redo.
func NewAck(kind Type, version int64) *Ack {
	return &Ack{Envelope: Envelope{Type: TypeAck}, ContentVersion: version, AckType: kind}
}

// NewDeferred reports a no-op undo or redo.
func NewDeferred(kind Type, version int64) *Deferred {
	return &Deferred{Envelope: Envelope{Type: TypeDeferred}, ContentVersion: version, DeferredType: kind}
}

// NewCommandStorageError reports a command that could not be appended.
func NewCommandStorageError(commandID int64, err error) *StorageError {
	return &StorageError{
		Envelope:  Envelope{Type: TypeStorageError},
		CommandID: &commandID,
		ErrorType: TypeCommand,
		Message:   err.Error(),
	}
}

// NewVersionStorageError reports an undo or redo that could not be stored.
func NewVersionStorageError(kind Type, version int64, err error) *StorageError {
	return &StorageError{
		Envelope:       Envelope{Type: TypeStorageError},
		ContentVersion: &version,
		ErrorType:      kind,
		Message:        err.Error(),
	}
}

// NewUndo builds an undo notification.
func NewUndo(version int64) *Undo {
	return &Undo{Envelope: Envelope{Type: TypeUndo}, ContentVersion: version}
}

// NewRedo builds a redo notification.
func NewRedo(version int64) *Redo {
	return &Redo{Envelope: Envelope{Type: TypeRedo}, ContentVersion: version}
}

// NewJoin announces user connected as id.
func NewJoin(user, id string) *Join {
	return &Join{Envelope: Envelope{Type: TypeJoin}, User: user, ID: id}
}

// NewLeave announces user left as id.
func NewLeave(user, id string) *Leave {
	return &Leave{Envelope: Envelope{Type: TypeLeave}, User: user, ID: id}
}

// NewListClients builds a participant enumeration request.
func NewListClients() *ListClients {
	return &ListClients{Envelope: Envelope{Type: TypeListClients}}
}
