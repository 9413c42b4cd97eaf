// Package protocol defines the JSON messages exchanged between presence
// clients and the relay. Every frame is an envelope of the form
// {"type": <Type>, "data": <payload>}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type represents the kind of message carried by an envelope.
type Type string

const (
	// Client to server.
	TypeRegister  Type = "Register"
	TypeFileFocus Type = "FileFocus"

	// Server to client.
	TypeUsersUpdate        Type = "UsersUpdate"
	TypeFileActivityUpdate Type = "FileActivityUpdate"

	// typeUserUpdate is the roster spelling sent by older relays.
	typeUserUpdate Type = "UserUpdate"
)

var (
	// ErrUnknownType is returned by Decode for envelopes with an unrecognised type.
	ErrUnknownType = errors.New("protocol: unknown message type")

	// ErrInvalidPayload is returned by Decode when the payload is missing
	// required fields.
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)

// User is a participant announced to the relay.
type User struct {
	UserID      string  `json:"user_id"`
	Name        string  `json:"name"`
	Avatar      string  `json:"avatar"`
	CurrentFile *string `json:"current_file"`
}

// FileActivity reports that a user is focused on a file in a repository.
type FileActivity struct {
	UserID   string `json:"user_id"`
	FilePath string `json:"file_path"`
	RepoID   string `json:"repo_id"`
}

// FileFocus is sent by a client when its active file changes.
type FileFocus struct {
	FilePath string `json:"file_path"`
	RepoID   string `json:"repo_id"`
}

// Envelope is the JSON structure sent over the WebSocket.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Message is a decoded envelope. Exactly one payload field is set,
// matching Type.
type Message struct {
	Type     Type
	User     *User
	Focus    *FileFocus
	Roster   map[string]User
	Activity *FileActivity
}

// Encode wraps payload in an envelope of the given type.
func Encode(typ Type, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s payload: %w", typ, err)
	}
	env, err := json.Marshal(Envelope{Type: typ, Data: data})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s envelope: %w", typ, err)
	}
	return env, nil
}

// Decode parses a single text frame.
func Decode(frame []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Message{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return Message{}, fmt.Errorf("%w: %s without data", ErrInvalidPayload, env.Type)
	}

	msg := Message{Type: env.Type}
	switch env.Type {
	case TypeRegister:
		var u User
		if err := json.Unmarshal(env.Data, &u); err != nil {
			return Message{}, fmt.Errorf("protocol: decode %s: %w", env.Type, err)
		}
		if u.UserID == "" {
			return Message{}, fmt.Errorf("%w: user_id is required", ErrInvalidPayload)
		}
		msg.User = &u
	case TypeFileFocus:
		var f FileFocus
		if err := json.Unmarshal(env.Data, &f); err != nil {
			return Message{}, fmt.Errorf("protocol: decode %s: %w", env.Type, err)
		}
		if f.FilePath == "" {
			return Message{}, fmt.Errorf("%w: file_path is required", ErrInvalidPayload)
		}
		msg.Focus = &f
	case TypeUsersUpdate, typeUserUpdate:
		var roster map[string]User
		if err := json.Unmarshal(env.Data, &roster); err != nil {
			return Message{}, fmt.Errorf("protocol: decode %s: %w", env.Type, err)
		}
		if roster == nil {
			roster = map[string]User{}
		}
		msg.Type = TypeUsersUpdate
		msg.Roster = roster
	case TypeFileActivityUpdate:
		var a FileActivity
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return Message{}, fmt.Errorf("protocol: decode %s: %w", env.Type, err)
		}
		if a.UserID == "" || a.FilePath == "" {
			return Message{}, fmt.Errorf("%w: user_id and file_path are required", ErrInvalidPayload)
		}
		msg.Activity = &a
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return msg, nil
}
