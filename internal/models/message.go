package models

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a chat message.
type Role int

// The zero Role is invalid so a message without a role is caught.
const (
	RoleUser Role = iota + 1
	RoleAssistant
	RoleSystem
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r >= RoleUser && r <= RoleSystem
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	case RoleSystem:
		return "system"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole maps the wire name of a role to its value.
func ParseRole(s string) (Role, error) {
	switch s {
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	case "system":
		return RoleSystem, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", r)
	}
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("role must be a string: %w", err)
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Message is one entry of a chat conversation. Messages are never persisted;
// a conversation lives as long as the client holding it.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body posted to the chat gateway.
type ChatRequest struct {
	Messages []Message `json:"messages"`
}
