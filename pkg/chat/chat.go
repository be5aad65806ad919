package chat

import (
	"fmt"
	"strings"
)

// ActionRequest represents a player action submitted to the storyforge api.
type ActionRequest struct {
	Message string `json:"message"`
}

// ActionResponse is returned once an action has been accepted, and again
// when a waiting caller receives the settled turn.
type ActionResponse struct {
	Turn     int    `json:"turn"`
	Status   string `json:"status"`
	Narrator string `json:"narrator,omitempty"`
	Error    string `json:"error,omitempty"`
}

const (
	ChatRoleUser   = "user"      // Player
	ChatRoleAgent  = "assistant" // Narrator
	ChatRoleSystem = "system"    // Stack blocks
)

// ChatMessage represents a single role-tagged message in the stack sent to
// the model.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ConversationTurn is one exchange of the session history. Narrator starts
// empty while the turn is in flight and is filled in when the reply lands.
type ConversationTurn struct {
	User     string `json:"user"`
	Narrator string `json:"narrator"`
	Error    string `json:"error,omitempty"` // set when the exchange failed
}

// Pending reports whether the turn is still waiting on the narrator.
func (t ConversationTurn) Pending() bool {
	return t.Narrator == "" && t.Error == ""
}

func (ar *ActionRequest) Validate() error {
	if strings.TrimSpace(ar.Message) == "" {
		return fmt.Errorf("message cannot be empty")
	}
	return nil
}
