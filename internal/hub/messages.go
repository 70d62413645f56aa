package hub

import (
	"errors"

	"github.com/weiawesome/games-society/internal/domain"
)

// WebSocket message types from client.
const (
	MsgTypeAuth              = "auth"
	MsgTypeFocusConversation = "focus_conversation"
	MsgTypeSendMessage       = "send_message"
	MsgTypeFocusProfile      = "focus_profile"
	MsgTypeSetFollowing      = "set_following"
	MsgTypeWatchPost         = "watch_post"
	MsgTypeUnwatchPost       = "unwatch_post"
	MsgTypeToggle            = "toggle"
	MsgTypePing              = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeAuthResult        = "auth_result"
	MsgTypeConversationList  = "conversation_list"
	MsgTypeConversationState = "conversation_state"
	MsgTypeProfileState      = "profile_state"
	MsgTypePostState         = "post_state"
	MsgTypeAck               = "ack"
	MsgTypeError             = "error"
	MsgTypePong              = "pong"
)

// Error codes
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodePartialUpdate = "PARTIAL_UPDATE"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// ErrorCode maps a core error to the code sent to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return ErrCodeUnauthorized
	case errors.Is(err, ErrNoConversation),
		errors.Is(err, ErrNoProfile),
		errors.Is(err, ErrPostNotWatched),
		errors.Is(err, domain.ErrInvalidParticipants),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrInvalidField):
		return ErrCodeBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, domain.ErrPartialGraphUpdate):
		return ErrCodePartialUpdate
	case errors.Is(err, domain.ErrTransientTransport):
		return ErrCodeUnavailable
	default:
		return ErrCodeInternalError
	}
}

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
	// Ref is echoed back in the ack for writes.
	Ref string `json:"ref,omitempty"`
}

// Client -> Server messages

type AuthMessage struct {
	Token string `json:"token"`
}

type FocusConversationMessage struct {
	ConversationID string `json:"conversation_id,omitempty"`
	// OtherID resolves the conversation with that user when no id is given.
	OtherID string `json:"other_id,omitempty"`
}

type SendMessageMessage struct {
	Text string `json:"text"`
}

type FocusProfileMessage struct {
	UserID string `json:"user_id"`
}

type SetFollowingMessage struct {
	Following bool `json:"following"`
}

type WatchPostMessage struct {
	PostID string `json:"post_id"`
}

type ToggleMessage struct {
	PostID  string `json:"post_id"`
	Field   string `json:"field"`
	Desired bool   `json:"desired"`
}

// Server -> Client messages

type AuthResultMessage struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
}

type ConversationListMessage struct {
	Type          string                `json:"type"`
	Conversations []domain.Conversation `json:"conversations"`
}

type ConversationStateMessage struct {
	Type           string           `json:"type"`
	ConversationID string           `json:"conversation_id"`
	Messages       []domain.Message `json:"messages"`
	Error          string           `json:"error,omitempty"`
}

type ProfileStateMessage struct {
	Type      string       `json:"type"`
	UserID    string       `json:"user_id"`
	Profile   *domain.User `json:"profile,omitempty"`
	Following bool         `json:"following"`
	Error     string       `json:"error,omitempty"`
}

type PostStateMessage struct {
	Type  string       `json:"type"`
	Post  *domain.Post `json:"post,omitempty"`
	Liked bool         `json:"liked"`
	Saved bool         `json:"saved"`
	Error string       `json:"error,omitempty"`
}

type AckMessage struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`
	OK   bool   `json:"ok"`
	Code string `json:"code,omitempty"`
	// Message carries the error text on failure.
	Message string `json:"message,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}

func newAck(ref string, err error) *AckMessage {
	if err == nil {
		return &AckMessage{Type: MsgTypeAck, Ref: ref, OK: true}
	}
	return &AckMessage{Type: MsgTypeAck, Ref: ref, Code: ErrorCode(err), Message: err.Error()}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
