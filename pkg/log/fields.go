package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/middleware/auth.go keys)
	FieldUserID   = "user_id"
	FieldUsername = "username"

	FieldService   = "service"
	FieldComponent = "component"

	// Sync
	FieldShape          = "shape"
	FieldSubscription   = "subscription"
	FieldConversationID = "conversation_id"
	FieldTargetID       = "target_id"
	FieldPostID         = "post_id"
	FieldField          = "field"
	FieldAttempt        = "attempt"
	FieldSession        = "session"
)
