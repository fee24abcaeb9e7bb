package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/middleware keys)
	FieldUserID = "user_id"

	// Service
	FieldService = "service"

	// Chat
	FieldObjectID  = "object_id"
	FieldChatID    = "chat_id"
	FieldMessageID = "message_id"
	FieldConnID    = "conn_id"
	FieldRoomID    = "room_id"
	FieldEvent     = "event"

	// gRPC
	FieldGRPCMethod = "grpc_method"
	FieldGRPCCode   = "grpc_code"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
