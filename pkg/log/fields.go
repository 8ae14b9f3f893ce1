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
	FieldUserID = "user_id"
	FieldRoles  = "roles"

	// Service
	FieldService    = "service"
	FieldComponent  = "component"
	FieldInstanceID = "instance_id"

	// Realtime
	FieldConnID   = "conn_id"
	FieldRoom     = "room"
	FieldEvent    = "event"
	FieldPresence = "presence"
)
