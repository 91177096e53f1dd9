package kissio

// Structured log keys.
const (
	logKeyClientID   = "client_id"
	logKeySocketID   = "socket_id"
	logKeyNamespace  = "namespace"
	logKeyEvent      = "event"
	logKeyPacketType = "packet_type"
	logKeyReason     = "reason"
	logKeyError      = "error"
)
