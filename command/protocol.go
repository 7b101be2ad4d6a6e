// Package command implements the TCP control protocol: one JSON command per
// newline-terminated line in, one JSON response per line out, plus
// unsolicited broadcast messages pushed to every connected client. The
// protocol layer never calls into the state machine directly; inbound
// commands are announced on the event bus and acted on by the application.
package command

// ErrorKind values returned in protocol error envelopes.
const (
	ErrInvalidJSON       = "invalid_json"
	ErrMissingCommand    = "missing_command"
	ErrUnknownCommand    = "unknown_command"
	ErrHandlerError      = "handler_error"
	ErrMissingState      = "missing_state"
	ErrMissingParameters = "missing_parameters"
	ErrProcessingError   = "processing_error"
)

// Request is a decoded wire command. Every request carries a "command"
// field; the remaining fields are command specific.
type Request map[string]any

// Command returns the command name, empty when absent or not a string.
func (r Request) Command() string {
	name, _ := r["command"].(string)
	return name
}

// String returns a string field of the request.
func (r Request) String(key string) (string, bool) {
	v, ok := r[key].(string)
	return v, ok
}

// Map returns an object field of the request.
func (r Request) Map(key string) (map[string]any, bool) {
	v, ok := r[key].(map[string]any)
	return v, ok
}

// Response is a JSON object written back to the client on one line.
type Response map[string]any

// errorResponse builds the protocol error envelope.
func errorResponse(kind, message string) Response {
	return Response{"error": kind, "message": message}
}

// HandlerFunc processes one decoded command and produces the response. A
// returned error or a panic is surfaced to the client as a handler_error
// envelope; the connection stays open either way.
type HandlerFunc func(req Request) (Response, error)
