package command

import (
	"time"

	"github.com/he-be/raspi-eye/eventbus"
)

// registerBuiltins installs the default command set. All state-affecting
// commands only announce themselves on the event bus; validation and the
// actual transition happen in the application's subscriber. The success
// reply therefore acknowledges receipt, not completion — failures surface
// asynchronously as error_occurred events and broadcasts.
func (s *Server) registerBuiltins() {
	s.handlers["ping"] = s.handlePing
	s.handlers["get_status"] = s.handleGetStatus
	s.handlers["change_state"] = s.handleChangeState
	s.handlers["set_parameter"] = s.handleSetParameter
	s.handlers["shutdown"] = s.handleShutdown
}

func (s *Server) handlePing(_ Request) (Response, error) {
	return Response{
		"success":   true,
		"message":   "pong",
		"timestamp": time.Now().UnixMilli(),
	}, nil
}

func (s *Server) handleGetStatus(_ Request) (Response, error) {
	s.bus.Emit(eventbus.CommandReceived, map[string]any{
		"command": "get_status",
	})

	return Response{
		"success": true,
		"status": map[string]any{
			"server_running":    s.IsRunning(),
			"clients_connected": s.ClientCount(),
			"server_address":    s.ListenAddress(),
		},
	}, nil
}

func (s *Server) handleChangeState(req Request) (Response, error) {
	stateName, ok := req.String("state")
	if !ok || stateName == "" {
		return errorResponse(ErrMissingState, "no state specified"), nil
	}

	parameters, _ := req.Map("parameters")
	if parameters == nil {
		parameters = map[string]any{}
	}

	s.bus.Emit(eventbus.CommandReceived, map[string]any{
		"command":    "change_state",
		"state":      stateName,
		"parameters": parameters,
	})

	return Response{
		"success":    true,
		"message":    "state change requested: " + stateName,
		"state":      stateName,
		"parameters": parameters,
	}, nil
}

func (s *Server) handleSetParameter(req Request) (Response, error) {
	parameters, ok := req.Map("parameters")
	if !ok {
		return errorResponse(ErrMissingParameters, "no parameters specified"), nil
	}

	s.bus.Emit(eventbus.CommandReceived, map[string]any{
		"command":    "set_parameter",
		"parameters": parameters,
	})

	return Response{
		"success":    true,
		"message":    "parameters applied",
		"parameters": parameters,
	}, nil
}

func (s *Server) handleShutdown(_ Request) (Response, error) {
	s.bus.Emit(eventbus.CommandReceived, map[string]any{
		"command": "shutdown",
	})

	return Response{
		"success": true,
		"message": "shutdown requested",
	}, nil
}
