package ws

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/termmux/internal/shared/utils"
	"github.com/GriffinCanCode/AgentOS/termmux/internal/terminal"
)

var (
	// ErrMalformedMessage is returned for frames that are not a JSON request.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrInvalidRequest is returned for well-formed requests with unusable fields.
	ErrInvalidRequest = errors.New("invalid request")
)

// requestMessage is the JSON form of every inbound request. Data is base64.
type requestMessage struct {
	Type      string            `json:"type"`
	ID        string            `json:"id,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
	Data      []byte            `json:"data,omitempty"`
	Command   string            `json:"command,omitempty"`
	Cols      uint16            `json:"cols,omitempty"`
	Rows      uint16            `json:"rows,omitempty"`
	Shell     string            `json:"shell,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

type dataMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

type exitMessage struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	ExitCode int    `json:"exitCode"`
}

type createdMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type killedMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type listMessage struct {
	Type    string           `json:"type"`
	Entries []terminal.Entry `json:"entries"`
}

type errorMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Request string `json:"request,omitempty"`
	Error   string `json:"error"`
}

// DecodeRequest parses one inbound frame.
func DecodeRequest(frame []byte) (terminal.Request, error) {
	var msg requestMessage
	if err := sonic.Unmarshal(frame, &msg); err != nil {
		return terminal.Request{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return terminal.Request{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	req := terminal.Request{
		Type:       terminal.RequestType(msg.Type),
		ID:         msg.ID,
		RequestID:  msg.RequestID,
		Data:       msg.Data,
		Command:    msg.Command,
		Cols:       msg.Cols,
		Rows:       msg.Rows,
		Shell:      msg.Shell,
		WorkingDir: msg.Cwd,
		Env:        msg.Env,
	}
	if err := validateRequest(msg); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return req, nil
}

func validateRequest(msg requestMessage) error {
	if err := utils.ValidateID(msg.ID, "id", false); err != nil {
		return err
	}
	if err := utils.ValidateCommand(msg.Command); err != nil {
		return err
	}
	if err := utils.ValidatePath(msg.Shell, "shell"); err != nil {
		return err
	}
	if err := utils.ValidatePath(msg.Cwd, "cwd"); err != nil {
		return err
	}
	return utils.ValidateEnv(msg.Env)
}

// EncodeNotification renders a notification with only the fields its type carries.
func EncodeNotification(n terminal.Notification) ([]byte, error) {
	typ := string(n.Type)

	var msg any
	switch n.Type {
	case terminal.NotifyData:
		msg = dataMessage{Type: typ, ID: n.ID, Data: n.Data}
	case terminal.NotifyExit:
		msg = exitMessage{Type: typ, ID: n.ID, ExitCode: n.ExitCode}
	case terminal.NotifyCreated:
		msg = createdMessage{Type: typ, ID: n.ID}
	case terminal.NotifyKilled:
		msg = killedMessage{Type: typ, ID: n.ID, Success: n.Success, Error: n.Error}
	case terminal.NotifyListResponse:
		entries := n.Entries
		if entries == nil {
			entries = []terminal.Entry{}
		}
		msg = listMessage{Type: typ, Entries: entries}
	case terminal.NotifyError:
		msg = errorMessage{Type: typ, ID: n.ID, Request: string(n.Request), Error: n.Error}
	default:
		return nil, fmt.Errorf("unknown notification type %q", n.Type)
	}
	return sonic.Marshal(msg)
}

// encodeError builds a terminal-error frame for failures detected before a
// request reaches the multiplexer.
func encodeError(req terminal.Request, err error) []byte {
	data, encErr := sonic.Marshal(errorMessage{
		Type:    string(terminal.NotifyError),
		ID:      req.ID,
		Request: string(req.Type),
		Error:   err.Error(),
	})
	if encErr != nil {
		return []byte(`{"type":"terminal-error","error":"internal encoding error"}`)
	}
	return data
}
