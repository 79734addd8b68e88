package terminal

// RequestType names an inbound front-end request.
type RequestType string

const (
	RequestCreate  RequestType = "terminal-create"
	RequestWrite   RequestType = "terminal-write"
	RequestExecute RequestType = "terminal-execute"
	RequestClear   RequestType = "terminal-clear"
	RequestResize  RequestType = "terminal-resize"
	RequestKill    RequestType = "terminal-kill"
	RequestList    RequestType = "terminal-list"
)

// Known reports whether t is one of the request types above.
func (t RequestType) Known() bool {
	switch t {
	case RequestCreate, RequestWrite, RequestExecute, RequestClear, RequestResize, RequestKill, RequestList:
		return true
	}
	return false
}

// NotificationType names an outbound notification.
type NotificationType string

const (
	NotifyData         NotificationType = "terminal-data"
	NotifyExit         NotificationType = "terminal-exit"
	NotifyCreated      NotificationType = "terminal-created"
	NotifyKilled       NotificationType = "terminal-killed"
	NotifyListResponse NotificationType = "terminal-list-response"
	NotifyError        NotificationType = "terminal-error"
)

const (
	// ClearSequence is written to the shell for clear requests. Ctrl-L makes
	// interactive shells clear the screen and redraw the prompt.
	ClearSequence = "\x0c"

	// LineTerminator ends commands sent by execute requests (the Enter key).
	LineTerminator = "\r"
)

// Request is a front-end request. ID is required for every type except create
// (where it is optional) and list.
type Request struct {
	Type RequestType
	ID   string

	// RequestID correlates log lines for one request. Optional.
	RequestID string

	Data    []byte
	Command string
	Cols    uint16
	Rows    uint16

	// Create options; empty values fall back to the multiplexer defaults.
	Shell      string
	WorkingDir string
	Env        map[string]string
}

// Notification is an outbound message. Fields are populated per Type:
//
//	terminal-data           ID, Data
//	terminal-exit           ID, ExitCode
//	terminal-created        ID
//	terminal-killed         ID, Success, Error
//	terminal-list-response  Entries
//	terminal-error          ID, Request, Error
type Notification struct {
	Type     NotificationType
	ID       string
	Data     []byte
	ExitCode int
	Success  bool
	Entries  []Entry
	Request  RequestType
	Error    string
}
