package meta

// ReturnMessage is the reply published for an administrative instruction.
type ReturnMessage struct {
	Finished    bool   `json:"finished"`
	Succeed     bool   `json:"succeed"`
	Progress    int    `json:"progress"`
	ErrorCode   int    `json:"error_code"`
	ErrorMsg    string `json:"error_msg"`
	ProgressMsg string `json:"progress_msg"`
}

// LimitAction is the administrative action carried by a limit instruction.
type LimitAction string

const (
	ActionSetTarget     LimitAction = "SetTarget"
	ActionWaitForManual LimitAction = "WaitForManual"
)

// LimitRequest is the body of an administrative limit command.
type LimitRequest struct {
	Folder         string      `json:"folder"`
	Action         LimitAction `json:"action"`
	Target         int         `json:"target,omitempty"`
	RouteKey       string      `json:"routeKey,omitempty"`
	Wait           bool        `json:"wait,omitempty"`
	TimeoutSeconds int         `json:"timeoutSeconds,omitempty"`
}
