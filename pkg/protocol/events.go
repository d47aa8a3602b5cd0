package protocol

// Client → server message types.
const (
	TypeChatRequest      = "chat:request"
	TypeApprovalResponse = "approval:response"
	TypeSystemCommand    = "system:command"
	TypePing             = "ping"
)

// Server → client message types.
const (
	TypeChatStreamChunk = "chat:stream:chunk"
	TypeChatStreamDone  = "chat:stream:done"
	TypeChatError       = "chat:error"
	TypeChatToolCall    = "chat:tool:call"
	TypeChatToolResult  = "chat:tool:result"

	TypeApprovalRequest  = "approval:request"
	TypeApprovalResolved = "approval:resolved"

	TypeLog              = "log"
	TypeSystemStatus     = "system:status"
	TypeSystemAlert      = "system:alert"
	TypeHeartbeat        = "heartbeat"
	TypeProactiveThought = "proactive:thought"
	TypePong             = "pong"

	TypeWorkerTaskCompleted = "worker_task_completed"
	TypeWorkerTaskFailed    = "worker_task_failed"
)

// ChatRequestPayload is the client's chat submission.
type ChatRequestPayload struct {
	RequestID string `json:"requestId,omitempty"`
	Content   string `json:"content"`
}

// ChunkPayload carries one streamed text fragment.
type ChunkPayload struct {
	RequestID string `json:"requestId"`
	Text      string `json:"text"`
}

// DonePayload terminates a chat stream.
type DonePayload struct {
	RequestID string `json:"requestId"`
	Tier      string `json:"tier"`
	Model     string `json:"model"`
	TokensIn  int    `json:"tokensIn,omitempty"`
	TokensOut int    `json:"tokensOut,omitempty"`
}

// ErrorPayload reports a failed chat request.
type ErrorPayload struct {
	RequestID string `json:"requestId,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message"`
}

// ToolCallPayload announces a tool invocation start.
type ToolCallPayload struct {
	RequestID string `json:"requestId"`
	Name      string `json:"name"`
	CallID    string `json:"callId"`
}

// ToolResultPayload announces a tool invocation end.
type ToolResultPayload struct {
	RequestID  string `json:"requestId"`
	Name       string `json:"name"`
	CallID     string `json:"callId"`
	IsError    bool   `json:"isError"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// ApprovalRequestPayload asks connected clients to decide a gated tool call.
type ApprovalRequestPayload struct {
	ApprovalID  string                 `json:"approvalId"`
	ToolName    string                 `json:"toolName"`
	Description string                 `json:"description"`
	Reason      string                 `json:"reason"` // "destructive" or "intrusive"
	Args        map[string]interface{} `json:"args,omitempty"`
	ExpiresAtMs int64                  `json:"expiresAtMs"`
}

// ApprovalResponsePayload is the client's decision.
type ApprovalResponsePayload struct {
	ApprovalID string `json:"approvalId"`
	Decision   string `json:"decision"` // "allow-once", "allow-always", "deny"
}

// ApprovalResolvedPayload broadcasts the outcome so other clients can
// dismiss their prompts.
type ApprovalResolvedPayload struct {
	ApprovalID string `json:"approvalId"`
	Decision   string `json:"decision"`
	ResolvedBy string `json:"resolvedBy,omitempty"`
}

// LogPayload is an advisory log line pushed to clients.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// SystemCommandPayload is a client-issued management command
// (e.g. "config.get", "status", "cron.list", "cron.remove").
type SystemCommandPayload struct {
	Command string                 `json:"command"`
	Args    map[string]interface{} `json:"args,omitempty"`
}

// WorkerTaskPayload reports background heavy-task completion or failure.
type WorkerTaskPayload struct {
	TaskID   string `json:"taskId"`
	TaskType string `json:"taskType"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}
