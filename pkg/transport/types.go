package transport

import "encoding/json"

// Job is one pending invocation fetched from the remote queue. Input is
// kept raw so a malformed payload rejects one job instead of the batch.
type Job struct {
	ID    string          `json:"id"`
	Tool  string          `json:"function"`
	Input json.RawMessage `json:"input"`
}

// ResultKind classifies a result value in the wire data model.
type ResultKind string

const (
	KindNull    ResultKind = "null"
	KindBoolean ResultKind = "boolean"
	KindNumber  ResultKind = "number"
	KindString  ResultKind = "string"
	KindObject  ResultKind = "object"
	KindArray   ResultKind = "array"
)

// Outcome classifies how a job finished.
type Outcome string

const (
	OutcomeResolved Outcome = "resolution"
	OutcomeRejected Outcome = "rejection"
)

// Result is the wire-safe envelope reported for a finished job.
type Result struct {
	Value         interface{} `json:"result"`
	Kind          ResultKind  `json:"resultKind"`
	Outcome       Outcome     `json:"resultType"`
	ElapsedMillis int64       `json:"-"`
}

type resultMeta struct {
	FunctionExecutionTime int64 `json:"functionExecutionTime,omitempty"`
}

type resultPayload struct {
	Result     interface{} `json:"result"`
	ResultType Outcome     `json:"resultType"`
	Meta       resultMeta  `json:"meta"`
}

// ToolRegistration is one entry of the machine registration payload.
type ToolRegistration struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      string `json:"schema"`
}

// PollRequest describes one long-poll request for pending jobs.
type PollRequest struct {
	Tools       []string
	Limit       int
	WaitSeconds int
	Acknowledge bool
}

// PollResponse carries the fetched batch plus the server's suggested
// interval until the next poll (nil when the server made no suggestion).
type PollResponse struct {
	Jobs              []Job
	RetryAfterSeconds *int
}

// JobStatus is the caller-side view of a created job.
type JobStatus struct {
	ID         string      `json:"id"`
	Status     string      `json:"status"`
	Result     interface{} `json:"result"`
	ResultType string      `json:"resultType"`
	Error      string      `json:"error,omitempty"`
}

// ClusterTool describes a tool visible on the cluster.
type ClusterTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      string `json:"schema"`
}
