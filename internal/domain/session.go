package domain

// SessionStatus is the lifecycle status of a durable session.
type SessionStatus string

const (
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionError      SessionStatus = "error"
)

// Session is the durable record spanning one or more agent turns.
type Session struct {
	ID          string
	UserID      string
	SourceText  string
	Claim       *Claim
	Highlights  []Highlight
	AgentHandle string
	Status      SessionStatus
	Turns       int
	CreatedAt   int64
	UpdatedAt   int64
}

// SessionSummary is the listing view of a completed session.
type SessionSummary struct {
	ID            string `json:"id"`
	CreatedAt     int64  `json:"createdAt"`
	SourcePreview string `json:"clinicalNotesPreview"`
	RiskScore     *int   `json:"riskScore"`
	MessageCount  int    `json:"messageCount"`
}

// MessageRole identifies the author of a transcript message.
type MessageRole string

const (
	RoleUser  MessageRole = "user"
	RoleAgent MessageRole = "agent"
)

// Message is one entry of a session transcript.
type Message struct {
	ID               string       `json:"id"`
	SessionID        string       `json:"sessionId"`
	SeqNo            int64        `json:"seqNo"`
	Role             MessageRole  `json:"role"`
	Content          string       `json:"content"`
	SuggestedPrompts []string     `json:"suggestedPrompts,omitempty"`
	ClaimChange      *ClaimChange `json:"claimChange,omitempty"`
	CreatedAt        int64        `json:"createdAt"`
}

// ClaimChange summarises how one turn moved the claim's headline numbers.
type ClaimChange struct {
	Description   string `json:"description"`
	RiskBefore    int    `json:"riskBefore"`
	RiskAfter     int    `json:"riskAfter"`
	RevenueBefore int    `json:"revenueBefore"`
	RevenueAfter  int    `json:"revenueAfter"`
}

// ClaimSnapshot is the persisted claim at the end of a turn.
type ClaimSnapshot struct {
	ID        int64
	SessionID string
	Turn      int
	ClaimJSON string
	Checksum  string
	CreatedAt int64
}

// AuditRecord logs one tool invocation made on a session's behalf.
type AuditRecord struct {
	ID          string
	SessionID   string
	Category    string
	Actor       string
	Action      string
	RequestJSON string
	ResultText  string
	IsError     bool
	CreatedAt   int64
}

// CostDelta records agent usage for one turn.
type CostDelta struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	AmountUSD    float64 `json:"amount_usd"`
	Provider     string  `json:"provider"`
	TurnKind     string  `json:"turn_kind"`
	CreatedAt    int64   `json:"created_at"`
}

// CostAction is the decision from the budget governor.
type CostAction string

const (
	CostContinue CostAction = "continue"
	CostWarn     CostAction = "warn"
	CostHalt     CostAction = "halt"
)
