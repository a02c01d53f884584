package domain

import "fmt"

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Is matches any EngineError carrying the same code, so errors built with
// NewEngineError or WrapEngineError still satisfy errors.Is against the
// sentinels below.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Session errors (-32010 to -32029) ----

var (
	ErrSessionNotFound  = &EngineError{Code: -32010, Message: "session not found"}
	ErrSessionForbidden = &EngineError{Code: -32011, Message: "session belongs to another caller"}
	ErrSessionCreate    = &EngineError{Code: -32012, Message: "failed to create session"}
	ErrSessionBusy      = &EngineError{Code: -32013, Message: "session has a turn in progress"}
	ErrEmptyInput       = &EngineError{Code: -32014, Message: "input text is empty"}
)

// ---- Claim mutation errors (-32040 to -32069) ----

var (
	ErrNoClaim          = &EngineError{Code: -32040, Message: "no claim exists yet"}
	ErrUnknownAction    = &EngineError{Code: -32041, Message: "unknown claim action"}
	ErrMissingArgument  = &EngineError{Code: -32042, Message: "missing required argument"}
	ErrDuplicateLine    = &EngineError{Code: -32043, Message: "line number already in use"}
	ErrLineNotFound     = &EngineError{Code: -32044, Message: "line item not found"}
	ErrDuplicateFinding = &EngineError{Code: -32045, Message: "finding id already in use"}
	ErrFindingNotFound  = &EngineError{Code: -32046, Message: "finding not found"}
	ErrAlreadyResolved  = &EngineError{Code: -32047, Message: "finding is already resolved"}
	ErrInvalidRiskScore = &EngineError{Code: -32048, Message: "risk score must be between 0 and 100"}
	ErrInvalidClaim     = &EngineError{Code: -32049, Message: "claim failed validation"}
)

// ---- Tool / Agent errors (-32070 to -32099) ----

var (
	ErrUnknownTool         = &EngineError{Code: -32070, Message: "unknown tool"}
	ErrInvalidToolArgs     = &EngineError{Code: -32071, Message: "invalid tool arguments"}
	ErrAgentStart          = &EngineError{Code: -32072, Message: "failed to start agent turn"}
	ErrAgentTransport      = &EngineError{Code: -32073, Message: "agent transport failed"}
	ErrAgentStopped        = &EngineError{Code: -32074, Message: "agent turn already finished"}
	ErrProviderUnavailable = &EngineError{Code: -32075, Message: "agent provider unavailable"}
)

// ---- Guard / Permission errors (-32100 to -32129) ----

var (
	ErrUnauthorized      = &EngineError{Code: -32100, Message: "caller is not authenticated"}
	ErrBudgetExceeded    = &EngineError{Code: -32101, Message: "budget limit exceeded"}
	ErrRateLimitExceeded = &EngineError{Code: -32103, Message: "rate limit exceeded"}
)

// ---- Store / Reference data / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit       = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery      = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite      = &EngineError{Code: -32132, Message: "store write failed"}
	ErrSchemaMigration = &EngineError{Code: -32133, Message: "schema migration failed"}
	ErrSnapshotCorrupt = &EngineError{Code: -32134, Message: "snapshot checksum mismatch"}
	ErrConfigInvalid   = &EngineError{Code: -32136, Message: "invalid configuration"}
	ErrCodeNotFound    = &EngineError{Code: -32138, Message: "reference code not found"}
	ErrImportFormat    = &EngineError{Code: -32139, Message: "reference file has no usable records"}
)
