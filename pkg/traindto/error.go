package traindto

type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "trainer error"
}

// Stable error codes surfaced to callers.
const (
	CodeIllegalMove     = "ILLEGAL_MOVE"
	CodeInvalidPosition = "INVALID_POSITION"
	CodePathNotFound    = "PATH_NOT_FOUND"
	CodeEngineFault     = "ENGINE_FAULT"
	CodeEngineTimeout   = "ENGINE_TIMEOUT"
	CodeNoPuzzle        = "NO_PUZZLE"
)
