package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13099: Job input errors
// 13100-13199: Build & execution errors
// 13200-13299: Sandbox infrastructure errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Job Input Errors (13000-13099) ==========

	NoCodeProvided    ErrorCode = 13000
	CodeTooLarge      ErrorCode = 13001
	TooManyFiles      ErrorCode = 13002
	InvalidFileName   ErrorCode = 13003
	DuplicateFileName ErrorCode = 13004

	// ========== Build & Execution Errors (13100-13199) ==========

	CompilationError    ErrorCode = 13100
	RuntimeError        ErrorCode = 13101
	RuntimeLaunchFailed ErrorCode = 13102
	ExecutionTimeout    ErrorCode = 13103

	// ========== Sandbox Infrastructure Errors (13200-13299) ==========

	SandboxUnavailable ErrorCode = 13200
	WorkspaceError     ErrorCode = 13201
	CapacityExceeded   ErrorCode = 13202
)

// errorMessages maps error codes to their default messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	CacheError: "Cache operation failed",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	// Job input
	NoCodeProvided:    "No code provided",
	CodeTooLarge:      "Source code is too large",
	TooManyFiles:      "Too many source files",
	InvalidFileName:   "Invalid source file name",
	DuplicateFileName: "Duplicate source file name",

	// Build & execution
	CompilationError:    "Compilation failed",
	RuntimeError:        "Program exited with an error",
	RuntimeLaunchFailed: "Runtime failed to start",
	ExecutionTimeout:    "Execution timed out",

	// Sandbox
	SandboxUnavailable: "Sandbox error",
	WorkspaceError:     "Sandbox workspace error",
	CapacityExceeded:   "Sandbox is at capacity, please try again later",
}

// Kind groups codes into the job error taxonomy.
type Kind string

const (
	KindNone           Kind = ""
	KindInput          Kind = "input"
	KindBuild          Kind = "build"
	KindRuntime        Kind = "runtime"
	KindTimeout        Kind = "timeout"
	KindInfrastructure Kind = "infrastructure"
)

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Kind returns the taxonomy bucket of the code.
func (c ErrorCode) Kind() Kind {
	switch {
	case c == Success:
		return KindNone
	case c >= 13000 && c < 13100, c == InvalidParams, c >= 10300 && c < 10400:
		return KindInput
	case c == CompilationError:
		return KindBuild
	case c == RuntimeError, c == RuntimeLaunchFailed:
		return KindRuntime
	case c == ExecutionTimeout:
		return KindTimeout
	default:
		return KindInfrastructure
	}
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound:
		return 404
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == CapacityExceeded:
		return 503
	case c >= 13000 && c < 13100: // Job input errors
		return 400
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	case c >= 13100 && c < 13200: // User program outcomes
		return 200
	default:
		return 500
	}
}
