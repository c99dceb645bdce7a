package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Sentinel errors for the permission layer.
var (
	ErrUndefinedPermission = fmt.Errorf("undefined permission")
	ErrProviderFault       = fmt.Errorf("permission provider fault")
	ErrDoubleSettlement    = fmt.Errorf("provider settled more than once")
	ErrProbeUnavailable    = fmt.Errorf("capability probe unavailable")
	ErrConfigLoad          = fmt.Errorf("failed to load configuration")
	ErrCookieParse         = fmt.Errorf("cookie file malformed")
	ErrGrantStore          = fmt.Errorf("grant store operation failed")

	// Gateway / RPC errors.
	ErrAuthInvalid       = fmt.Errorf("authentication failed")
	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Coordinator.Recheck")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeDuplicate           ErrorCode = "DUPLICATE"
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeUndefinedPermission ErrorCode = "UNDEFINED_PERMISSION"
	CodeProviderFault       ErrorCode = "PROVIDER_FAULT"
	CodeDoubleSettlement    ErrorCode = "DOUBLE_SETTLEMENT"
	CodeProbeUnavailable    ErrorCode = "PROBE_UNAVAILABLE"
	CodeConfigLoad          ErrorCode = "CONFIG_LOAD"
	CodeCookieParse         ErrorCode = "COOKIE_PARSE"
	CodeGrantStore          ErrorCode = "GRANT_STORE"
	CodeAuthInvalid         ErrorCode = "AUTH_INVALID"
	CodeGatewayAuth         ErrorCode = "GATEWAY_AUTH"
	CodeRPCMethodNotFound   ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload   ErrorCode = "RPC_INVALID_PAYLOAD"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:            CodeNotFound,
	ErrDuplicate:           CodeDuplicate,
	ErrTimeout:             CodeTimeout,
	ErrInvalidInput:        CodeInvalidInput,
	ErrUndefinedPermission: CodeUndefinedPermission,
	ErrProviderFault:       CodeProviderFault,
	ErrDoubleSettlement:    CodeDoubleSettlement,
	ErrProbeUnavailable:    CodeProbeUnavailable,
	ErrConfigLoad:          CodeConfigLoad,
	ErrCookieParse:         CodeCookieParse,
	ErrGrantStore:          CodeGrantStore,
	ErrGatewayAuthFailed:   CodeGatewayAuth,
	ErrAuthInvalid:         CodeAuthInvalid,
	ErrRPCMethodNotFound:   CodeRPCMethodNotFound,
	ErrRPCInvalidPayload:   CodeRPCInvalidPayload,
}

// codePriority lists sentinels that wrap other sentinels first, so the most
// specific code wins when walking the chain.
var codePriority = []error{ErrGatewayAuthFailed}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
