package errors

import (
	stdErrors "errors"
	"fmt"
	"strings"
)

// Category 描述错误在请求边界上的分类，直接写入响应信封。
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryConsent    Category = "consent"
	CategoryRole       Category = "role"
	CategoryExecution  Category = "execution"
	CategoryInternal   Category = "internal"
	// CategoryUnrecognized 表示语句无法解析为任何 endpoint，不是执行失败。
	CategoryUnrecognized Category = "unrecognized"
)

// ValidationError 表示调用参数与 endpoint 声明的类型不符，列出全部不合法的参数名。
type ValidationError struct {
	Endpoint string
	Invalid  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s 参数校验失败: %s", e.Endpoint, strings.Join(e.Invalid, ", "))
}

// Code 返回错误码。
func (e *ValidationError) Code() Code { return CodeValidationFailed }

// Unwrap 暴露统一错误类型，便于 CodeOf 等函数识别。
func (e *ValidationError) Unwrap() error {
	return New(CodeValidationFailed, e.Error(),
		WithMetadata("endpoint", e.Endpoint),
		WithMetadata("invalid", strings.Join(e.Invalid, ",")),
	)
}

// ConsentError 表示会话缺少 endpoint 所需的授权范围，或会话已经过期。
type ConsentError struct {
	Endpoint string
	Missing  []string
	Expired  bool
}

func (e *ConsentError) Error() string {
	if e.Expired {
		return fmt.Sprintf("%s 无法执行: 会话已过期", e.Endpoint)
	}
	return fmt.Sprintf("%s 缺少授权范围: %s", e.Endpoint, strings.Join(e.Missing, ", "))
}

// Code 返回错误码。
func (e *ConsentError) Code() Code {
	if e.Expired {
		return CodeSessionExpired
	}
	return CodeConsentRequired
}

// Unwrap 暴露统一错误类型。
func (e *ConsentError) Unwrap() error {
	return New(e.Code(), e.Error(),
		WithMetadata("endpoint", e.Endpoint),
		WithMetadata("missing", strings.Join(e.Missing, ",")),
	)
}

// RoleError 表示调用者角色不在 endpoint 允许的角色列表中。
type RoleError struct {
	Endpoint string
	Role     string
	Allowed  []string
}

func (e *RoleError) Error() string {
	role := e.Role
	if role == "" {
		role = "<none>"
	}
	return fmt.Sprintf("%s 需要角色 %s，当前角色 %s", e.Endpoint, strings.Join(e.Allowed, "|"), role)
}

// Code 返回错误码。
func (e *RoleError) Code() Code { return CodeRoleDenied }

// Unwrap 暴露统一错误类型。
func (e *RoleError) Unwrap() error {
	return New(CodeRoleDenied, e.Error(), WithMetadata("endpoint", e.Endpoint))
}

// ExecutionError 包装 handler 在执行期间返回的错误，保留 endpoint 与原始信息。
type ExecutionError struct {
	Endpoint  string
	Message   string
	Retryable bool
	Cause     error
}

// NewExecutionError 构造执行错误。只有 handler 显式标记为可重试的错误才会保留可重试属性。
func NewExecutionError(endpoint string, cause error) *ExecutionError {
	message := "unknown failure"
	if cause != nil {
		message = cause.Error()
	}
	retryable := false
	if e, ok := From(cause); ok && e.retryable != nil {
		retryable = *e.retryable
	}
	return &ExecutionError{Endpoint: endpoint, Message: message, Retryable: retryable, Cause: cause}
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s 执行失败: %s", e.Endpoint, e.Message)
}

// Code 返回错误码。
func (e *ExecutionError) Code() Code { return CodeExecutionFailed }

// Unwrap 暴露统一错误类型，原始错误仍可通过 errors.Is 访问。
func (e *ExecutionError) Unwrap() error {
	return Wrap(CodeExecutionFailed, e.Cause, fmt.Sprintf("%s 执行失败", e.Endpoint),
		WithRetryable(e.Retryable),
		WithMetadata("endpoint", e.Endpoint),
	)
}

// Classify 将任意错误映射为错误码、分类与可展示的信息。
func Classify(err error) (Code, Category, string) {
	if err == nil {
		return "", "", ""
	}
	var (
		validation *ValidationError
		consent    *ConsentError
		role       *RoleError
		execution  *ExecutionError
	)
	switch {
	case stdErrors.As(err, &validation):
		return validation.Code(), CategoryValidation, validation.Error()
	case stdErrors.As(err, &consent):
		return consent.Code(), CategoryConsent, consent.Error()
	case stdErrors.As(err, &role):
		return role.Code(), CategoryRole, role.Error()
	case stdErrors.As(err, &execution):
		return execution.Code(), CategoryExecution, execution.Error()
	}
	if e, ok := From(err); ok {
		switch e.Code() {
		case CodeInvalidArgument, CodeValidationFailed:
			return e.Code(), CategoryValidation, e.Message()
		case CodeSessionExpired, CodeSessionNotFound, CodeConsentRequired:
			return e.Code(), CategoryConsent, e.Message()
		case CodeRoleDenied:
			return e.Code(), CategoryRole, e.Message()
		case CodeUnrecognizedIntent:
			return e.Code(), CategoryUnrecognized, e.Message()
		}
		return e.Code(), CategoryInternal, e.Message()
	}
	return CodeUnknown, CategoryInternal, err.Error()
}
