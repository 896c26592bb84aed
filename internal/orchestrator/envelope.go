package orchestrator

import (
	"errors"

	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/executor"
	"OpenMCP-Intent/internal/governance"
	"OpenMCP-Intent/internal/intent"
	"OpenMCP-Intent/internal/llm"
	"OpenMCP-Intent/internal/session"
)

// Unrecognized 是无法解析时 intent 字段的取值。
const Unrecognized = "unrecognized"

// Request 是一次命令请求。Target 非空时跳过解析，直接执行该 endpoint。
type Request struct {
	Utterance string
	Session   session.Session
	Target    string
	Args      map[string]any
	Narrate   bool
}

// Response 是返回给传输层的统一信封，任何错误都已在此完成分类。
type Response struct {
	OK             bool                  `json:"ok"`
	RequestID      string                `json:"request_id"`
	Utterance      string                `json:"utterance"`
	Intent         string                `json:"intent"`
	Feature        string                `json:"feature,omitempty"`
	Source         string                `json:"source,omitempty"`
	Match          *intent.MatchMetadata `json:"match,omitempty"`
	Message        string                `json:"message"`
	Flow           *FlowInfo             `json:"flow,omitempty"`
	Steps          []StepOutcome         `json:"steps,omitempty"`
	Error          *ErrorBody            `json:"error,omitempty"`
	Narration      *llm.Narration        `json:"narration,omitempty"`
	NarrationError string                `json:"narration_error,omitempty"`
}

// FlowInfo 描述多步骤流程的组合方式。
type FlowInfo struct {
	Template    string   `json:"template,omitempty"`
	Explanation string   `json:"explanation"`
	Reasoned    bool     `json:"reasoned,omitempty"`
	Unresolved  []string `json:"unresolved,omitempty"`
}

// StepOutcome 是单步结果。
type StepOutcome struct {
	Endpoint      string                  `json:"endpoint"`
	Args          map[string]any          `json:"args,omitempty"`
	Status        executor.Status         `json:"status"`
	Message       string                  `json:"message"`
	Data          map[string]any          `json:"data,omitempty"`
	Authorization *executor.Authorization `json:"authorization,omitempty"`
	TicketID      string                  `json:"ticket_id,omitempty"`
	Decision      *governance.Decision    `json:"decision,omitempty"`
	Error         *ErrorBody              `json:"error,omitempty"`
}

// ErrorBody 是分类后的错误。
type ErrorBody struct {
	Code      apperrors.Code     `json:"code"`
	Category  apperrors.Category `json:"category"`
	Message   string             `json:"message"`
	Retryable bool               `json:"retryable,omitempty"`
	Missing   []string           `json:"missing_scopes,omitempty"`
	Invalid   []string           `json:"invalid_args,omitempty"`
}

// ClassifyError 把任意错误转换为 ErrorBody。
func ClassifyError(err error) *ErrorBody {
	if err == nil {
		return nil
	}
	code, category, message := apperrors.Classify(err)
	body := &ErrorBody{
		Code:      code,
		Category:  category,
		Message:   message,
		Retryable: apperrors.RetryableError(err),
	}
	var (
		consent    *apperrors.ConsentError
		validation *apperrors.ValidationError
	)
	if errors.As(err, &consent) {
		body.Missing = append([]string(nil), consent.Missing...)
	}
	if errors.As(err, &validation) {
		body.Invalid = append([]string(nil), validation.Invalid...)
	}
	return body
}

func asExecution(err error) (*apperrors.ExecutionError, bool) {
	var exec *apperrors.ExecutionError
	if errors.As(err, &exec) {
		return exec, true
	}
	return nil, false
}
