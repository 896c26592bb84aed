package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"OpenMCP-Intent/internal/catalog"
	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/events"
	"OpenMCP-Intent/internal/executor"
	"OpenMCP-Intent/internal/flow"
	"OpenMCP-Intent/internal/intent"
	"OpenMCP-Intent/internal/observability/alerting"
	"OpenMCP-Intent/pkg/logger"
)

// 解析层级，用于指标与响应中的 source 字段。
const (
	tierTarget   = "target"
	tierTemplate = "template"
	tierCompound = "compound"
	tierReasoned = "reasoned"
)

var examplePhrasings = []string{
	"check my balance",
	"send alice a message saying hello",
	"write a note saying buy milk and then anchor it",
	"what is the p3 protocol",
}

// Handle 执行一次命令请求。任何失败都转换为信封，不会向调用方返回错误。
func (s *Service) Handle(ctx context.Context, req Request) Response {
	resp := Response{RequestID: s.newID(), Utterance: req.Utterance}
	log := s.log.With("request_id", resp.RequestID, "wallet", req.Session.Wallet)
	ctx = logger.WithContext(ctx, log)

	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		log.Error("读取能力目录失败", "error", err)
		resp.Intent = Unrecognized
		s.fail(&resp, apperrors.Wrap(apperrors.CodeInitializationFailure, err, "capability catalog is unavailable"))
		return s.finish(ctx, req, resp)
	}

	composed, tier, ok := s.plan(ctx, req, snap, &resp)
	s.metrics.ObserveIntent(tier)
	if !ok {
		return s.finish(ctx, req, resp)
	}

	outcomes := s.executor.ExecuteFlow(ctx, req.Session, composed.Steps, snap)
	resp.Steps = make([]StepOutcome, 0, len(outcomes))
	messages := make([]string, 0, len(outcomes))
	resp.OK = true
	for _, o := range outcomes {
		step := StepOutcome{Endpoint: o.Step.Endpoint, Args: o.Step.Args, Decision: o.Decision}
		if o.Err != nil {
			step.Status = executor.StatusFailed
			step.Error = ClassifyError(o.Err)
			step.Message = failureMessage(o.Step.Endpoint, o.Err, step.Error)
			if resp.Error == nil {
				resp.Error = step.Error
			}
			resp.OK = false
			s.alert(ctx, req, o.Step.Endpoint, o.Err)
		} else if o.Result != nil {
			step.Status = o.Result.Status
			step.Message = o.Result.Message
			step.Data = o.Result.Data
			step.Authorization = o.Result.Authorization
			step.TicketID = o.Result.TicketID
		}
		messages = append(messages, step.Message)
		resp.Steps = append(resp.Steps, step)
	}
	resp.Message = strings.Join(messages, ". ")
	s.publish(ctx, req, resp)
	return s.finish(ctx, req, resp)
}

// plan 确定要执行的步骤。返回 false 时 resp 已填好失败信息。
func (s *Service) plan(ctx context.Context, req Request, snap *catalog.Snapshot, resp *Response) (flow.Composed, string, bool) {
	if target := strings.TrimSpace(req.Target); target != "" {
		ep, found := snap.Lookup(target)
		if !found {
			resp.Intent = Unrecognized
			s.fail(resp, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("endpoint %s does not exist", target)))
			return flow.Composed{}, tierTarget, false
		}
		resp.Intent = labelOf(ep)
		resp.Feature = ep.Key
		resp.Source = tierTarget
		return flow.Composed{Steps: []flow.Step{{Endpoint: ep.Key, Args: req.Args}}}, tierTarget, true
	}

	if strings.TrimSpace(req.Utterance) == "" {
		resp.Intent = Unrecognized
		s.fail(resp, apperrors.New(apperrors.CodeInvalidArgument, "utterance is empty"))
		return flow.Composed{}, Unrecognized, false
	}

	composed := s.composer.ComposeWithReasoning(ctx, req.Utterance, req.Session.Role(), snap)
	if composed.RequiresExternalReasoning || len(composed.Steps) == 0 {
		resp.Intent = Unrecognized
		resp.Message = unrecognizedMessage(req.Utterance)
		resp.Error = &ErrorBody{
			Code:     apperrors.CodeUnrecognizedIntent,
			Category: apperrors.CategoryUnrecognized,
			Message:  resp.Message,
		}
		return composed, Unrecognized, false
	}

	var tier string
	switch {
	case composed.Reasoned:
		tier = tierReasoned
	case composed.Template != "":
		tier = tierTemplate
	case len(composed.Steps) == 1:
		for _, frag := range composed.Fragments {
			if frag.Resolved && frag.Resolution != nil {
				resp.Intent = frag.Resolution.Intent.Label
				resp.Match = frag.Resolution.Match
				tier = string(frag.Resolution.Intent.Source)
				break
			}
		}
	default:
		tier = tierCompound
	}
	if len(composed.Steps) > 1 || composed.Template != "" || composed.Reasoned {
		resp.Flow = &FlowInfo{
			Template:    composed.Template,
			Explanation: composed.Explanation,
			Reasoned:    composed.Reasoned,
		}
		for _, frag := range composed.Fragments {
			if !frag.Resolved {
				resp.Flow.Unresolved = append(resp.Flow.Unresolved, frag.Text)
			}
		}
	}
	resp.Feature = composed.Steps[0].Endpoint
	if resp.Intent == "" {
		switch {
		case composed.Template != "":
			resp.Intent = composed.Template
		case len(composed.Steps) == 1:
			resp.Intent = intent.SanitizeKey(resp.Feature)
		default:
			resp.Intent = "compound_flow"
		}
	}
	resp.Source = tier
	return composed, tier, true
}

func (s *Service) fail(resp *Response, err error) {
	resp.OK = false
	resp.Error = ClassifyError(err)
	resp.Message = resp.Error.Message
}

// finish 追加播报并写审计日志。播报失败只记录在 narration_error 中。
func (s *Service) finish(ctx context.Context, req Request, resp Response) Response {
	if req.Narrate && resp.Message != "" {
		narration, err := s.narrator.Narrate(ctx, resp.Message)
		if err != nil {
			resp.NarrationError = err.Error()
		} else {
			resp.Narration = &narration
		}
	}
	code := ""
	if resp.Error != nil {
		code = string(resp.Error.Code)
	}
	s.audit.Info("命令已处理",
		"request_id", resp.RequestID,
		"wallet", req.Session.Wallet,
		"intent", resp.Intent,
		"feature", resp.Feature,
		"steps", len(resp.Steps),
		"ok", resp.OK,
		"code", code,
	)
	return resp
}

func (s *Service) publish(ctx context.Context, req Request, resp Response) {
	event := events.Event{
		ID:         s.newID(),
		Wallet:     req.Session.Wallet,
		Utterance:  req.Utterance,
		Steps:      make([]events.StepEvent, 0, len(resp.Steps)),
		OccurredAt: s.now().UTC(),
	}
	for _, step := range resp.Steps {
		se := events.StepEvent{Endpoint: step.Endpoint, Status: string(step.Status)}
		if step.Error != nil {
			se.Code = string(step.Error.Code)
		}
		event.Steps = append(event.Steps, se)
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.FromContext(ctx).Warn("发布流程事件失败", "error", err, "code", apperrors.CodeOf(err))
		s.alert(ctx, req, "", err)
	}
}

func (s *Service) alert(ctx context.Context, req Request, endpoint string, err error) {
	if !apperrors.ShouldAlert(err) {
		return
	}
	event := alerting.EventFromError(err, req.Session.Wallet, endpoint)
	event.Utterance = req.Utterance
	if notifyErr := s.alerts.Notify(ctx, event); notifyErr != nil {
		logger.FromContext(ctx).Warn("发送告警失败", "error", notifyErr)
	}
}

func failureMessage(endpoint string, err error, body *ErrorBody) string {
	switch {
	case len(body.Missing) > 0:
		return fmt.Sprintf("%s needs your consent for: %s", endpoint, strings.Join(body.Missing, ", "))
	case body.Code == apperrors.CodeSessionExpired:
		return "Your session has expired, please sign in again"
	case len(body.Invalid) > 0:
		return fmt.Sprintf("%s could not use these arguments: %s", endpoint, strings.Join(body.Invalid, ", "))
	case body.Category == apperrors.CategoryRole:
		return fmt.Sprintf("%s is not available for your role", endpoint)
	}
	return fmt.Sprintf("%s failed: %s", endpoint, rootMessage(err, body))
}

// rootMessage 优先使用 ExecutionError 中保留的原始信息。
func rootMessage(err error, body *ErrorBody) string {
	if exec, ok := asExecution(err); ok {
		return exec.Message
	}
	return body.Message
}

func unrecognizedMessage(utterance string) string {
	quoted := make([]string, len(examplePhrasings))
	for i, p := range examplePhrasings {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	return fmt.Sprintf("I heard %q but I'm not sure what you want. Try something like %s",
		strings.TrimSpace(utterance), strings.Join(quoted, ", "))
}

func labelOf(ep catalog.Endpoint) string {
	if len(ep.Semantics.Intents) > 0 {
		return ep.Semantics.Intents[0]
	}
	return intent.SanitizeKey(ep.Key)
}
