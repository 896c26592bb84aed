package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"OpenMCP-Intent/internal/catalog"
	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/executor"
	"OpenMCP-Intent/internal/flow"
	"OpenMCP-Intent/internal/review"
	"OpenMCP-Intent/internal/session"
)

// QueryResponse 是目录元查询的结果与可播报的摘要。
type QueryResponse struct {
	catalog.QueryResult
	Templates []flow.Template `json:"templates,omitempty"`
	Message   string          `json:"message"`
}

// Endpoints 列出 endpoint，可按授权范围或能力组过滤，两者同时给出时取交集。
func (s *Service) Endpoints(ctx context.Context, scope, group string) ([]catalog.Endpoint, error) {
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	scope = strings.TrimSpace(scope)
	group = strings.TrimSpace(group)
	var list []catalog.Endpoint
	switch {
	case scope != "":
		list = snap.ListByScope(scope)
	case group != "":
		list = snap.ListByGroup(group)
	default:
		return snap.All(), nil
	}
	if scope != "" && group != "" {
		filtered := list[:0]
		for _, ep := range list {
			if strings.EqualFold(ep.Group, group) {
				filtered = append(filtered, ep)
			}
		}
		list = filtered
	}
	return list, nil
}

// Describe 返回单个 endpoint。
func (s *Service) Describe(ctx context.Context, key string) (catalog.Endpoint, error) {
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return catalog.Endpoint{}, err
	}
	ep, ok := snap.Lookup(key)
	if !ok {
		return catalog.Endpoint{}, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("endpoint %s does not exist", key),
			apperrors.WithMetadata("endpoint", key))
	}
	return ep, nil
}

// Search 在键、描述与语义元数据中做子串搜索。
func (s *Service) Search(ctx context.Context, query string) ([]catalog.Endpoint, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "search query is empty")
	}
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Search(query), nil
}

// Templates 返回已注册的复合流程模板。
func (s *Service) Templates() []flow.Template {
	return s.composer.Templates()
}

// Query 回答 "describe X"、"search Y" 之类的目录元查询。它与命令管线分开，避免遮蔽普通命令。
func (s *Service) Query(ctx context.Context, text string) (QueryResponse, error) {
	q, ok := catalog.ParseMetaQuery(text)
	if !ok {
		return QueryResponse{}, apperrors.New(apperrors.CodeInvalidArgument,
			`not a catalog query, try "list endpoints", "describe notes.create" or "search music"`)
	}
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return QueryResponse{}, err
	}
	resp := QueryResponse{QueryResult: snap.Answer(q)}
	switch q.Kind {
	case catalog.QueryTemplates:
		resp.Templates = s.Templates()
		resp.Found = len(resp.Templates) > 0
		resp.Message = fmt.Sprintf("There are %d compound flows: %s", len(resp.Templates), templateNames(resp.Templates))
	case catalog.QueryDescribe:
		if resp.Endpoint == nil {
			resp.Message = fmt.Sprintf("I don't know an endpoint called %s", q.Arg)
		} else {
			resp.Message = fmt.Sprintf("%s: %s. It needs %s", resp.Endpoint.Key, describe(*resp.Endpoint), scopeList(resp.Endpoint.Scopes))
		}
	default:
		resp.Message = listMessage(q, resp.Endpoints)
	}
	return resp, nil
}

// ListReviews 列出会话可见的审核单。
func (s *Service) ListReviews(ctx context.Context, sess session.Session, status review.Status, limit int) ([]review.Ticket, error) {
	return s.reviews.List(ctx, sess, status, limit)
}

// GetReview 返回单个审核单。
func (s *Service) GetReview(ctx context.Context, sess session.Session, id string) (*review.Ticket, error) {
	return s.reviews.Get(ctx, sess, id)
}

// ApproveReview 批准并执行审核单。执行使用所属钱包当前的会话，授权在执行时重新检查。
func (s *Service) ApproveReview(ctx context.Context, reviewer session.Session, id string) (*review.Ticket, *executor.Result, error) {
	ticket, err := s.reviews.Get(ctx, reviewer, id)
	if err != nil {
		return nil, nil, err
	}
	owner, err := s.sessions.Get(ticket.Wallet)
	if err != nil {
		return nil, nil, err
	}
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	ticket, result, err := s.reviews.Approve(ctx, reviewer, owner, id, s.executor, snap)
	if err != nil {
		s.alert(ctx, Request{Session: owner}, endpointOf(ticket), err)
	}
	return ticket, result, err
}

// RejectReview 拒绝审核单。
func (s *Service) RejectReview(ctx context.Context, reviewer session.Session, id, reason string) (*review.Ticket, error) {
	return s.reviews.Reject(ctx, reviewer, id, reason)
}

// StoreCredential 加密保存第三方凭据，例如 OAuth 令牌。
func (s *Service) StoreCredential(ctx context.Context, wallet, provider string, bundle map[string]any) error {
	if s.vault == nil {
		return apperrors.New(apperrors.CodeInitializationFailure, "credential vault is not configured")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "provider is required")
	}
	if len(bundle) == 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "credential bundle is empty")
	}
	if err := s.vault.Save(ctx, wallet, provider, bundle); err != nil {
		return err
	}
	s.audit.Info("凭据已保存", "wallet", wallet, "provider", provider)
	return nil
}

// RemoveCredential 删除第三方凭据。
func (s *Service) RemoveCredential(ctx context.Context, wallet, provider string) error {
	if s.vault == nil {
		return apperrors.New(apperrors.CodeInitializationFailure, "credential vault is not configured")
	}
	if err := s.vault.Remove(ctx, wallet, strings.ToLower(strings.TrimSpace(provider))); err != nil {
		return err
	}
	s.audit.Info("凭据已删除", "wallet", wallet, "provider", provider)
	return nil
}

func endpointOf(t *review.Ticket) string {
	if t == nil {
		return ""
	}
	return t.Endpoint
}

func describe(ep catalog.Endpoint) string {
	if ep.Description != "" {
		return strings.TrimRight(ep.Description, ".")
	}
	return "no description"
}

func scopeList(scopes []string) string {
	if len(scopes) == 0 {
		return "no scopes"
	}
	return "the " + strings.Join(scopes, ", ") + " scope" + plural(len(scopes))
}

func listMessage(q catalog.MetaQuery, eps []catalog.Endpoint) string {
	if len(eps) == 0 {
		if q.Arg != "" {
			return fmt.Sprintf("Nothing matches %s", q.Arg)
		}
		return "The catalog is empty"
	}
	keys := make([]string, 0, len(eps))
	for _, ep := range eps {
		keys = append(keys, ep.Key)
	}
	return fmt.Sprintf("%d endpoint%s: %s", len(eps), plural(len(eps)), strings.Join(keys, ", "))
}

func templateNames(templates []flow.Template) string {
	names := make([]string, len(templates))
	for i, t := range templates {
		names[i] = t.Name
	}
	return strings.Join(names, ", ")
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
