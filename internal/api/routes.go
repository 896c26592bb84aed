package api

import (
	"net/http"
	"strings"

	"OpenMCP-Intent/internal/auth"
	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/orchestrator"
	"OpenMCP-Intent/internal/review"
	"OpenMCP-Intent/internal/session"
)

type startSessionRequest struct {
	Wallet string   `json:"wallet"`
	Roles  []string `json:"roles"`
}

type updateSessionRequest struct {
	Groups []string `json:"groups"`
	Scopes []string `json:"scopes"`
}

type commandRequest struct {
	Utterance string         `json:"utterance"`
	Target    string         `json:"target"`
	Args      map[string]any `json:"args"`
	Narrate   bool           `json:"narrate"`
}

type queryRequest struct {
	Text string `json:"text"`
}

type decisionRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.svc.Sessions().Start(r.Context(), req.Wallet, req.Roles)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "session": sess})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	sess.Token = ""
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": sess})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	if err := s.svc.Sessions().Terminate(sess.Wallet); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	current, _ := auth.SessionFromContext(r.Context())
	var req updateSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var (
		sess session.Session
		err  error
		mgr  = s.svc.Sessions()
	)
	switch r.PathValue("action") {
	case "connect":
		sess, err = mgr.Connect(r.Context(), current.Wallet, req.Groups, req.Scopes)
	case "disconnect":
		sess, err = mgr.Disconnect(current.Wallet, req.Groups)
	case "grant":
		sess, err = mgr.Grant(r.Context(), current.Wallet, req.Scopes)
	case "revoke":
		sess, err = mgr.Revoke(r.Context(), current.Wallet, req.Scopes)
	case "refresh":
		sess, err = mgr.Refresh(current.Wallet)
	default:
		err = apperrors.New(apperrors.CodeNotFound, "unknown session action "+r.PathValue("action"))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	sess.Token = ""
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": sess})
}

// handleCommand 总是返回 200 与信封，失败信息在信封的 error 字段中。
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	var req commandRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp := s.svc.Handle(r.Context(), orchestrator.Request{
		Utterance: req.Utterance,
		Session:   sess,
		Target:    req.Target,
		Args:      req.Args,
		Narrate:   req.Narrate,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eps, err := s.svc.Endpoints(r.Context(), q.Get("scope"), q.Get("group"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "endpoints": eps})
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	ep, err := s.svc.Describe(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "endpoint": ep})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	eps, err := s.svc.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "endpoints": eps})
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "templates": s.svc.Templates()})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.svc.Query(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": resp})
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	status := review.Status(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	tickets, err := s.svc.ListReviews(r.Context(), sess, status, queryLimit(r, 20))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tickets": tickets})
}

func (s *Server) handleDecideReview(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	id := r.PathValue("id")
	switch r.PathValue("decision") {
	case "approve":
		ticket, result, err := s.svc.ApproveReview(r.Context(), sess, id)
		if err != nil && ticket == nil {
			writeError(w, err)
			return
		}
		body := map[string]any{"ok": err == nil, "ticket": ticket, "result": result}
		if err != nil {
			body["error"] = orchestrator.ClassifyError(err)
		}
		writeJSON(w, http.StatusOK, body)
	case "reject":
		var req decisionRequest
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
		ticket, err := s.svc.RejectReview(r.Context(), sess, id, req.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ticket": ticket})
	default:
		writeError(w, apperrors.New(apperrors.CodeNotFound, "unknown review decision "+r.PathValue("decision")))
	}
}

func (s *Server) handlePutCredential(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	var bundle map[string]any
	if err := decode(r, &bundle); err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.StoreCredential(r.Context(), sess.Wallet, r.PathValue("provider"), bundle); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	if err := s.svc.RemoveCredential(r.Context(), sess.Wallet, r.PathValue("provider")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
