package ipc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"textreplacer/internal/health"
	"textreplacer/internal/metrics"
	"textreplacer/internal/rules"
)

// Controller starts and stops expansion.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Enabled() bool
}

// HookInfo reports on the keyboard hook.
type HookInfo interface {
	Available() (bool, string)
	TapDisableCount() int64
}

// DaemonHandlerConfig configures the daemon handler
type DaemonHandlerConfig struct {
	Version    string
	Store      *rules.Store
	Controller Controller
	Hook       HookInfo
	Metrics    *metrics.Metrics
	Health     *health.Checker
	Logger     *slog.Logger
}

// DaemonHandler serves status, monitor control and rule management.
type DaemonHandler struct {
	version    string
	startedAt  time.Time
	store      *rules.Store
	controller Controller
	hook       HookInfo
	metrics    *metrics.Metrics
	health     *health.Checker
	logger     *slog.Logger
}

// NewDaemonHandler creates a new daemon handler
func NewDaemonHandler(cfg DaemonHandlerConfig) *DaemonHandler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &DaemonHandler{
		version:    cfg.Version,
		startedAt:  time.Now(),
		store:      cfg.Store,
		controller: cfg.Controller,
		hook:       cfg.Hook,
		metrics:    cfg.Metrics,
		health:     cfg.Health,
		logger:     cfg.Logger,
	}
}

// HandleMessage implements Handler.
func (h *DaemonHandler) HandleMessage(ctx context.Context, peer *Peer, msg *Message) (*Message, error) {
	h.logger.Debug("control request", "type", msg.Header.Type.String(), "peer", peer.ID)

	switch msg.Header.Type {
	case MsgStatusRequest:
		return NewResponse(MsgStatusResponse, msg.Header.RequestID, h.Status())
	case MsgEnable:
		return h.handleEnable(ctx, msg)
	case MsgDisable:
		return h.handleDisable(msg)
	case MsgListRules:
		return h.handleListRules(msg)
	case MsgAddRule:
		return h.handleAddRule(msg)
	case MsgRemoveRule:
		return h.handleRemoveRule(msg)
	case MsgClearRules:
		return h.handleClearRules(msg)
	case MsgImportRules:
		return h.handleImportRules(msg)
	case MsgHealthRequest:
		return h.handleHealth(ctx, msg)
	case MsgMetricsRequest:
		return h.handleMetrics(msg)
	default:
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unknown message type: %s", msg.Header.Type)), nil
	}
}

// Status assembles the daemon status.
func (h *DaemonHandler) Status() *StatusResponse {
	resp := &StatusResponse{
		Version:            h.version,
		Uptime:             time.Since(h.startedAt),
		StartedAt:          h.startedAt,
		Keystrokes:         h.metrics.KeystrokesTotal.Value(),
		Matches:            h.metrics.MatchesTotal.Value(),
		Replays:            h.metrics.ReplaysTotal.Value(),
		ClipboardFallbacks: h.metrics.ClipboardFallbacksTotal.Value(),
		ReplayErrors:       h.metrics.ReplayErrorsTotal.Value(),
	}
	if h.controller != nil {
		resp.Enabled = h.controller.Enabled()
	}
	if h.hook != nil {
		resp.HookAvailable, resp.HookReason = h.hook.Available()
		resp.TapDisables = h.hook.TapDisableCount()
	}
	if h.store != nil {
		resp.Rules = h.store.Len()
		resp.RulesPath = h.store.Path()
	}
	return resp
}

func (h *DaemonHandler) handleEnable(ctx context.Context, msg *Message) (*Message, error) {
	if h.controller == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "monitor not configured"), nil
	}
	resp := &StateResponse{}
	if err := h.controller.Start(ctx); err != nil {
		h.logger.Warn("enable failed", "error", err)
		resp.Error = err.Error()
	}
	resp.Enabled = h.controller.Enabled()
	return NewResponse(MsgStateResponse, msg.Header.RequestID, resp)
}

func (h *DaemonHandler) handleDisable(msg *Message) (*Message, error) {
	if h.controller == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "monitor not configured"), nil
	}
	resp := &StateResponse{}
	if err := h.controller.Stop(); err != nil {
		resp.Error = err.Error()
	}
	resp.Enabled = h.controller.Enabled()
	return NewResponse(MsgStateResponse, msg.Header.RequestID, resp)
}

func (h *DaemonHandler) handleListRules(msg *Message) (*Message, error) {
	if h.store == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "rule store not configured"), nil
	}
	sorted := h.store.Sorted()
	resp := &ListRulesResponse{
		Rules: make([]RuleEntry, 0, len(sorted)),
		Path:  h.store.Path(),
	}
	for _, r := range sorted {
		resp.Rules = append(resp.Rules, RuleEntry{Trigger: r.Trigger, Replacement: r.Replacement})
	}
	return NewResponse(MsgListRulesResp, msg.Header.RequestID, resp)
}

func (h *DaemonHandler) handleAddRule(msg *Message) (*Message, error) {
	if h.store == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "rule store not configured"), nil
	}
	var req AddRuleRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid add-rule request"), nil
	}
	if err := h.store.Add(req.Trigger, req.Replacement); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ruleErrorCode(err), err.Error()), nil
	}
	return NewResponse(MsgRulesChanged, msg.Header.RequestID, &RulesChangedResponse{Changed: 1, Count: h.store.Len()})
}

func (h *DaemonHandler) handleRemoveRule(msg *Message) (*Message, error) {
	if h.store == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "rule store not configured"), nil
	}
	var req RemoveRuleRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid remove-rule request"), nil
	}
	if !h.store.Remove(req.Trigger) {
		return NewErrorMessage(msg.Header.RequestID, ErrNotFound, fmt.Sprintf("no rule for trigger %q", req.Trigger)), nil
	}
	return NewResponse(MsgRulesChanged, msg.Header.RequestID, &RulesChangedResponse{Changed: 1, Count: h.store.Len()})
}

func (h *DaemonHandler) handleClearRules(msg *Message) (*Message, error) {
	if h.store == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "rule store not configured"), nil
	}
	n := h.store.Len()
	h.store.Clear()
	return NewResponse(MsgRulesChanged, msg.Header.RequestID, &RulesChangedResponse{Changed: n, Count: 0})
}

func (h *DaemonHandler) handleImportRules(msg *Message) (*Message, error) {
	if h.store == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "rule store not configured"), nil
	}
	var req ImportRulesRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid import request"), nil
	}
	n, err := h.store.Merge(req.Rules)
	resp := &RulesChangedResponse{Changed: n, Count: h.store.Len()}
	if err != nil {
		resp.Error = err.Error()
	}
	return NewResponse(MsgRulesChanged, msg.Header.RequestID, resp)
}

func ruleErrorCode(err error) int {
	switch {
	case errors.Is(err, rules.ErrEmptyTrigger), errors.Is(err, rules.ErrEmptyReplacement):
		return ErrInvalidRequest
	case errors.Is(err, rules.ErrNotFound):
		return ErrNotFound
	default:
		return ErrInternalError
	}
}

func (h *DaemonHandler) handleHealth(ctx context.Context, msg *Message) (*Message, error) {
	if h.health == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "health checks not configured"), nil
	}
	report := h.health.Report(ctx)
	resp := &HealthResponse{
		Status: string(report.Status),
		Uptime: report.Uptime,
	}
	for _, name := range h.health.Names() {
		r, ok := report.Components[name]
		if !ok {
			continue
		}
		resp.Components = append(resp.Components, ComponentHealth{
			Name:     name,
			Critical: h.health.Critical(name),
			Status:   string(r.Status),
			Message:  r.Message,
			Error:    r.Error,
		})
	}
	return NewResponse(MsgHealthResponse, msg.Header.RequestID, resp)
}

func (h *DaemonHandler) handleMetrics(msg *Message) (*Message, error) {
	var buf bytes.Buffer
	if err := h.metrics.Registry().WritePrometheus(&buf); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}
	return NewResponse(MsgMetricsResponse, msg.Header.RequestID, &MetricsResponse{Text: buf.String()})
}
