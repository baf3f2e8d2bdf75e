package sessionmanager

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/iguinea/mongodb-session-manager/hooks"
	"github.com/iguinea/mongodb-session-manager/model"
	"github.com/iguinea/mongodb-session-manager/mongopool"
	"github.com/iguinea/mongodb-session-manager/store"
	"github.com/iguinea/mongodb-session-manager/tool"
)

// Handle is a session-scoped view over the store: every method operates
// against the one SessionID it was created for.
type Handle struct {
	store     store.Store
	sessionID string
	cfg       *internalConfig
	logger    Logger

	mu     sync.RWMutex
	closed bool
}

// NewHandleWithClient builds a Handle directly from an already-connected
// *mongo.Client, creating the session document if it does not yet
// exist. Most callers should go through a Factory instead, which owns
// the client and hook dispatcher lifecycle.
func NewHandleWithClient(ctx context.Context, client *mongo.Client, database, sessionID string, opts ...Option) (*Handle, error) {
	return newHandle(ctx, store.NewMongoStore(client.Database(database)), sessionID, opts...)
}

// NewHandleWithClientAndMetadataFields is NewHandleWithClient plus the
// set of metadata keys to pre-seed and index on session creation.
func NewHandleWithClientAndMetadataFields(ctx context.Context, client *mongo.Client, database, sessionID string, metadataFields []string, opts ...Option) (*Handle, error) {
	return newHandle(ctx, store.NewMongoStoreWithMetadataFields(client.Database(database), metadataFields), sessionID, opts...)
}

// NewHandle obtains a client from the process-wide connection pool
// (initializing it if necessary) and builds a Handle against it.
func NewHandle(ctx context.Context, cfg Config, sessionID string, opts ...Option) (*Handle, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	poolOpts := cfg.Pool
	if poolOpts.Logger == nil {
		poolOpts.Logger = cfg.Logger
	}
	client, err := mongopool.Global().Initialize(ctx, cfg.ConnectionString, poolOpts)
	if err != nil {
		return nil, NewHandleError("NewHandle", err)
	}

	st := store.NewMongoStoreWithOptions(client.Database(cfg.Database), store.Options{
		Collection:     cfg.Collection,
		MetadataFields: cfg.MetadataFields,
	})
	h, err := newHandle(ctx, st, sessionID, opts...)
	if err != nil {
		return nil, err
	}
	h.logger = cfg.Logger
	return h, nil
}

func newHandle(ctx context.Context, st store.Store, sessionID string, opts ...Option) (*Handle, error) {
	internal := newInternalConfig()
	for _, opt := range opts {
		if err := opt(internal); err != nil {
			return nil, NewHandleErrorWithSession("newHandle", sessionID, err)
		}
	}

	_, err := st.GetSession(ctx, sessionID)
	if _, ok := err.(*store.NotFoundError); ok {
		var appName *string
		if internal.applicationName != "" {
			appName = &internal.applicationName
		}
		password := internal.sessionViewerPassword
		if password == "" {
			password, err = generateViewerPassword()
			if err != nil {
				return nil, NewHandleErrorWithSession("newHandle", sessionID, err)
			}
		}
		_, err = st.CreateSession(ctx, store.CreateSessionParams{
			SessionID:             sessionID,
			SessionType:           internal.sessionType,
			ApplicationName:       appName,
			SessionViewerPassword: password,
			Metadata:              internal.metadata,
		})
	}
	if err != nil {
		return nil, NewHandleErrorWithSession("newHandle", sessionID, err)
	}

	return &Handle{store: st, sessionID: sessionID, cfg: internal}, nil
}

func (h *Handle) checkOpen() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return NewHandleErrorWithSession("Handle", h.sessionID, ErrSessionClosed)
	}
	return nil
}

// runHooks composes the Handle's configured hooks around op, innermost
// first, so the first hook registered is the outermost wrapper.
func (h *Handle) runHooks(action Action, op func() error) error {
	next := op
	for i := len(h.cfg.hooks) - 1; i >= 0; i-- {
		hook := h.cfg.hooks[i]
		prev := next
		next = func() error { return hook(prev, action) }
	}
	return next()
}

// Action is re-exported so callers composing custom hooks do not need
// to import the hooks package directly for the common case.
type Action = hooks.Action

// SyncAgent persists an agent's current SDK state (with its resolved
// model and system_prompt) and upserts message under messageID: an
// existing entry with that ID is overwritten in place, otherwise a new
// entry is appended. The derived event-loop metrics are attached to the
// message only when summary is non-nil and reports nonzero latency.
func (h *Handle) SyncAgent(ctx context.Context, agentID string, snapshot model.AgentSnapshot, messageID int64, message model.Message, summary *model.TurnSummary) error {
	if err := h.checkOpen(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.syncTimeout)
	defer cancel()

	state := make(map[string]any, len(snapshot.State)+2)
	for k, v := range snapshot.State {
		state[k] = v
	}
	state["model"] = snapshot.Model.Resolve()
	state["system_prompt"] = snapshot.SystemPrompt

	if err := h.store.EnsureAgent(ctx, h.sessionID, agentID, state); err != nil {
		return NewHandleErrorWithSession("SyncAgent.EnsureAgent", h.sessionID, err).WithContext("agent_id", agentID)
	}
	// Always rewrite agent_data with the full state snapshot: this is
	// the audit trail of which model/system_prompt produced this turn,
	// captured on every sync regardless of latency.
	if err := h.store.UpdateAgentData(ctx, h.sessionID, agentID, state); err != nil {
		return NewHandleErrorWithSession("SyncAgent.UpdateAgentData", h.sessionID, err).WithContext("agent_id", agentID)
	}

	// Metrics are attached only when the turn reports nonzero latency; a
	// zero-latency sync still updates the message and agent state.
	var metrics *model.EventLoopMetrics
	if summary != nil && summary.AccumulatedMetrics.LatencyMs > 0 {
		metrics = buildEventLoopMetrics(summary)
	}

	err := h.store.UpsertMessage(ctx, store.UpdateMessageParams{
		SessionID: h.sessionID,
		AgentID:   agentID,
		MessageID: messageID,
		Message:   message,
		Metrics:   metrics,
	})
	if err != nil {
		return NewHandleErrorWithSession("SyncAgent.UpsertMessage", h.sessionID, err).WithContext("agent_id", agentID)
	}
	return nil
}

// buildEventLoopMetrics strips tool_info from each tool's usage record,
// keeping only the execution_stats subset the store persists.
func buildEventLoopMetrics(summary *model.TurnSummary) *model.EventLoopMetrics {
	toolUsage := make(map[string]model.ToolUsageStats, len(summary.ToolUsage))
	for name, raw := range summary.ToolUsage {
		toolUsage[name] = raw.ExecutionStats
	}
	return &model.EventLoopMetrics{
		AccumulatedMetrics: summary.AccumulatedMetrics,
		AccumulatedUsage:   summary.AccumulatedUsage,
		CycleMetrics: model.CycleMetrics{
			TotalCycles:      summary.TotalCycles,
			TotalDuration:    summary.TotalDuration,
			AverageCycleTime: summary.AverageCycleTime,
		},
		ToolUsage: toolUsage,
	}
}

// AgentConfig returns the minimal public view of one agent's resolved
// model identifier and system prompt.
func (h *Handle) AgentConfig(ctx context.Context, agentID string) (model.AgentConfig, error) {
	if err := h.checkOpen(); err != nil {
		return model.AgentConfig{}, err
	}

	session, err := h.store.GetSession(ctx, h.sessionID)
	if err != nil {
		return model.AgentConfig{}, NewHandleErrorWithSession("AgentConfig", h.sessionID, err)
	}
	agent, ok := session.Agents[agentID]
	if !ok {
		return model.AgentConfig{}, NewHandleErrorWithSession("AgentConfig", h.sessionID, ErrNoAgent).WithContext("agent_id", agentID)
	}

	cfg := model.AgentConfig{AgentID: agentID}
	if modelID, ok := agent.AgentData["model"].(string); ok {
		cfg.Model = modelID
	}
	if prompt, ok := agent.AgentData["system_prompt"].(string); ok {
		cfg.SystemPrompt = prompt
	}
	return cfg, nil
}

// ListAgents returns the minimal {agent_id, model, system_prompt} view
// of every agent that has synced into this session.
func (h *Handle) ListAgents(ctx context.Context) ([]model.AgentConfig, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}

	session, err := h.store.GetSession(ctx, h.sessionID)
	if err != nil {
		return nil, NewHandleErrorWithSession("ListAgents", h.sessionID, err)
	}

	configs := make([]model.AgentConfig, 0, len(session.Agents))
	for agentID, agent := range session.Agents {
		cfg := model.AgentConfig{AgentID: agentID}
		if modelID, ok := agent.AgentData["model"].(string); ok {
			cfg.Model = modelID
		}
		if prompt, ok := agent.AgentData["system_prompt"].(string); ok {
			cfg.SystemPrompt = prompt
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// GetMessageCount returns the number of messages recorded for agentID,
// or 0 if the agent is absent from the session.
func (h *Handle) GetMessageCount(ctx context.Context, agentID string) (int, error) {
	if err := h.checkOpen(); err != nil {
		return 0, err
	}

	session, err := h.store.GetSession(ctx, h.sessionID)
	if err != nil {
		return 0, NewHandleErrorWithSession("GetMessageCount", h.sessionID, err)
	}
	agent, ok := session.Agents[agentID]
	if !ok {
		return 0, nil
	}
	return len(agent.Messages), nil
}

// UpdateAgentConfig updates model and/or system_prompt for agentID. A
// nil pointer leaves the corresponding field untouched.
func (h *Handle) UpdateAgentConfig(ctx context.Context, agentID string, modelID, systemPrompt *string) error {
	if err := h.checkOpen(); err != nil {
		return err
	}

	fields := make(map[string]any, 2)
	if modelID != nil {
		fields["model"] = *modelID
	}
	if systemPrompt != nil {
		fields["system_prompt"] = *systemPrompt
	}
	if len(fields) == 0 {
		return nil
	}

	if err := h.store.UpdateAgentFields(ctx, h.sessionID, agentID, fields); err != nil {
		return NewHandleErrorWithSession("UpdateAgentConfig", h.sessionID, err).WithContext("agent_id", agentID)
	}
	return nil
}

// GetAgentState returns the agent's SDK-level state snapshot, with the
// derived model/system_prompt audit fields stripped out.
func (h *Handle) GetAgentState(ctx context.Context, agentID string) (map[string]any, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}

	state, err := h.store.GetAgentData(ctx, h.sessionID, agentID)
	if err != nil {
		return nil, NewHandleErrorWithSession("GetAgentState", h.sessionID, err).WithContext("agent_id", agentID)
	}
	return state, nil
}

// GetMessage returns one message by its id within agentID's message
// sequence, shaped as the SDK expects (event_loop_metrics stripped).
func (h *Handle) GetMessage(ctx context.Context, agentID string, messageID int64) (*model.MessageEntry, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}

	entry, err := h.store.GetMessage(ctx, h.sessionID, agentID, messageID)
	if err != nil {
		return nil, NewHandleErrorWithSession("GetMessage", h.sessionID, err).WithContext("agent_id", agentID)
	}
	return entry, nil
}

// ListMessages returns agentID's messages sorted ascending by
// created_at, paginated as [offset, offset+limit). A limit <= 0 returns
// everything from offset onward.
func (h *Handle) ListMessages(ctx context.Context, agentID string, limit, offset int64) ([]model.MessageEntry, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}

	messages, err := h.store.ListMessages(ctx, h.sessionID, agentID, limit, offset)
	if err != nil {
		return nil, NewHandleErrorWithSession("ListMessages", h.sessionID, err).WithContext("agent_id", agentID)
	}
	return messages, nil
}

// GetSessionViewerPassword returns the auto-generated (or explicitly
// configured) password gating this session in the viewer, for handing
// out per-session viewer links.
func (h *Handle) GetSessionViewerPassword(ctx context.Context) (string, error) {
	if err := h.checkOpen(); err != nil {
		return "", err
	}

	password, err := h.store.GetSessionViewerPassword(ctx, h.sessionID)
	if err != nil {
		return "", NewHandleErrorWithSession("GetSessionViewerPassword", h.sessionID, err)
	}
	return password, nil
}

// GetApplicationName returns the application name the session was
// created under, or nil when none was set.
func (h *Handle) GetApplicationName(ctx context.Context) (*string, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}

	name, err := h.store.GetApplicationName(ctx, h.sessionID)
	if err != nil {
		return nil, NewHandleErrorWithSession("GetApplicationName", h.sessionID, err)
	}
	return name, nil
}

// GetFeedbacks returns every feedback entry recorded for this session,
// in insertion order.
func (h *Handle) GetFeedbacks(ctx context.Context) ([]model.FeedbackEntry, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}

	feedbacks, err := h.store.ListFeedback(ctx, h.sessionID)
	if err != nil {
		return nil, NewHandleErrorWithSession("GetFeedbacks", h.sessionID, err)
	}
	return feedbacks, nil
}

// GetMetadata returns the session's full metadata map, running any
// registered hooks around the read.
func (h *Handle) GetMetadata(ctx context.Context) (map[string]any, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}

	var metadata map[string]any
	action := hooks.NewGetAction(h.sessionID, nil)
	err := h.runHooks(action, func() error {
		var innerErr error
		metadata, innerErr = h.store.GetMetadata(ctx, h.sessionID)
		return innerErr
	})
	if err != nil {
		return nil, NewHandleErrorWithSession("GetMetadata", h.sessionID, err)
	}
	return metadata, nil
}

// UpdateMetadata merges the given keys into the session's metadata.
func (h *Handle) UpdateMetadata(ctx context.Context, metadata map[string]any) error {
	if err := h.checkOpen(); err != nil {
		return err
	}

	action := hooks.NewUpdateAction(h.sessionID, metadata)
	err := h.runHooks(action, func() error {
		return h.store.UpdateMetadata(ctx, h.sessionID, metadata)
	})
	if err != nil {
		return NewHandleErrorWithSession("UpdateMetadata", h.sessionID, err)
	}
	return nil
}

// DeleteMetadataKeys removes the named keys from the session's metadata.
func (h *Handle) DeleteMetadataKeys(ctx context.Context, keys []string) error {
	if err := h.checkOpen(); err != nil {
		return err
	}

	action := hooks.NewDeleteAction(h.sessionID, keys)
	err := h.runHooks(action, func() error {
		return h.store.DeleteMetadataKeys(ctx, h.sessionID, keys)
	})
	if err != nil {
		return NewHandleErrorWithSession("DeleteMetadataKeys", h.sessionID, err)
	}
	return nil
}

// AddFeedback appends one feedback entry to the session.
func (h *Handle) AddFeedback(ctx context.Context, rating *string, comment string) error {
	if err := h.checkOpen(); err != nil {
		return err
	}

	action := hooks.NewAddFeedbackAction(h.sessionID, rating, comment)
	err := h.runHooks(action, func() error {
		return h.store.AddFeedback(ctx, store.AddFeedbackParams{SessionID: h.sessionID, Rating: rating, Comment: comment})
	})
	if err != nil {
		return NewHandleErrorWithSession("AddFeedback", h.sessionID, err)
	}
	return nil
}

// GetMetadataTool returns a tool.Tool bound to this Handle's session,
// suitable for registering with an agent so it can manage its own
// session metadata mid-conversation.
func (h *Handle) GetMetadataTool() tool.Tool {
	return tool.NewMetadataTool(handleMetadataOps{h: h})
}

// handleMetadataOps adapts Handle to tool.MetadataOps without exposing
// the session ID parameter the tool package never needs to see.
type handleMetadataOps struct {
	h *Handle
}

func (o handleMetadataOps) GetMetadata(ctx context.Context) (map[string]any, error) {
	return o.h.GetMetadata(ctx)
}

func (o handleMetadataOps) UpdateMetadata(ctx context.Context, metadata map[string]any) error {
	return o.h.UpdateMetadata(ctx, metadata)
}

func (o handleMetadataOps) DeleteMetadataKeys(ctx context.Context, keys []string) error {
	return o.h.DeleteMetadataKeys(ctx, keys)
}

// SessionID returns the session this Handle is bound to.
func (h *Handle) SessionID() string { return h.sessionID }

// Close marks the Handle unusable. It does not close the underlying
// client, which a Factory or the global pool owns.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}
