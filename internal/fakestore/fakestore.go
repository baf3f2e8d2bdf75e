// Package fakestore provides an in-memory store.Store implementation for
// deterministic unit tests that do not require a live MongoDB instance.
package fakestore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iguinea/mongodb-session-manager/model"
	"github.com/iguinea/mongodb-session-manager/store"
)

// Store is a sync.Mutex-guarded map of sessions keyed by SessionID.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

// New returns an empty fake store.
func New() *Store {
	return &Store{sessions: map[string]*model.Session{}}
}

func clone(s *model.Session) *model.Session {
	cp := *s
	cp.Metadata = make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		cp.Metadata[k] = v
	}
	cp.Agents = make(map[string]*model.AgentBlock, len(s.Agents))
	for id, a := range s.Agents {
		ab := *a
		ab.Messages = append([]model.MessageEntry(nil), a.Messages...)
		cp.Agents[id] = &ab
	}
	cp.Feedbacks = append([]model.FeedbackEntry(nil), s.Feedbacks...)
	return &cp
}

func (s *Store) CreateSession(ctx context.Context, params store.CreateSessionParams) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[params.SessionID]; ok {
		return nil, &store.ConflictError{Resource: "session", ID: params.SessionID, Reason: "already exists"}
	}

	now := time.Now().UTC()
	metadata := params.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	doc := &model.Session{
		ID:                    params.SessionID,
		SessionID:             params.SessionID,
		SessionType:           params.SessionType,
		ApplicationName:       params.ApplicationName,
		SessionViewerPassword: params.SessionViewerPassword,
		CreatedAt:             now,
		UpdatedAt:             now,
		Metadata:              metadata,
		Agents:                map[string]*model.AgentBlock{},
		Feedbacks:             []model.FeedbackEntry{},
	}
	s.sessions[params.SessionID] = doc
	return clone(doc), nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return nil, &store.NotFoundError{Resource: "session", ID: sessionID}
	}
	return clone(doc), nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return &store.NotFoundError{Resource: "session", ID: sessionID}
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *Store) EnsureAgent(ctx context.Context, sessionID, agentID string, agentData map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return &store.NotFoundError{Resource: "session", ID: sessionID}
	}
	if _, exists := doc.Agents[agentID]; exists {
		return nil
	}
	if agentData == nil {
		agentData = map[string]any{}
	}
	now := time.Now().UTC()
	doc.Agents[agentID] = &model.AgentBlock{
		AgentData: agentData,
		Messages:  []model.MessageEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc.UpdatedAt = now
	return nil
}

func (s *Store) UpdateAgentData(ctx context.Context, sessionID, agentID string, agentData map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return &store.NotFoundError{Resource: "session", ID: sessionID}
	}
	agent, ok := doc.Agents[agentID]
	if !ok {
		return &store.NotFoundError{Resource: "agent", ID: sessionID + "/" + agentID}
	}
	now := time.Now().UTC()
	agent.AgentData = agentData
	agent.UpdatedAt = now
	doc.UpdatedAt = now
	return nil
}

func (s *Store) UpdateAgentFields(ctx context.Context, sessionID, agentID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return &store.NotFoundError{Resource: "session", ID: sessionID}
	}
	agent, ok := doc.Agents[agentID]
	if !ok {
		return &store.NotFoundError{Resource: "agent", ID: sessionID + "/" + agentID}
	}
	if agent.AgentData == nil {
		agent.AgentData = map[string]any{}
	}
	for k, v := range fields {
		agent.AgentData[k] = v
	}
	now := time.Now().UTC()
	agent.UpdatedAt = now
	doc.UpdatedAt = now
	return nil
}

func (s *Store) UpsertMessage(ctx context.Context, params store.UpdateMessageParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[params.SessionID]
	if !ok {
		return &store.NotFoundError{Resource: "session", ID: params.SessionID}
	}
	agent, ok := doc.Agents[params.AgentID]
	if !ok {
		return &store.NotFoundError{Resource: "agent", ID: params.SessionID + "/" + params.AgentID}
	}

	now := time.Now().UTC()
	for i := range agent.Messages {
		if agent.Messages[i].MessageID == params.MessageID {
			agent.Messages[i].Message = params.Message
			if params.Metrics != nil {
				agent.Messages[i].EventLoopMetrics = params.Metrics
			}
			agent.Messages[i].UpdatedAt = now
			agent.UpdatedAt = now
			doc.UpdatedAt = now
			return nil
		}
	}

	agent.Messages = append(agent.Messages, model.MessageEntry{
		MessageID:        params.MessageID,
		Message:          params.Message,
		CreatedAt:        now,
		UpdatedAt:        now,
		EventLoopMetrics: params.Metrics,
	})
	agent.UpdatedAt = now
	doc.UpdatedAt = now
	return nil
}

func (s *Store) GetSessionViewerPassword(ctx context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return "", &store.NotFoundError{Resource: "session", ID: sessionID}
	}
	return doc.SessionViewerPassword, nil
}

func (s *Store) GetApplicationName(ctx context.Context, sessionID string) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return nil, &store.NotFoundError{Resource: "session", ID: sessionID}
	}
	return doc.ApplicationName, nil
}

func (s *Store) GetAgentData(ctx context.Context, sessionID, agentID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return nil, &store.NotFoundError{Resource: "session", ID: sessionID}
	}
	agent, ok := doc.Agents[agentID]
	if !ok {
		return nil, &store.NotFoundError{Resource: "agent", ID: sessionID + "/" + agentID}
	}
	state := make(map[string]any, len(agent.AgentData))
	for k, v := range agent.AgentData {
		if k == "model" || k == "system_prompt" {
			continue
		}
		state[k] = v
	}
	return state, nil
}

func (s *Store) GetMessage(ctx context.Context, sessionID, agentID string, messageID int64) (*model.MessageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return nil, &store.NotFoundError{Resource: "session", ID: sessionID}
	}
	agent, ok := doc.Agents[agentID]
	if !ok {
		return nil, &store.NotFoundError{Resource: "agent", ID: sessionID + "/" + agentID}
	}
	for i := range agent.Messages {
		if agent.Messages[i].MessageID == messageID {
			entry := agent.Messages[i]
			entry.EventLoopMetrics = nil
			return &entry, nil
		}
	}
	return nil, &store.NotFoundError{Resource: "message", ID: fmt.Sprintf("%s/%s/%d", sessionID, agentID, messageID)}
}

func (s *Store) ListMessages(ctx context.Context, sessionID, agentID string, limit, offset int64) ([]model.MessageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return nil, &store.NotFoundError{Resource: "session", ID: sessionID}
	}
	agent, ok := doc.Agents[agentID]
	if !ok {
		return nil, &store.NotFoundError{Resource: "agent", ID: sessionID + "/" + agentID}
	}

	messages := append([]model.MessageEntry(nil), agent.Messages...)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset > int64(len(messages)) {
		offset = int64(len(messages))
	}
	end := int64(len(messages))
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return messages[offset:end], nil
}

func (s *Store) GetMetadata(ctx context.Context, sessionID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return nil, &store.NotFoundError{Resource: "session", ID: sessionID}
	}
	out := make(map[string]any, len(doc.Metadata))
	for k, v := range doc.Metadata {
		out[k] = v
	}
	return out, nil
}

func (s *Store) UpdateMetadata(ctx context.Context, sessionID string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return &store.NotFoundError{Resource: "session", ID: sessionID}
	}
	for k, v := range metadata {
		doc.Metadata[k] = v
	}
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) DeleteMetadataKeys(ctx context.Context, sessionID string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return &store.NotFoundError{Resource: "session", ID: sessionID}
	}
	for _, k := range keys {
		delete(doc.Metadata, k)
	}
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) AddFeedback(ctx context.Context, params store.AddFeedbackParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[params.SessionID]
	if !ok {
		return &store.NotFoundError{Resource: "session", ID: params.SessionID}
	}
	doc.Feedbacks = append(doc.Feedbacks, model.FeedbackEntry{
		Rating:    params.Rating,
		Comment:   params.Comment,
		CreatedAt: time.Now().UTC(),
		Extra:     params.Extra,
	})
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ListFeedback(ctx context.Context, sessionID string) ([]model.FeedbackEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return nil, &store.NotFoundError{Resource: "session", ID: sessionID}
	}
	return append([]model.FeedbackEntry(nil), doc.Feedbacks...), nil
}

func (s *Store) Search(ctx context.Context, params store.SearchParams) ([]store.SearchResult, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []*model.Session
	for _, doc := range s.sessions {
		if params.SessionType != "" && doc.SessionType != params.SessionType {
			continue
		}
		if !matchesMetadataFilter(doc.Metadata, params.MetadataFilter) {
			continue
		}
		if !params.CreatedAtStart.IsZero() && doc.CreatedAt.Before(params.CreatedAtStart) {
			continue
		}
		if !params.CreatedAtEnd.IsZero() && doc.CreatedAt.After(params.CreatedAtEnd) {
			continue
		}
		if params.Query != "" {
			q := strings.ToLower(params.Query)
			appName := ""
			if doc.ApplicationName != nil {
				appName = *doc.ApplicationName
			}
			if !strings.Contains(strings.ToLower(doc.SessionID), q) &&
				!strings.Contains(strings.ToLower(appName), q) {
				continue
			}
		}
		matches = append(matches, doc)
	}

	orderBy := params.OrderBy
	if orderBy == "" {
		orderBy = "created_at"
	}
	sort.Slice(matches, func(i, j int) bool {
		var less bool
		switch orderBy {
		case "updated_at":
			less = matches[i].UpdatedAt.Before(matches[j].UpdatedAt)
		case "session_id":
			less = matches[i].SessionID < matches[j].SessionID
		default:
			less = matches[i].CreatedAt.Before(matches[j].CreatedAt)
		}
		if params.OrderAscending {
			return less
		}
		return !less
	})

	total := int64(len(matches))

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	start := params.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	page := matches[start:end]

	results := make([]store.SearchResult, 0, len(page))
	for _, doc := range page {
		messageCount := 0
		for _, agent := range doc.Agents {
			messageCount += len(agent.Messages)
		}
		results = append(results, store.SearchResult{
			Session:       *clone(doc),
			AgentCount:    len(doc.Agents),
			MessageCount:  messageCount,
			FeedbackCount: len(doc.Feedbacks),
		})
	}
	return results, total, nil
}

// matchesMetadataFilter reports whether every key in filter appears in
// metadata as a case-insensitive substring match, mirroring the
// MongoStore's escaped-regex $regex semantics for the fake store's
// deterministic in-memory tests.
func matchesMetadataFilter(metadata map[string]any, filter map[string]string) bool {
	for key, want := range filter {
		v, ok := metadata[key]
		if !ok {
			return false
		}
		s, ok := v.(string)
		if !ok || !strings.Contains(strings.ToLower(s), strings.ToLower(want)) {
			return false
		}
	}
	return true
}

func (s *Store) DistinctMetadataValues(ctx context.Context, key string, limit int64) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[any]struct{}{}
	var values []any
	for _, doc := range s.sessions {
		v, ok := doc.Metadata[key]
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
		if limit > 0 && int64(len(values)) >= limit {
			break
		}
	}
	return values, nil
}

func (s *Store) Touch(ctx context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.sessions[sessionID]
	if !ok {
		return &store.NotFoundError{Resource: "session", ID: sessionID}
	}
	doc.UpdatedAt = at
	return nil
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	return nil
}

// ListIndexedFields returns a fixed set of structural field names plus
// every distinct top-level metadata key observed, mirroring the subset
// of fields MongoStore would report indexes for in tests that never
// call EnsureIndexes against a real server.
func (s *Store) ListIndexedFields(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]struct{}{
		"session_id": {}, "session_type": {}, "application_name": {},
		"created_at": {}, "updated_at": {},
	}
	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	metaSeen := map[string]struct{}{}
	for _, doc := range s.sessions {
		for k := range doc.Metadata {
			key := "metadata." + k
			if _, ok := metaSeen[key]; ok {
				continue
			}
			metaSeen[key] = struct{}{}
			fields = append(fields, key)
		}
	}
	sort.Strings(fields)
	return fields, nil
}

// SampleFieldValues returns up to limit non-nil values observed for a
// dotted field path across stored sessions.
func (s *Store) SampleFieldValues(ctx context.Context, field string, limit int64) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const metaPrefix = "metadata."
	var values []any
	for _, doc := range s.sessions {
		var v any
		switch {
		case strings.HasPrefix(field, metaPrefix):
			v = doc.Metadata[strings.TrimPrefix(field, metaPrefix)]
		case field == "session_id":
			v = doc.SessionID
		case field == "session_type":
			v = doc.SessionType
		case field == "application_name":
			if doc.ApplicationName != nil {
				v = *doc.ApplicationName
			}
		case field == "created_at":
			v = doc.CreatedAt
		case field == "updated_at":
			v = doc.UpdatedAt
		}
		if v == nil {
			continue
		}
		values = append(values, v)
		if limit > 0 && int64(len(values)) >= limit {
			break
		}
	}
	return values, nil
}

var _ store.Store = (*Store)(nil)
