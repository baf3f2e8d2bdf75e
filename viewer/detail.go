package viewer

import (
	"context"
	"sort"

	"github.com/iguinea/mongodb-session-manager/model"
)

// GetSessionDetail assembles the full detail view for one session,
// including a chronologically-merged timeline of every agent's
// messages interleaved with feedback entries.
func (v *Viewer) GetSessionDetail(ctx context.Context, sessionID string) (*SessionDetail, error) {
	session, err := v.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var timeline []model.TimelineEntry
	agents := make([]AgentSummary, 0, len(session.Agents))
	messageCount := 0
	for agentID, agent := range session.Agents {
		messageCount += len(agent.Messages)

		summary := AgentSummary{
			AgentID:      agentID,
			MessageCount: len(agent.Messages),
			CreatedAt:    agent.CreatedAt,
			UpdatedAt:    agent.UpdatedAt,
		}
		if modelID, ok := agent.AgentData["model"].(string); ok {
			summary.Model = modelID
		}
		if prompt, ok := agent.AgentData["system_prompt"].(string); ok {
			summary.SystemPrompt = prompt
		}
		agents = append(agents, summary)

		for _, msg := range agent.Messages {
			timeline = append(timeline, model.TimelineEntry{
				Type:      model.TimelineMessage,
				Timestamp: msg.CreatedAt,
				AgentID:   agentID,
				Role:      msg.Message.Role,
				Content:   msg.Message.Content,
				MessageID: msg.MessageID,
				Metrics:   msg.EventLoopMetrics,
			})
		}
	}
	// Map iteration order is random; sort by agent id so the response is
	// stable across requests.
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })
	for _, fb := range session.Feedbacks {
		timeline = append(timeline, model.TimelineEntry{
			Type:      model.TimelineFeedback,
			Timestamp: fb.CreatedAt,
			Rating:    fb.Rating,
			Comment:   fb.Comment,
		})
	}

	sort.Slice(timeline, func(i, j int) bool {
		return timeline[i].Timestamp.Before(timeline[j].Timestamp)
	})

	return &SessionDetail{
		Session:      *session,
		AgentCount:   len(session.Agents),
		MessageCount: messageCount,
		Agents:       agents,
		Timeline:     timeline,
	}, nil
}
