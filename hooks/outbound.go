package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DisabledTopic is the sentinel topic value that switches a feedback
// routing arm off.
const DisabledTopic = "none"

// ErrConnectionGone is returned by a PushClient when the target
// connection has disconnected. MetadataPushSink treats it as a normal
// condition: logged, not retried.
var ErrConnectionGone = errors.New("hooks: push connection gone")

// Messenger publishes a subject/body message to a named topic, with
// string attributes for downstream filtering. It is the shape of an
// SNS-style fan-out transport; implementations live outside this module.
type Messenger interface {
	Publish(ctx context.Context, topic, subject, body string, attributes map[string]string) error
}

// Queue submits an opaque payload to an external work queue, with
// string attributes for downstream filtering. It is the shape of an
// SQS-style transport; implementations live outside this module.
type Queue interface {
	Submit(ctx context.Context, body []byte, attributes map[string]string) error
}

// PushClient delivers a payload to one live client connection, keyed by
// the connection id the client registered in session metadata. It is
// the shape of a WebSocket management API; implementations live outside
// this module. Post returns ErrConnectionGone (possibly wrapped) when
// the connection has closed.
type PushClient interface {
	Post(ctx context.Context, connectionID string, body []byte) error
}

// RatingArm configures one feedback routing destination. Topic set to
// DisabledTopic (or left empty) switches the arm off. SubjectPrefix and
// BodyPrefix are prepended to the generated subject and body; both may
// reference {session_id}, {rating}, and {timestamp}.
type RatingArm struct {
	Topic         string
	SubjectPrefix string
	BodyPrefix    string
}

func (a RatingArm) disabled() bool {
	return a.Topic == "" || a.Topic == DisabledTopic
}

// FeedbackRouter is a Sink that routes feedback entries to one of three
// Messenger topics keyed by rating: "up" to Positive, "down" to
// Negative, anything else (including no rating) to Neutral.
type FeedbackRouter struct {
	Messenger Messenger
	Positive  RatingArm
	Negative  RatingArm
	Neutral   RatingArm
	Logger    Logger
}

func (r *FeedbackRouter) Deliver(ctx context.Context, action Action) error {
	if action.Kind != KindAddFeedback {
		return nil
	}

	ratingText := "neutral"
	if action.Rating != nil {
		switch *action.Rating {
		case "up":
			ratingText = "positive"
		case "down":
			ratingText = "negative"
		}
	}

	var arm RatingArm
	switch ratingText {
	case "positive":
		arm = r.Positive
	case "negative":
		arm = r.Negative
	default:
		arm = r.Neutral
	}
	if arm.disabled() {
		if r.Logger != nil {
			r.Logger.Debug("feedback routing arm disabled", "rating", ratingText, "session_id", action.SessionID)
		}
		return nil
	}

	now := time.Now().UTC()
	subject := expandTemplate(arm.SubjectPrefix, action.SessionID, ratingText, now) +
		fmt.Sprintf("feedback %s on session %s", ratingText, action.SessionID)
	body := expandTemplate(arm.BodyPrefix, action.SessionID, ratingText, now) + action.Comment

	err := r.Messenger.Publish(ctx, arm.Topic, subject, body, map[string]string{
		"session_id": action.SessionID,
		"rating":     ratingText,
	})
	if err != nil {
		return fmt.Errorf("publish feedback to %s: %w", arm.Topic, err)
	}
	if r.Logger != nil {
		r.Logger.Info("feedback notification sent", "session_id", action.SessionID, "rating", ratingText, "topic", arm.Topic)
	}
	return nil
}

// expandTemplate substitutes {session_id}, {rating}, and {timestamp} in
// a prefix template.
func expandTemplate(tmpl, sessionID, rating string, at time.Time) string {
	if tmpl == "" {
		return ""
	}
	rep := strings.NewReplacer(
		"{session_id}", sessionID,
		"{rating}", rating,
		"{timestamp}", at.Format(time.RFC3339),
	)
	return rep.Replace(tmpl)
}

// metadataEventPayload is the wire shape both metadata sinks emit.
type metadataEventPayload struct {
	SessionID string         `json:"session_id"`
	Event     string         `json:"event"`
	Operation string         `json:"operation"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp string         `json:"timestamp"`
}

// MetadataEventSink is a Sink that serializes metadata mutations and
// submits them to an external Queue. When AllowedKeys is non-empty,
// only those keys survive into the payload; the operation, session id,
// and timestamp always do.
type MetadataEventSink struct {
	Queue       Queue
	AllowedKeys []string
	Logger      Logger
}

func (s *MetadataEventSink) Deliver(ctx context.Context, action Action) error {
	payload, ok := buildMetadataPayload(action, s.AllowedKeys, nil)
	if !ok {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal metadata event: %w", err)
	}
	err = s.Queue.Submit(ctx, body, map[string]string{
		"session_id": action.SessionID,
		"event":      payload.Event,
	})
	if err != nil {
		return fmt.Errorf("submit metadata event: %w", err)
	}
	if s.Logger != nil {
		s.Logger.Info("metadata event submitted", "session_id", action.SessionID, "operation", payload.Operation)
	}
	return nil
}

// MetadataLookup fetches a session's current metadata, used by
// MetadataPushSink to find the target connection id when the mutation
// that triggered the push did not itself carry it.
type MetadataLookup func(ctx context.Context, sessionID string) (map[string]any, error)

// connectionIDKey is the canonical metadata key a client registers its
// live connection under.
const connectionIDKey = "ws_connection_id"

// MetadataPushSink is a Sink that pushes metadata mutations to the live
// client connection registered under the session's ws_connection_id
// metadata key. A session with no registered connection, or whose
// connection has gone away, is logged and skipped; the sink never
// retries.
type MetadataPushSink struct {
	Client      PushClient
	AllowedKeys []string
	Lookup      MetadataLookup
	Logger      Logger
}

func (s *MetadataPushSink) Deliver(ctx context.Context, action Action) error {
	payload, ok := buildMetadataPayload(action, s.AllowedKeys, []string{connectionIDKey})
	if !ok {
		return nil
	}

	connectionID := stringValue(action.MetadataValues[connectionIDKey])
	if connectionID == "" && s.Lookup != nil {
		metadata, err := s.Lookup(ctx, action.SessionID)
		if err != nil {
			return fmt.Errorf("lookup metadata for push: %w", err)
		}
		connectionID = stringValue(metadata[connectionIDKey])
	}
	if connectionID == "" {
		if s.Logger != nil {
			s.Logger.Info("no ws_connection_id registered, skipping push", "session_id", action.SessionID)
		}
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal metadata push: %w", err)
	}
	if err := s.Client.Post(ctx, connectionID, body); err != nil {
		if errors.Is(err, ErrConnectionGone) {
			if s.Logger != nil {
				s.Logger.Info("push connection gone", "session_id", action.SessionID, "connection_id", connectionID)
			}
			return nil
		}
		return fmt.Errorf("push metadata to connection %s: %w", connectionID, err)
	}
	if s.Logger != nil {
		s.Logger.Info("metadata pushed", "session_id", action.SessionID, "connection_id", connectionID, "operation", payload.Operation)
	}
	return nil
}

// buildMetadataPayload projects a metadata mutation into the outbound
// payload shape. Update actions carry the written key/value pairs,
// leaving out keys whose value is nil; delete actions carry the
// removed keys with null values; anything
// outside allowed (when non-empty) or in excluded is dropped. Non-
// metadata actions report ok=false.
func buildMetadataPayload(action Action, allowed, excluded []string) (metadataEventPayload, bool) {
	var operation string
	metadata := map[string]any{}
	switch action.Kind {
	case KindUpdate:
		operation = "update"
		for k, v := range action.MetadataValues {
			if v == nil {
				continue
			}
			metadata[k] = v
		}
	case KindDelete:
		operation = "delete"
		for _, k := range action.MetadataKeys {
			metadata[k] = nil
		}
	default:
		return metadataEventPayload{}, false
	}

	if len(allowed) > 0 {
		filtered := make(map[string]any, len(allowed))
		for _, k := range allowed {
			if v, ok := metadata[k]; ok {
				filtered[k] = v
			}
		}
		metadata = filtered
	}
	for _, k := range excluded {
		delete(metadata, k)
	}

	return metadataEventPayload{
		SessionID: action.SessionID,
		Event:     "metadata_update",
		Operation: operation,
		Metadata:  metadata,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, true
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
