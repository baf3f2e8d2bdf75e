package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// MetadataOps is the subset of session-manager behavior the metadata
// tool needs. A Handle satisfies this implicitly; tool does not import
// the root package, which would create an import cycle.
type MetadataOps interface {
	GetMetadata(ctx context.Context) (map[string]any, error)
	UpdateMetadata(ctx context.Context, metadata map[string]any) error
	DeleteMetadataKeys(ctx context.Context, keys []string) error
}

// metadataTool adapts a MetadataOps implementation to the Tool interface
// so an agent can read, update, or delete its own session's metadata
// mid-conversation.
type metadataTool struct {
	ops MetadataOps
}

// NewMetadataTool returns a Tool that operates on ops's session metadata.
func NewMetadataTool(ops MetadataOps) Tool {
	return &metadataTool{ops: ops}
}

func (t *metadataTool) Name() string { return "session_metadata" }

func (t *metadataTool) Description() string {
	return "Read, update, or delete keys in the current session's metadata. " +
		"action must be one of \"get\", \"set\", \"update\", \"delete\" (\"set\" and \"update\" both merge)."
}

func (t *metadataTool) InputSchema() ToolSchema {
	return ToolSchema{
		Type: "object",
		Properties: map[string]PropertyDef{
			"action": {
				Type:        "string",
				Description: "the operation to perform",
				Enum:        []string{"get", "set", "update", "delete"},
			},
			"metadata": {
				Type:        "object",
				Description: "key/value pairs to merge in, required for action=set/update",
			},
			"keys": {
				Type:        "array",
				Description: "metadata keys to remove (action=delete) or fetch (action=get)",
			},
		},
		Required: []string{"action"},
	}
}

// metadataToolInput keeps Metadata and Keys as raw JSON so Execute can
// tolerate either a structured value or a JSON-encoded string for each
// field individually, not just for the whole input.
type metadataToolInput struct {
	Action   string          `json:"action"`
	Metadata json.RawMessage `json:"metadata"`
	Keys     json.RawMessage `json:"keys"`
}

func (t *metadataTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	args, err := parseInput(input)
	if err != nil {
		return "", fmt.Errorf("session_metadata: %v", err)
	}

	switch args.Action {
	case "get":
		keys, err := parseKeys(args.Keys)
		if err != nil {
			return "", fmt.Errorf("session_metadata: keys: %v", err)
		}
		metadata, err := t.ops.GetMetadata(ctx)
		if err != nil {
			return "", err
		}
		if len(keys) == 0 {
			return marshalResult(metadata)
		}

		found := make(map[string]any, len(keys))
		var missing []string
		for _, k := range keys {
			if v, ok := metadata[k]; ok {
				found[k] = v
			} else {
				missing = append(missing, k)
			}
		}
		return marshalResult(map[string]any{"metadata": found, "missing_keys": missing})

	case "set", "update":
		metadata, err := parseMetadata(args.Metadata)
		if err != nil {
			return "", fmt.Errorf("session_metadata: metadata: %v", err)
		}
		if len(metadata) == 0 {
			return "", fmt.Errorf("session_metadata: action=%s requires a non-empty metadata object", args.Action)
		}
		if err := t.ops.UpdateMetadata(ctx, metadata); err != nil {
			return "", err
		}
		return "metadata updated", nil

	case "delete":
		keys, err := parseKeys(args.Keys)
		if err != nil {
			return "", fmt.Errorf("session_metadata: keys: %v", err)
		}
		if len(keys) == 0 {
			return "", fmt.Errorf("session_metadata: action=delete requires a non-empty keys array")
		}
		if err := t.ops.DeleteMetadataKeys(ctx, keys); err != nil {
			return "", err
		}
		return "metadata keys deleted", nil

	default:
		return "", fmt.Errorf("session_metadata: unknown action %q", args.Action)
	}
}

func marshalResult(v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// parseMetadata accepts raw either as a JSON object or as a JSON string
// that itself encodes a JSON object, since some model providers pass
// tool arguments double-encoded.
func parseMetadata(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(asString), &m); err != nil {
		return nil, fmt.Errorf("invalid nested metadata string: %w", err)
	}
	return m, nil
}

// parseKeys accepts raw either as a JSON array of strings or as a JSON
// string that itself encodes such an array.
func parseKeys(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err == nil {
		return keys, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return nil, fmt.Errorf("invalid keys: %w", err)
	}
	if err := json.Unmarshal([]byte(asString), &keys); err != nil {
		return nil, fmt.Errorf("invalid nested keys string: %w", err)
	}
	return keys, nil
}

// parseInput tolerates both a JSON object and a JSON-encoded string
// containing a JSON object, since some model providers double-encode
// the entire tool call's arguments rather than just individual fields.
func parseInput(input json.RawMessage) (metadataToolInput, error) {
	var args metadataToolInput
	if err := json.Unmarshal(input, &args); err == nil && args.Action != "" {
		return args, nil
	}

	var asString string
	if err := json.Unmarshal(input, &asString); err != nil {
		return metadataToolInput{}, fmt.Errorf("invalid input: %w", err)
	}
	if err := json.Unmarshal([]byte(asString), &args); err != nil {
		return metadataToolInput{}, fmt.Errorf("invalid nested input: %w", err)
	}
	return args, nil
}
