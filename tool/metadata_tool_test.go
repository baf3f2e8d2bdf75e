package tool

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeMetadataOps struct {
	metadata map[string]any
}

func (f *fakeMetadataOps) GetMetadata(ctx context.Context) (map[string]any, error) {
	return f.metadata, nil
}

func (f *fakeMetadataOps) UpdateMetadata(ctx context.Context, metadata map[string]any) error {
	for k, v := range metadata {
		f.metadata[k] = v
	}
	return nil
}

func (f *fakeMetadataOps) DeleteMetadataKeys(ctx context.Context, keys []string) error {
	for _, k := range keys {
		delete(f.metadata, k)
	}
	return nil
}

func TestMetadataTool_Get(t *testing.T) {
	ops := &fakeMetadataOps{metadata: map[string]any{"foo": "bar"}}
	tl := NewMetadataTool(ops)

	out, err := tl.Execute(context.Background(), json.RawMessage(`{"action":"get"}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if got["foo"] != "bar" {
		t.Errorf("expected foo=bar, got %v", got["foo"])
	}
}

func TestMetadataTool_Update(t *testing.T) {
	ops := &fakeMetadataOps{metadata: map[string]any{}}
	tl := NewMetadataTool(ops)

	_, err := tl.Execute(context.Background(), json.RawMessage(`{"action":"update","metadata":{"x":1}}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if ops.metadata["x"] != float64(1) {
		t.Errorf("expected metadata x=1, got %v", ops.metadata["x"])
	}
}

func TestMetadataTool_Delete(t *testing.T) {
	ops := &fakeMetadataOps{metadata: map[string]any{"x": 1, "y": 2}}
	tl := NewMetadataTool(ops)

	_, err := tl.Execute(context.Background(), json.RawMessage(`{"action":"delete","keys":["x"]}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, ok := ops.metadata["x"]; ok {
		t.Error("expected key x to be removed")
	}
	if _, ok := ops.metadata["y"]; !ok {
		t.Error("expected key y to remain")
	}
}

func TestMetadataTool_DoubleEncodedInput(t *testing.T) {
	ops := &fakeMetadataOps{metadata: map[string]any{}}
	tl := NewMetadataTool(ops)

	nested, _ := json.Marshal(`{"action":"update","metadata":{"z":true}}`)
	if _, err := tl.Execute(context.Background(), nested); err != nil {
		t.Fatalf("Execute failed on double-encoded input: %v", err)
	}
	if ops.metadata["z"] != true {
		t.Errorf("expected metadata z=true, got %v", ops.metadata["z"])
	}
}

func TestMetadataTool_UnknownAction(t *testing.T) {
	ops := &fakeMetadataOps{metadata: map[string]any{}}
	tl := NewMetadataTool(ops)

	if _, err := tl.Execute(context.Background(), json.RawMessage(`{"action":"bogus"}`)); err == nil {
		t.Fatal("expected error for unknown action")
	}
}
