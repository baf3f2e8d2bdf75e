package model

import "testing"

func TestModelRef_ResolveOrder(t *testing.T) {
	tests := []struct {
		name string
		ref  ModelRef
		want string
	}{
		{
			name: "config model_id wins",
			ref: ModelRef{
				Config:  map[string]any{"model_id": "from-config"},
				ModelID: "from-field",
				Raw:     "from-string",
			},
			want: "from-config",
		},
		{
			name: "falls back to model_id field",
			ref: ModelRef{
				Config:  map[string]any{"other": "x"},
				ModelID: "from-field",
				Raw:     "from-string",
			},
			want: "from-field",
		},
		{
			name: "falls back to raw string form",
			ref:  ModelRef{Raw: "from-string"},
			want: "from-string",
		},
		{
			name: "non-string config value is skipped",
			ref: ModelRef{
				Config:  map[string]any{"model_id": 42},
				ModelID: "from-field",
			},
			want: "from-field",
		},
		{
			name: "empty config value is skipped",
			ref: ModelRef{
				Config:  map[string]any{"model_id": ""},
				ModelID: "from-field",
			},
			want: "from-field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ref.Resolve(); got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}
