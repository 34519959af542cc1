package openai

import "testing"

func TestNew(t *testing.T) {
	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Error("expected error for empty api key")
	}

	p, err := New("key", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("ModelID = %q, want default %q", p.ModelID(), DefaultModel)
	}
}

func TestDimensions(t *testing.T) {
	cases := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"some-future-model", 1536},
	}
	for _, tc := range cases {
		t.Run(tc.model, func(t *testing.T) {
			p, err := New("key", tc.model)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := p.Dimensions(); got != tc.want {
				t.Errorf("Dimensions = %d, want %d", got, tc.want)
			}
			if p.ModelID() != tc.model {
				t.Errorf("ModelID = %q, want %q", p.ModelID(), tc.model)
			}
		})
	}
}
