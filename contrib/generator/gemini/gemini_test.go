package gemini

import (
	"errors"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/studyhall-ai/studyhall/generate"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want generate.Kind
	}{
		{"quota exhausted", &googleapi.Error{Code: 429, Message: "quota"}, generate.KindRateLimit},
		{"backend overloaded", &googleapi.Error{Code: 503, Message: "unavailable"}, generate.KindServiceUnavailable},
		{"bad gateway", &googleapi.Error{Code: 502, Message: "bad gateway"}, generate.KindServiceUnavailable},
		{"unknown model", &googleapi.Error{Code: 404, Message: "not found"}, generate.KindModelNotFound},
		{"plain error falls through", errors.New("connection refused"), generate.KindConnection},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := generate.KindOf(classify(tc.err)); got != tc.want {
				t.Errorf("classify(%v) kind = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestResponseText(t *testing.T) {
	if got := responseText(nil); got != "" {
		t.Errorf("nil response must render empty, got %q", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("key")
	if cfg.Model == "" || cfg.MaxTokens <= 0 {
		t.Errorf("defaults incomplete: %+v", cfg)
	}
}
