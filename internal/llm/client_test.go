package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientTimeout(t *testing.T) {
	c := NewClient("key", "gpt-4o-mini", 0.3, 2000, 5*time.Second)
	assert.Equal(t, 5*time.Second, c.timeout)

	c = NewClient("key", "gpt-4o-mini", 0.3, 2000, 0)
	assert.Equal(t, 30*time.Second, c.timeout)
}

func TestDecodeJSONBlock(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"bare object", `{"sentiment": "negative", "urgency": 4}`, false},
		{"fenced", "```json\n{\"sentiment\": \"negative\", \"urgency\": 4}\n```", false},
		{"prose around object", "Here is the analysis:\n{\"sentiment\": \"negative\", \"urgency\": 4}\nHope that helps!", false},
		{"no object", "I cannot analyze this.", true},
		{"malformed", `{"sentiment": `, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var analysis ContextAnalysis
			err := decodeJSONBlock(tt.content, &analysis)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "negative", analysis.Sentiment)
			assert.Equal(t, 4, analysis.Urgency)
		})
	}
}

func TestContextAnalysisSanitize(t *testing.T) {
	a := ContextAnalysis{Sentiment: "furious", Urgency: 9}
	a.sanitize()
	assert.Equal(t, "neutral", a.Sentiment)
	assert.Equal(t, 5, a.Urgency)

	b := ContextAnalysis{Sentiment: "very_negative", Urgency: 0}
	b.sanitize()
	assert.Equal(t, "very_negative", b.Sentiment)
	assert.Equal(t, 1, b.Urgency)
}
