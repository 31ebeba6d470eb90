package validate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/osa030/duet/internal/domain/track"
	"github.com/osa030/duet/internal/infra/llm"
)

type fakeCompleter struct {
	reply string
	err   error
	calls int
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, messages []llm.Message, out any) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.reply), out)
}

func TestLLMValidator_Validate(t *testing.T) {
	trk := track.Track{ID: "1", Name: "So What", Artists: []string{"Miles Davis"}, Album: "Kind of Blue"}
	persona := "Late night jazz selector who loves modal records."

	tests := []struct {
		name        string
		completer   *fakeCompleter
		description string
		wantStatus  Status
		wantCalls   int
	}{
		{
			name:        "accepted",
			completer:   &fakeCompleter{reply: `{"isValid":true,"shortSummary":"modal jazz classic","reasoning":"fits"}`},
			description: persona,
			wantStatus:  StatusAccepted,
			wantCalls:   1,
		},
		{
			name:        "rejected",
			completer:   &fakeCompleter{reply: `{"isValid":false,"shortSummary":"wrong era","reasoning":"too old"}`},
			description: persona,
			wantStatus:  StatusRejected,
			wantCalls:   1,
		},
		{
			name:        "model error fails open",
			completer:   &fakeCompleter{err: errors.New("connection refused")},
			description: persona,
			wantStatus:  StatusUnavailable,
			wantCalls:   1,
		},
		{
			name:        "no description",
			completer:   &fakeCompleter{reply: `{"isValid":false}`},
			description: "  ",
			wantStatus:  StatusUnavailable,
			wantCalls:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewLLMValidator(tt.completer)
			verdict := v.Validate(context.Background(), trk, tt.description)
			assert.Equal(t, tt.wantStatus, verdict.Status)
			assert.Equal(t, tt.wantStatus == StatusRejected, verdict.Rejected())
			assert.Equal(t, tt.wantCalls, tt.completer.calls)
		})
	}
}

func TestLLMValidator_NilClient(t *testing.T) {
	v := NewLLMValidator(nil)
	verdict := v.Validate(context.Background(), track.Track{}, "anything")
	assert.Equal(t, StatusUnavailable, verdict.Status)
	assert.False(t, verdict.Rejected())
}

func TestDisabled(t *testing.T) {
	verdict := Disabled{}.Validate(context.Background(), track.Track{}, "anything")
	assert.Equal(t, StatusUnavailable, verdict.Status)
	assert.Equal(t, "unavailable", verdict.Status.String())
}
