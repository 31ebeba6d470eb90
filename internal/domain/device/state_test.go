package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestState_Fraction(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  float64
	}{
		{name: "half way", state: State{Progress: 90 * time.Second, Duration: 180 * time.Second}, want: 0.5},
		{name: "unknown duration", state: State{Progress: 90 * time.Second}, want: 0},
		{name: "negative progress", state: State{Progress: -time.Second, Duration: time.Minute}, want: 0},
		{name: "past the end", state: State{Progress: 2 * time.Minute, Duration: time.Minute}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.state.Fraction(), 1e-9)
		})
	}
}

func TestState_HasTrack(t *testing.T) {
	assert.False(t, State{}.HasTrack())
	assert.True(t, State{TrackID: "t1"}.HasTrack())
}
