package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/osa030/duet/internal/app/diagnostic"
)

const telemetryBuffer = 64

// Telemetry writes error and diagnostic records in the background.
// LogError and LogDiagnostic never block; records are dropped when the
// buffer is full.
type Telemetry struct {
	db  *gorm.DB
	now func() time.Time

	mu     sync.Mutex
	closed bool
	ch     chan any
	done   chan struct{}
}

// NewTelemetry creates the telemetry sink and starts its writer.
func NewTelemetry(db *gorm.DB) *Telemetry {
	t := &Telemetry{
		db:   db,
		now:  time.Now,
		ch:   make(chan any, telemetryBuffer),
		done: make(chan struct{}),
	}
	go t.run()
	return t
}

// LogError records a failed pipeline stage.
func (t *Telemetry) LogError(ctx context.Context, personaID, stage, message string) {
	t.enqueue(&ErrorLog{
		PersonaID: personaID,
		Stage:     stage,
		Message:   message,
		CreatedAt: t.now(),
	})
}

// LogDiagnostic records a pipeline diagnostic.
func (t *Telemetry) LogDiagnostic(ctx context.Context, personaID string, record *diagnostic.Record) {
	if record == nil {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		zlog.Error().Msgf("failed to encode diagnostic: persona=%s error=%v", personaID, err)
		return
	}
	outcome := "no_result"
	if record.FinalTrack != nil {
		outcome = "selected"
	}
	t.enqueue(&DiagnosticLog{
		PersonaID: personaID,
		Outcome:   outcome,
		Record:    string(data),
		CreatedAt: record.CreatedAt,
	})
}

// Close flushes buffered records and stops the writer.
func (t *Telemetry) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.ch)
	t.mu.Unlock()
	<-t.done
}

func (t *Telemetry) enqueue(row any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.ch <- row:
	default:
		zlog.Warn().Msgf("telemetry buffer full, record dropped: type=%T", row)
	}
}

func (t *Telemetry) run() {
	defer close(t.done)
	for row := range t.ch {
		if err := t.db.Create(row).Error; err != nil {
			zlog.Error().Msgf("failed to write telemetry: type=%T error=%v", row, err)
		}
	}
}
