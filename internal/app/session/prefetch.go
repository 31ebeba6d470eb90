package session

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/duet/internal/app/notification"
	"github.com/osa030/duet/internal/app/selection"
	"github.com/osa030/duet/internal/domain/song"
)

// startPrefetch starts a pipeline run for the AI's next pick, superseding any
// run in flight. The pick is queued with the status the turn calls for.
func (m *Manager) startPrefetch() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancelPrefetchLocked()
	ctx, cancel := context.WithCancel(m.ctx)
	m.prefetchSeq++
	seq := m.prefetchSeq
	m.prefetchCancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	m.stateMgr.SetThinking(true)
	req := m.newRequest()

	go func() {
		defer m.wg.Done()
		defer m.finishPrefetch(seq, cancel)

		res, err := m.deps.Selector.Select(ctx, req)
		if err != nil {
			if ctx.Err() == nil {
				zlog.Error().Msgf("AI pick failed: persona=%s error=%v", m.persona.ID, err)
				m.notification.Notify(m.config.GetMessage("selection_failed"), notification.SeverityError)
			}
			return
		}
		if !res.Selected() {
			zlog.Debug().Msgf("AI pick produced nothing: outcome=%s reason=%s", res.Outcome, res.Reason)
			return
		}
		m.queueAIPick(ctx, seq, res)
	}()
}

func (m *Manager) queueAIPick(ctx context.Context, seq uint64, res selection.Result) {
	if result := m.filterChain.Execute(ctx, *res.Track, song.SideAI); !result.Accepted {
		zlog.Warn().Msgf("AI pick refused: track=%q code=%s detail=%s", res.Track.Label(), result.Code, result.Detail)
		return
	}

	m.mu.Lock()
	if !m.running || seq != m.prefetchSeq || ctx.Err() != nil {
		m.mu.Unlock()
		zlog.Debug().Msgf("superseded AI pick discarded: track=%q", res.Track.Label())
		return
	}
	status := m.stateMgr.DetermineNextQueueStatus()
	s := song.New(*res.Track, song.SideAI, res.Rationale, status)
	m.stateMgr.Enqueue(s)
	m.direction = nil
	m.mu.Unlock()

	zlog.Info().Msgf("AI pick queued: track=%q status=%s", s.Track.Label(), status)
	if status == song.StatusUpNext {
		m.notification.Notify("Up next: "+s.Track.Label(), notification.SeverityInfo)
	}
	m.startIfIdle()
}

// finishPrefetch clears the thinking flag unless a newer run took over.
func (m *Manager) finishPrefetch(seq uint64, cancel context.CancelFunc) {
	cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq != m.prefetchSeq {
		return
	}
	m.prefetchCancel = nil
	m.stateMgr.SetThinking(false)
}

// cancelPrefetchLocked cancels the run in flight.
// Must be called with m.mu held.
func (m *Manager) cancelPrefetchLocked() {
	if m.prefetchCancel == nil {
		return
	}
	m.prefetchCancel()
	m.prefetchCancel = nil
	m.prefetchSeq++
}
