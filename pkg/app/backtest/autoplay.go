package backtest

import (
	"context"
	"time"

	"github.com/uhyunpark/tickex/pkg/app/exchange"
	"github.com/uhyunpark/tickex/pkg/util"
)

// DefaultPlayInterval paces autoplay when the caller gives no interval
const DefaultPlayInterval = 100 * time.Millisecond

type player struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Play ticks on behalf of sub every interval until the source is exhausted,
// a tick fails, ctx ends or StopPlay is called. The returned channel closes
// when the loop exits.
func (s *Session) Play(ctx context.Context, sub uint64, interval time.Duration) (<-chan struct{}, error) {
	if err := s.subs.Authorize(sub); err != nil {
		return nil, err
	}
	s.mu.RLock()
	closed, initialized := s.closed, s.initialized
	s.mu.RUnlock()
	if closed {
		return nil, ErrSessionClosed
	}
	if !initialized {
		return nil, exchange.ErrNotInitialized
	}
	if interval <= 0 {
		interval = s.cfg.PlayInterval
	}
	if interval <= 0 {
		interval = DefaultPlayInterval
	}

	s.playMu.Lock()
	defer s.playMu.Unlock()
	if s.play != nil {
		select {
		case <-s.play.done:
		default:
			return nil, ErrAlreadyPlaying
		}
	}

	playCtx, cancel := context.WithCancel(ctx)
	p := &player{cancel: cancel, done: make(chan struct{})}
	s.play = p
	s.playing.Store(true)
	go s.runPlay(playCtx, p, sub, interval)
	return p.done, nil
}

func (s *Session) runPlay(ctx context.Context, p *player, sub uint64, interval time.Duration) {
	defer close(p.done)
	defer s.playing.Store(false)
	defer p.cancel()

	startTime := s.deps.Clock.Now()
	ticks, trades := 0, 0
	s.log.Infow("autoplay_started", "subscriber", sub, "interval", interval.String())

	for {
		if err := util.Sleep(ctx, s.deps.Clock, interval); err != nil {
			s.log.Infow("autoplay_stopped", "ticks", ticks, "trades", trades, "reason", err.Error())
			return
		}
		res, err := s.Tick(ctx, sub)
		if err != nil {
			s.log.Warnw("autoplay_stopped", "ticks", ticks, "trades", trades, "err", err)
			return
		}
		ticks++
		trades += len(res.Trades)
		if !res.HasNext {
			s.log.Infow("autoplay_finished",
				"ticks", ticks,
				"trades", trades,
				"elapsed", s.deps.Clock.Now().Sub(startTime).Round(time.Millisecond).String(),
			)
			return
		}
	}
}

// StopPlay stops autoplay and waits for the loop to exit. No-op when idle.
func (s *Session) StopPlay() {
	s.playMu.Lock()
	p := s.play
	s.playMu.Unlock()
	if p == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (s *Session) Playing() bool { return s.playing.Load() }
