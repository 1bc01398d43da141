// Package sweeper запускает периодические очистки ядра: обнуление
// просроченных балансов и обслуживание подписок.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/brandonlmk/jobs-marketplace/internal/lib/sl"
)

// Ledger операции очистки, выполняемые по расписанию.
type Ledger interface {
	SweepExpired(ctx context.Context, now time.Time) error
	SweepSubscriptions(ctx context.Context, now time.Time) error
}

// SweeperService запускает проходы очистки по тикеру. Оба прохода
// идемпотентны, поэтому параллельный запуск второго экземпляра безопасен.
type SweeperService struct {
	ledger   Ledger
	log      *slog.Logger
	interval time.Duration
}

// NewSweeperService создает новый экземпляр SweeperService.
func NewSweeperService(ledger Ledger, log *slog.Logger, interval time.Duration) *SweeperService {
	return &SweeperService{
		ledger:   ledger,
		log:      log,
		interval: interval,
	}
}

// Run выполняет первый проход немедленно и далее по тикеру, пока
// контекст не будет отменён.
func (s *SweeperService) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		}
	}
}

func (s *SweeperService) runOnce(ctx context.Context) {
	now := time.Now()
	s.log.Info("starting sweep pass")

	if err := s.ledger.SweepExpired(ctx, now); err != nil {
		s.log.Error("expired token sweep failed", sl.Err(err))
	}
	if err := s.ledger.SweepSubscriptions(ctx, now); err != nil {
		s.log.Error("subscription sweep failed", sl.Err(err))
	}
}
