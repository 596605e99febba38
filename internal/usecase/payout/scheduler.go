// Package payout: периодические выплаты продавцам за завершённые сессии.
package payout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/repository"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/logger"
	"github.com/ignatzorin/timemarket-backend/internal/metrics"
	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
	"github.com/ignatzorin/timemarket-backend/internal/usecase/session"
)

const lockKey = "payout:batch"

// commitTimeout: сколько ждать фиксации статуса после уже выполненного перевода.
const commitTimeout = 10 * time.Second

const (
	resultPaid    = "paid"
	resultSkipped = "skipped"
	resultFailed  = "failed"
)

// ErrBatchInProgress: прогон уже выполняется этим или другим экземпляром.
var ErrBatchInProgress = apperror.New(apperror.ErrCodeTransient, "прогон выплат уже выполняется")

type Config struct {
	Enabled   bool
	Schedule  string
	BatchSize int
	// LockTTL ограничивает и длительность прогона: новые сессии не берутся после 4/5 TTL.
	LockTTL time.Duration
	// RetryBackoff: пауза после первой неудачи, дальше удваивается до MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Schedule:        "@every 15m",
		BatchSize:       50,
		LockTTL:         5 * time.Minute,
		RetryBackoff:    15 * time.Minute,
		MaxRetryBackoff: 24 * time.Hour,
	}
}

// Sessions: источник сессий для выплат и журнал неудачных попыток.
type Sessions interface {
	repository.SessionReader
	repository.PayoutAttemptRepository
}

// SessionTransitioner: переход сессии в PAID_OUT с записью выплаты в той же транзакции.
type SessionTransitioner interface {
	MarkPaidOut(ctx context.Context, sessionID uuid.UUID, record session.InTxHook) (*entity.Session, error)
}

// BatchResult: итог одного прогона.
type BatchResult struct {
	Scanned  int               `json:"scanned"`
	Paid     int               `json:"paid"`
	Skipped  int               `json:"skipped"`
	Failed   int               `json:"failed"`
	NetCents valueobject.Cents `json:"net_cents"`
}

type Scheduler struct {
	sessions Sessions
	machine  SessionTransitioner
	executor Executor
	locker   Locker
	cfg      Config
	cron     *cron.Cron
	now      func() time.Time
}

func NewScheduler(
	sessions Sessions,
	machine SessionTransitioner,
	executor Executor,
	locker Locker,
	cfg Config,
) *Scheduler {
	if executor == nil {
		executor = ManualExecutor{}
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultConfig().LockTTL
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if cfg.MaxRetryBackoff < cfg.RetryBackoff {
		cfg.MaxRetryBackoff = max(cfg.RetryBackoff, DefaultConfig().MaxRetryBackoff)
	}
	return &Scheduler{
		sessions: sessions,
		machine:  machine,
		executor: executor,
		locker:   locker,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start запускает прогоны по расписанию. Пересекающиеся прогоны пропускаются.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		logger.Log.Info("payout: планировщик выключен")
		return nil
	}

	log := cronLogger{entry: logger.Log.WithField("component", "payout-cron")}
	c := cron.New(cron.WithLogger(log), cron.WithChain(cron.SkipIfStillRunning(log), cron.Recover(log)))
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrBatchInProgress) {
			logger.Log.WithError(err).Error("payout: прогон завершился ошибкой")
		}
	}); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeConfiguration, "payout: неверное расписание "+s.cfg.Schedule)
	}

	s.cron = c
	c.Start()
	logger.Log.WithFields(logrus.Fields{
		"schedule":   s.cfg.Schedule,
		"batch_size": s.cfg.BatchSize,
	}).Info("payout: планировщик запущен")
	return nil
}

// Stop ждёт завершения текущего прогона.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// ListEligible возвращает сессии, ожидающие выплаты, старые первыми.
// Сессии, отложенные после неудачной попытки, не возвращаются до наступления следующей попытки.
func (s *Scheduler) ListEligible(ctx context.Context, limit int) ([]*entity.Session, error) {
	if limit <= 0 || limit > s.cfg.BatchSize {
		limit = s.cfg.BatchSize
	}
	return s.sessions.ListPayoutCandidates(ctx, s.now().UTC(), limit)
}

// FindPayout возвращает выплату по сессии.
func (s *Scheduler) FindPayout(ctx context.Context, sessionID uuid.UUID) (*entity.Payout, error) {
	return s.sessions.FindPayoutBySession(ctx, sessionID)
}

// RunOnce выплачивает одну пачку. Ошибка по отдельной сессии не прерывает прогон,
// а откладывает эту сессию. Прогон укладывается в 4/5 LockTTL, блокировка не продлевается.
func (s *Scheduler) RunOnce(ctx context.Context) (BatchResult, error) {
	var result BatchResult
	started := time.Now()

	unlock, acquired, err := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
	if err != nil {
		metrics.RecordPayoutBatch("error", time.Since(started))
		return result, err
	}
	if !acquired {
		metrics.RecordPayoutBatch("locked", time.Since(started))
		return result, ErrBatchInProgress
	}
	defer unlock()

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTTL-s.cfg.LockTTL/5)
	defer cancel()

	eligible, err := s.ListEligible(runCtx, s.cfg.BatchSize)
	if err != nil {
		metrics.RecordPayoutBatch("error", time.Since(started))
		return result, err
	}

	for _, sess := range eligible {
		if runCtx.Err() != nil {
			logger.Log.WithField("remaining", len(eligible)-result.Scanned).
				Warn("payout: прогон остановлен до истечения блокировки")
			break
		}
		result.Scanned++
		p, outcome := s.payOne(runCtx, sess)
		switch outcome {
		case resultPaid:
			result.Paid++
			result.NetCents += p.NetCents
			metrics.RecordPayout(outcome, int64(p.NetCents))
		case resultSkipped:
			result.Skipped++
			metrics.RecordPayout(outcome, 0)
		default:
			result.Failed++
			metrics.RecordPayout(outcome, 0)
		}
	}

	outcome := "ok"
	if result.Failed > 0 {
		outcome = "partial"
	}
	metrics.RecordPayoutBatch(outcome, time.Since(started))
	logger.Log.WithFields(logrus.Fields{
		"scanned":   result.Scanned,
		"paid":      result.Paid,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
		"net_cents": result.NetCents,
	}).Info("payout: прогон завершён")
	return result, nil
}

func (s *Scheduler) payOne(ctx context.Context, sess *entity.Session) (*entity.Payout, string) {
	log := logger.Log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"seller_id":  sess.SellerID,
	})

	p, err := entity.NewPayout(sess, s.now().UTC())
	if err != nil {
		log.WithError(err).Warn("payout: сессия не подлежит выплате")
		s.deferSession(ctx, sess.ID, err)
		return nil, resultSkipped
	}

	ref, err := s.executor.Execute(ctx, p, sess.ID.String())
	if err != nil {
		log.WithError(err).Error("payout: внешний перевод не выполнен")
		// Перевод, прерванный лимитом прогона, повторяется в следующем прогоне без паузы.
		if ctx.Err() == nil {
			s.deferSession(ctx, sess.ID, err)
		}
		return nil, resultFailed
	}
	p.ExternalRef = ref

	// Перевод уже выполнен: статус фиксируется даже после отмены ctx.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	_, err = s.machine.MarkPaidOut(commitCtx, sess.ID, func(ctx context.Context, tx repository.Tx, _ *entity.Session) error {
		return tx.CreatePayout(ctx, p)
	})
	switch {
	case err == nil:
	case apperror.IsInvalidStateTransition(err):
		// Сессию уже выплатил параллельный прогон.
		log.WithError(err).Info("payout: сессия уже выплачена")
		return nil, resultSkipped
	default:
		log.WithFields(logrus.Fields{"external_ref": ref}).WithError(err).
			Error("payout: перевод выполнен, но статус не зафиксирован")
		s.deferSession(commitCtx, sess.ID, err)
		return nil, resultFailed
	}

	log.WithFields(logrus.Fields{
		"gross_cents":  p.GrossCents,
		"net_cents":    p.NetCents,
		"external_ref": ref,
	}).Info("payout: выплата проведена")
	return p, resultPaid
}

// deferSession записывает неудачу и откладывает следующую попытку по сессии.
func (s *Scheduler) deferSession(ctx context.Context, sessionID uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	log := logger.Log.WithField("session_id", sessionID)
	attempt, err := s.sessions.FindPayoutAttempt(ctx, sessionID)
	if err != nil {
		log.WithError(err).Error("payout: не удалось прочитать попытки выплаты")
		return
	}
	if attempt == nil {
		attempt = &entity.PayoutAttempt{SessionID: sessionID}
	}
	attempt.Fail(cause.Error(), s.cfg.RetryBackoff, s.cfg.MaxRetryBackoff, s.now().UTC())
	if err := s.sessions.SavePayoutAttempt(ctx, attempt); err != nil {
		log.WithError(err).Error("payout: не удалось отложить сессию")
		return
	}
	log.WithFields(logrus.Fields{
		"attempts":        attempt.Attempts,
		"next_attempt_at": attempt.NextAttemptAt,
	}).Warn("payout: сессия отложена")
}

// cronLogger направляет журнал cron в logrus.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func kvFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return fields
}
