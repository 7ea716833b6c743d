package recon

import (
	"context"
	"log/slog"
	"time"

	"github.com/Spok95/shipment-recon/internal/domain/catalog"
	"github.com/Spok95/shipment-recon/internal/domain/codes"
	"github.com/Spok95/shipment-recon/internal/domain/orders"
	"github.com/Spok95/shipment-recon/internal/domain/shipments"
	"github.com/Spok95/shipment-recon/internal/infra/events"
	"github.com/Spok95/shipment-recon/internal/infra/metrics"
)

// Registry — реестр кодов внутри транзакции.
type Registry interface {
	LookupMaster(ctx context.Context, code string) (*codes.Master, error)
	LookupUnique(ctx context.Context, code string) (*codes.Unique, error)
	LookupMasters(ctx context.Context, list []string) ([]codes.Master, error)
	LookupUniques(ctx context.Context, list []string) ([]codes.Unique, error)
	LockMaster(ctx context.Context, id int64) (*codes.Master, error)
	Nested(ctx context.Context, masterID int64) ([]codes.Unique, error)
	Reserve(ctx context.Context, kind codes.Kind, code string, sessionID int64) (bool, error)
	Release(ctx context.Context, kind codes.Kind, list []string, sessionID int64) (int64, error)
	MarkShipped(ctx context.Context, kind codes.Kind, list []string, sessionID int64) (int64, error)
	ShipNested(ctx context.Context, masterIDs []int64, sessionID int64) (int64, error)
}

// SessionStore — хранилище сессий внутри транзакции.
type SessionStore interface {
	Get(ctx context.Context, id int64) (*shipments.Session, error)
	FindOpen(ctx context.Context, origin, destination int64) (*shipments.Session, error)
	Lock(ctx context.Context, id int64) (*shipments.Session, error)
	Create(ctx context.Context, s *shipments.Session) error
	Save(ctx context.Context, s *shipments.Session) error
	RecordIncident(ctx context.Context, inc shipments.Incident) (int64, error)
}

// Repos — репозитории, привязанные к одной транзакции.
type Repos struct {
	Codes    Registry
	Sessions SessionStore
}

// UnitOfWork выполняет fn в одной транзакции: ошибка из fn откатывает всё.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}

type Orders interface {
	FindQualifying(ctx context.Context, origin, destination int64) (*orders.Order, int, error)
}

// Ledger — журнал ручного (не QR) остатка. Отдельная подсистема со своими транзакциями.
type Ledger interface {
	GetBalance(ctx context.Context, warehouseID, variantID int64) (int64, error)
	Debit(ctx context.Context, actorID, warehouseID, variantID, qty int64, note string) (int64, error)
	Reverse(ctx context.Context, movementID int64, reason string) error
}

type Catalog interface {
	GetVariant(ctx context.Context, id int64) (*catalog.Variant, error)
}

type Config struct {
	BatchTimeout      time.Duration
	CommitTimeout     time.Duration
	KeepAliveInterval time.Duration
	MaxBatchSize      int
	ReversalAttempts  int
	ReversalBackoff   time.Duration
	EventTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Minute
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = 30 * time.Second
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 10 * time.Second
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 2000
	}
	if c.ReversalAttempts <= 0 {
		c.ReversalAttempts = 5
	}
	if c.ReversalBackoff <= 0 {
		c.ReversalBackoff = 200 * time.Millisecond
	}
	if c.EventTimeout <= 0 {
		c.EventTimeout = 2 * time.Second
	}
	return c
}

type Deps struct {
	UoW     UnitOfWork
	Orders  Orders
	Ledger  Ledger
	Catalog Catalog
	Events  events.Publisher
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

// Engine — сверка отгрузок: сессии, сканирование, подтверждение и отмена.
type Engine struct {
	cfg        Config
	classifier codes.Classifier
	uow        UnitOfWork
	orders     Orders
	ledger     Ledger
	catalog    Catalog
	events     events.Publisher
	metrics    *metrics.Metrics
	log        *slog.Logger
	now        func() time.Time
}

func New(cfg Config, classifier codes.Classifier, d Deps) *Engine {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	pub := d.Events
	if pub == nil {
		pub = events.NewLogPublisher(log)
	}
	return &Engine{
		cfg:        cfg.withDefaults(),
		classifier: classifier,
		uow:        d.UoW,
		orders:     d.Orders,
		ledger:     d.Ledger,
		catalog:    d.Catalog,
		events:     pub,
		metrics:    d.Metrics,
		log:        log,
		now:        time.Now,
	}
}

func (e *Engine) Classifier() codes.Classifier { return e.classifier }

// lockOpen блокирует сессию и проверяет, что её можно менять.
func (e *Engine) lockOpen(ctx context.Context, r Repos, id int64) (*shipments.Session, error) {
	s, err := r.Sessions.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	if !s.Status.Open() {
		return nil, ErrSessionClosed
	}
	if s.IncidentID != nil {
		return nil, ErrReconciliationRequired
	}
	if s.CommitInFlight(e.now(), e.cfg.CommitTimeout) {
		return nil, ErrSessionCommitting
	}
	return s, nil
}

// publish отправляет событие, но ждёт не дольше EventTimeout. События — уведомления,
// на исход операции не влияют; зависший брокер дописывает в фоне до того же срока.
func (e *Engine) publish(ctx context.Context, ev events.Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.EventTimeout)
	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- e.events.Publish(pctx, ev)
	}()

	timer := time.NewTimer(e.cfg.EventTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			e.log.Warn("publish event failed", "type", ev.Type, "session_id", ev.SessionID, "err", err)
		}
	case <-timer.C:
		e.log.Warn("publish event timed out", "type", ev.Type, "session_id", ev.SessionID, "timeout", e.cfg.EventTimeout)
	}
}
