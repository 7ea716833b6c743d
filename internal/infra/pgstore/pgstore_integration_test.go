package pgstore_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Spok95/shipment-recon/internal/dialog"
	"github.com/Spok95/shipment-recon/internal/domain/catalog"
	"github.com/Spok95/shipment-recon/internal/domain/codes"
	"github.com/Spok95/shipment-recon/internal/domain/inventory"
	"github.com/Spok95/shipment-recon/internal/domain/orders"
	"github.com/Spok95/shipment-recon/internal/domain/shipments"
	"github.com/Spok95/shipment-recon/internal/domain/users"
	"github.com/Spok95/shipment-recon/internal/infra/db"
	"github.com/Spok95/shipment-recon/internal/infra/pgstore"
	"github.com/Spok95/shipment-recon/internal/recon"
	"github.com/Spok95/shipment-recon/migrations"
)

type PostgresIntegrationTestSuite struct {
	suite.Suite
	container *postgres.PostgresContainer
	pool      *pgxpool.Pool
	ctx       context.Context

	engine  *recon.Engine
	ledger  *inventory.Repo
	codes   *codes.Repo
	catalog *catalog.Repo
	orders  *orders.Repo

	origin, dest int64
	variant      int64
}

func TestPostgresIntegration(t *testing.T) {
	if os.Getenv("SHIPMENTS_IT") != "1" {
		t.Skip("set SHIPMENTS_IT=1 to run postgres integration tests")
	}
	suite.Run(t, new(PostgresIntegrationTestSuite))
}

func (s *PostgresIntegrationTestSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := postgres.Run(s.ctx, "postgres:16-alpine",
		postgres.WithDatabase("shipments"),
		postgres.WithUsername("shipments"),
		postgres.WithPassword("shipments"),
		postgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	sqlDB, err := goose.OpenDBWithDriver("postgres", dsn)
	s.Require().NoError(err)
	goose.SetBaseFS(migrations.FS)
	s.Require().NoError(goose.Up(sqlDB, "."))
	s.Require().NoError(sqlDB.Close())

	s.pool, err = db.Connect(s.ctx, dsn, 8)
	s.Require().NoError(err)

	s.ledger = inventory.NewRepo(s.pool)
	s.codes = codes.NewRepo(s.pool)
	s.catalog = catalog.NewRepo(s.pool)
	s.orders = orders.NewRepo(s.pool)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.engine = recon.New(recon.Config{ReversalBackoff: time.Millisecond}, codes.Classifier{MasterPrefix: "CASE-"}, recon.Deps{
		UoW:     pgstore.NewUnitOfWork(s.pool),
		Orders:  s.orders,
		Ledger:  s.ledger,
		Catalog: s.catalog,
		Log:     log,
	})

	wh, err := s.catalog.CreateWarehouse(s.ctx, "Main", catalog.WHTWarehouse)
	s.Require().NoError(err)
	store, err := s.catalog.CreateWarehouse(s.ctx, "Store 1", catalog.WHTStore)
	s.Require().NoError(err)
	v, err := s.catalog.CreateVariant(s.ctx, "LIP-01", "Помада", "")
	s.Require().NoError(err)
	s.origin, s.dest, s.variant = wh.ID, store.ID, v.ID
}

func (s *PostgresIntegrationTestSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		s.NoError(testcontainers.TerminateContainer(s.container))
	}
}

func (s *PostgresIntegrationTestSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `
		TRUNCATE reconciliation_incidents, shipment_sessions, unique_codes, master_codes,
		         order_lines, orders, movements, balances, dialog_states, operators
	`)
	s.Require().NoError(err)
}

func (s *PostgresIntegrationTestSuite) seedCase(code string, units int64, inside ...string) {
	m, err := s.codes.CreateMaster(s.ctx, code, units, s.variant)
	s.Require().NoError(err)
	for _, u := range inside {
		_, err := s.codes.CreateUnique(s.ctx, u, s.variant, &m.ID)
		s.Require().NoError(err)
	}
}

func (s *PostgresIntegrationTestSuite) TestScanAndConfirmWithManualStock() {
	s.seedCase("CASE-001", 24, "U-1", "U-2")
	_, err := s.codes.CreateUnique(s.ctx, "U-3", s.variant, nil)
	s.Require().NoError(err)
	_, err = s.orders.Create(s.ctx, s.dest, s.origin, orders.StatusApproved, []orders.Line{{VariantID: s.variant, Qty: 27}})
	s.Require().NoError(err)
	_, err = s.ledger.Receive(s.ctx, 0, s.origin, s.variant, 10, "seed")
	s.Require().NoError(err)

	v, err := s.engine.GetOrCreateSession(s.ctx, s.origin, s.dest)
	s.Require().NoError(err)
	s.Require().NotNil(v.Session.Expected)
	s.EqualValues(27, v.Session.Expected.TotalUnits)

	id := v.Session.ID
	for _, c := range []string{"CASE-001", "U-1", "U-3"} {
		res, err := s.engine.ScanOne(s.ctx, id, c)
		s.Require().NoError(err)
		s.Equal(recon.OutcomeShipped, res.Outcome, c)
	}
	dup, err := s.engine.ScanOne(s.ctx, id, "U-1")
	s.Require().NoError(err)
	s.Equal(recon.OutcomeDuplicate, dup.Outcome)

	v, err = s.engine.GetSession(s.ctx, id)
	s.Require().NoError(err)
	s.EqualValues(25, v.Stats.FinalTotal)
	s.EqualValues(1, v.Stats.Overlap)

	conf, err := s.engine.Confirm(s.ctx, id, recon.ConfirmRequest{ManualVariantID: s.variant, ManualQty: 2})
	s.Require().NoError(err)
	s.EqualValues(25, conf.UnitsShipped)
	s.EqualValues(2, conf.ManualUnitsShipped)

	bal, err := s.ledger.GetBalance(s.ctx, s.origin, s.variant)
	s.Require().NoError(err)
	s.EqualValues(8, bal)

	m, err := s.codes.LookupMaster(s.ctx, "CASE-001")
	s.Require().NoError(err)
	s.Equal(codes.StatusShipped, m.Status)
	// U-2 не сканировали отдельно, но он уехал в коробе
	u, err := s.codes.LookupUnique(s.ctx, "U-2")
	s.Require().NoError(err)
	s.Equal(codes.StatusShipped, u.Status)

	next, err := s.engine.GetOrCreateSession(s.ctx, s.origin, s.dest)
	s.Require().NoError(err)
	res, err := s.engine.ScanOne(s.ctx, next.Session.ID, "U-2")
	s.Require().NoError(err)
	s.Equal(recon.OutcomeAlreadyShipped, res.Outcome)

	again, err := s.engine.Confirm(s.ctx, id, recon.ConfirmRequest{})
	s.Require().NoError(err)
	s.Equal(conf.ShipmentRef, again.ShipmentRef)
}

func (s *PostgresIntegrationTestSuite) TestConcurrentOpenReturnsOneSession() {
	const n = 8
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.engine.GetOrCreateSession(s.ctx, s.origin, s.dest)
			s.NoError(err)
			if err == nil {
				ids[i] = v.Session.ID
			}
		}()
	}
	wg.Wait()
	for _, id := range ids {
		s.Equal(ids[0], id)
	}
}

func (s *PostgresIntegrationTestSuite) TestCancelReleasesCodes() {
	s.seedCase("CASE-002", 12)

	v, err := s.engine.GetOrCreateSession(s.ctx, s.origin, s.dest)
	s.Require().NoError(err)
	_, err = s.engine.ScanOne(s.ctx, v.Session.ID, "CASE-002")
	s.Require().NoError(err)

	v, err = s.engine.CancelSession(s.ctx, v.Session.ID)
	s.Require().NoError(err)
	s.Equal(shipments.StatusCancelled, v.Session.Status)

	m, err := s.codes.LookupMaster(s.ctx, "CASE-002")
	s.Require().NoError(err)
	s.Equal(codes.StatusPacked, m.Status)
	s.Nil(m.SessionID)
}

func (s *PostgresIntegrationTestSuite) TestBatchStream() {
	s.seedCase("CASE-003", 6, "U-30")

	v, err := s.engine.GetOrCreateSession(s.ctx, s.origin, s.dest)
	s.Require().NoError(err)
	events, err := s.engine.ScanBatch(s.ctx, v.Session.ID, []string{"CASE-003", "U-30", "CASE-003", "MISSING"})
	s.Require().NoError(err)

	var last recon.BatchEvent
	for ev := range events {
		last = ev
	}
	s.Require().Equal(recon.EventComplete, last.Type)
	s.Equal(recon.BatchSummary{Total: 4, Success: 2, Duplicates: 1, Errors: 1}, *last.Summary)
	s.EqualValues(6, last.Scanned.TotalUnits)
}

func (s *PostgresIntegrationTestSuite) TestOperatorAndDialogState() {
	ur := users.NewRepo(s.pool)
	op, err := ur.UpsertFromTelegram(s.ctx, users.Telegram{ID: 555, Username: "picker", FirstName: "Иван"})
	s.Require().NoError(err)
	s.Nil(op.WarehouseID)

	op, err = ur.SetWarehouse(s.ctx, op.ID, s.origin)
	s.Require().NoError(err)
	s.Require().NotNil(op.WarehouseID)
	s.Equal(s.origin, *op.WarehouseID)

	dr := dialog.NewRepo(s.pool)
	it, err := dr.Get(s.ctx, 555)
	s.Require().NoError(err)
	s.Equal(dialog.StateIdle, it.State)

	s.Require().NoError(dr.Set(s.ctx, 555, dialog.StateShipScanning, dialog.Payload{"session_id": int64(42)}))
	it, err = dr.Get(s.ctx, 555)
	s.Require().NoError(err)
	id, ok := it.SessionID()
	s.True(ok)
	s.EqualValues(42, id)

	s.Require().NoError(dr.Reset(s.ctx, 555))
	it, err = dr.Get(s.ctx, 555)
	s.Require().NoError(err)
	s.Equal(dialog.StateIdle, it.State)
}
