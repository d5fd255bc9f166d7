package svc

import (
	"log"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"tradekit/internal/config"
	"tradekit/internal/engine"
	"tradekit/internal/repo"
	"tradekit/internal/statestore"
	"tradekit/pkg/confkit"
	exchangepkg "tradekit/pkg/exchange"
	"tradekit/pkg/exchange/sim"
	"tradekit/pkg/journal"
	"tradekit/pkg/notify"
	"tradekit/pkg/recovery"
	riskpkg "tradekit/pkg/risk"
)

// ServiceContext wires every runtime dependency of the bot from the loaded
// configuration: exchange providers, risk manager, journal, state store,
// optional Postgres repo and Telegram notifier, and the engine on top.
type ServiceContext struct {
	Config *config.Config

	ExchangeProviders map[string]exchangepkg.Provider
	Exchange          exchangepkg.Provider

	Journal  *journal.Writer
	Risk     *riskpkg.Manager
	Registry *recovery.Registry
	States   *statestore.Store

	DBConn   sqlx.SqlConn
	Trades   repo.TradesRepo
	Notifier *notify.Client

	Exiter *engine.Exiter
	Entry  *engine.EntryPipeline
}

func NewServiceContext(c *config.Config) *ServiceContext {
	svc := &ServiceContext{Config: c}
	baseDir := c.BaseDir()

	// Exchange providers. Without an exchange config the bot runs against
	// the in-process simulator.
	if c.Exchange.Value != nil {
		exchangeCfg := c.Exchange.Value
		if c.IsTestEnv() {
			for _, provider := range exchangeCfg.Providers {
				provider.Testnet = true
			}
		}
		providers, err := exchangeCfg.BuildProviders()
		if err != nil {
			log.Fatalf("failed to build exchange providers: %v", err)
		}
		svc.ExchangeProviders = providers
		if exchangeCfg.Default != "" {
			svc.Exchange = providers[exchangeCfg.Default]
		}
	}
	if svc.Exchange == nil {
		svc.Exchange = sim.New()
	}

	svc.Journal = journal.NewWriter(confkit.ResolvePath(baseDir, c.JournalDir))
	svc.Risk = riskpkg.NewManager(c.Risk.Value)
	svc.Registry = recovery.NewRegistry(0)
	states, err := statestore.New(confkit.ResolvePath(baseDir, c.StatePath))
	if err != nil {
		log.Fatalf("failed to init state store: %v", err)
	}
	svc.States = states

	if c.Postgres.DSN != "" {
		conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		trades, err := repo.NewTradesRepo(conn)
		if err != nil {
			log.Fatalf("failed to init trades repo: %v", err)
		}
		svc.DBConn = conn
		svc.Trades = trades
	}

	if c.Telegram.Token != "" {
		client, err := notify.NewClient(c.Telegram.Token, c.Telegram.ChatID)
		if err != nil {
			log.Fatalf("failed to init telegram notifier: %v", err)
		}
		svc.Notifier = client
	}

	deps := engine.Deps{
		Provider:   svc.Exchange,
		Journal:    svc.Journal,
		Risk:       svc.Risk,
		Registry:   svc.Registry,
		ExitConfig: c.Exit.Value,
	}
	if svc.Trades != nil {
		deps.Trades = svc.Trades
	}
	if svc.Notifier != nil {
		deps.Notifier = svc.Notifier
	}

	exiter, err := engine.NewExiter(deps)
	if err != nil {
		log.Fatalf("failed to init exit engine: %v", err)
	}
	pipeline, err := engine.NewEntryPipeline(deps, exiter)
	if err != nil {
		log.Fatalf("failed to init entry pipeline: %v", err)
	}
	svc.Exiter = exiter
	svc.Entry = pipeline

	// Restore persisted engine state from the previous run, if any.
	snapshot, err := svc.States.Load()
	if err != nil {
		log.Fatalf("failed to load engine state: %v", err)
	}
	if snapshot != nil {
		for id, state := range snapshot.PositionStates {
			svc.Exiter.Track(id, state)
		}
		svc.Risk.Restore(snapshot.RiskStatus)
	}
	return svc
}

// SaveState persists the current engine state for the next run.
func (s *ServiceContext) SaveState() error {
	return s.States.Save(&statestore.Snapshot{
		PositionStates: s.Exiter.States(),
		RiskStatus:     s.Risk.Snapshot(),
	})
}
