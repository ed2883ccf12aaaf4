package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"camperpark/internal/anpr"
	"camperpark/internal/auth"
	"camperpark/internal/blacklist"
	"camperpark/internal/cache"
	"camperpark/internal/config"
	"camperpark/internal/db"
	httpserver "camperpark/internal/http"
	"camperpark/internal/http/handlers"
	"camperpark/internal/ledger"
	"camperpark/internal/models"
	"camperpark/internal/notify"
	"camperpark/internal/printer"
	"camperpark/internal/registry"
	"camperpark/internal/store"
	"camperpark/internal/store/memory"
	"camperpark/internal/store/postgres"
)

// App wires the front office dependencies.
type App struct {
	server      *httpserver.Server
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	st, sqlDB, err := newStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	closeOnErr := func() {
		if sqlDB != nil {
			sqlDB.Close()
		}
	}

	var (
		redisClient *redis.Client
		board       *cache.OccupancyBoard
		occupancy   registry.OccupancyCache
	)
	if cfg.Redis.Addr != "" {
		redisClient, err = cache.NewClient(cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			closeOnErr()
			return nil, err
		}
		board = cache.NewOccupancyBoard(redisClient)
		occupancy = board
		if err := rebuildBoard(context.Background(), st, board); err != nil {
			logger.Warn("failed to rebuild occupancy board", zap.Error(err))
		}
	} else {
		logger.Info("redis not configured, occupancy board disabled")
	}

	var ticketPrinter printer.Printer
	if cfg.Printer.SpoolDir != "" {
		ticketPrinter, err = printer.NewSpoolPrinter(cfg.Printer.SpoolDir)
		if err != nil {
			closeOnErr()
			return nil, err
		}
	}

	var notifier notify.Notifier
	if cfg.SMTP.Addr != "" {
		notifier = notify.NewSMTPNotifier(notify.SMTPConfig{
			Addr:     cfg.SMTP.Addr,
			From:     cfg.SMTP.From,
			To:       cfg.SMTPRecipients(),
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		})
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	tokens := auth.NewTokenService(cfg.JWT.Secret, cfg.JWTExpiration())
	authService := auth.NewService(st, tokens, logger)

	tracker := blacklist.New(st, logger)
	cashLedger := ledger.New(st, notifier, logger)
	reg := registry.New(st, tracker, occupancy, ticketPrinter, logger)
	feed := anpr.NewFeed(reg, logger)

	routes := httpserver.Routes{
		Login:    handlers.NewLoginHandler(authService),
		Health:   handlers.NewHealthHandler(),
		ANPRFeed: feed.Handle,

		ListStays:      handlers.NewListStaysHandler(reg),
		StayPrice:      handlers.NewStayPriceHandler(reg),
		Detect:         handlers.NewDetectHandler(reg),
		CheckIn:        handlers.NewCheckInHandler(reg, logger),
		ManualEntry:    handlers.NewManualEntryHandler(reg),
		Prepay:         handlers.NewPrepayHandler(reg),
		Extend:         handlers.NewExtendHandler(reg),
		CheckOut:       handlers.NewCheckOutHandler(reg),
		MarkSinpa:      handlers.NewMarkSinpaHandler(reg),
		Discard:        handlers.NewDiscardHandler(reg),
		DeleteCheckout: handlers.NewDeleteCheckoutHandler(reg),
		Dashboard:      handlers.NewDashboardHandler(reg),
		Occupancy:      handlers.NewOccupancyHandler(board, logger),
		History:        handlers.NewHistoryHandler(reg),

		OpenSession:      handlers.NewOpenSessionHandler(cashLedger),
		ActiveSession:    handlers.NewActiveSessionHandler(cashLedger),
		LastClosing:      handlers.NewLastClosingHandler(cashLedger),
		PreClose:         handlers.NewPreCloseHandler(cashLedger),
		CloseSession:     handlers.NewCloseSessionHandler(cashLedger),
		Withdraw:         handlers.NewWithdrawHandler(cashLedger),
		ProductSale:      handlers.NewProductSaleHandler(cashLedger),
		PendingTransfers: handlers.NewPendingTransfersHandler(cashLedger, reg),
		ConfirmTransfer:  handlers.NewConfirmTransferHandler(cashLedger),
		TransferSinpa:    handlers.NewTransferSinpaHandler(cashLedger),
		UndoTransaction:  handlers.NewUndoTransactionHandler(cashLedger),

		ListBlacklist:    handlers.NewListBlacklistHandler(tracker),
		CheckBlacklist:   handlers.NewCheckBlacklistHandler(tracker),
		AddBlacklist:     handlers.NewAddBlacklistHandler(tracker),
		ResolveBlacklist: handlers.NewResolveBlacklistHandler(tracker),
	}

	router := httpserver.NewRouter(routes, auth.Middleware(tokens))
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server:      server,
		db:          sqlDB,
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

// newStore selects the backend: postgres when a DSN is configured, otherwise
// the in-memory store with the default spot layout.
func newStore(cfg *config.Config, logger *zap.Logger) (store.Store, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		logger.Info("no database configured, using in-memory store")
		st := memory.New(memory.DefaultLayout())
		if cfg.Admin.Password != "" {
			hash, err := auth.HashPassword(cfg.Admin.Password)
			if err != nil {
				return nil, nil, err
			}
			st.SeedUser(models.User{
				Username:     cfg.Admin.Username,
				PasswordHash: hash,
				Role:         "admin",
				Active:       true,
				CreatedAt:    time.Now().UTC(),
			})
		}
		return st, nil, nil
	}

	sqlDB, err := db.NewPostgres(cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	st := postgres.New(sqlDB)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.EnsureSchema(ctx); err != nil {
		sqlDB.Close()
		return nil, nil, err
	}
	if err := st.SeedSpots(ctx, memory.DefaultLayout()); err != nil {
		sqlDB.Close()
		return nil, nil, err
	}
	if cfg.Admin.Password != "" {
		hash, err := auth.HashPassword(cfg.Admin.Password)
		if err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		err = st.SeedUser(ctx, models.User{
			Username:     cfg.Admin.Username,
			PasswordHash: hash,
			Role:         "admin",
			Active:       true,
		})
		if err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
	}
	return st, sqlDB, nil
}

// rebuildBoard reloads the redis board from the active stays so a restart
// does not leave stale occupancy behind.
func rebuildBoard(ctx context.Context, st store.Store, board *cache.OccupancyBoard) error {
	stays, err := st.ListStays(ctx, models.StayActive)
	if err != nil {
		return err
	}
	occupancies := make([]cache.SpotOccupancy, 0, len(stays))
	for _, stay := range stays {
		if stay.SpotID == nil {
			continue
		}
		spot, err := st.GetSpot(ctx, *stay.SpotID)
		if err != nil {
			return err
		}
		vehicle, err := st.GetVehicle(ctx, stay.VehicleID)
		if err != nil {
			return err
		}
		since := time.Now().UTC()
		if stay.CheckInTime != nil {
			since = *stay.CheckInTime
		}
		occupancies = append(occupancies, cache.SpotOccupancy{
			SpotID:     spot.ID,
			SpotType:   spot.SpotType,
			SpotNumber: spot.SpotNumber,
			StayID:     stay.ID,
			Plate:      vehicle.Plate,
			Since:      since,
		})
	}
	return board.Rebuild(ctx, occupancies)
}

// Run starts the HTTP server.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
