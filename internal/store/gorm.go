package store

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// tokenRecord is the gorm model backing the `tokens` table.
type tokenRecord struct {
	Mint       string `gorm:"primaryKey;type:varchar(64)"`
	Creator    string `gorm:"type:varchar(64)"`
	LaunchedAt int64  `gorm:"index"`
	Migrated   bool
}

func (tokenRecord) TableName() string { return "tokens" }

// tokenMetricRecord is the gorm model backing the `token_metrics` time
// series table; one row per aggregator tick per token.
type tokenMetricRecord struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Mint         string `gorm:"index;type:varchar(64)"`
	CalculatedAt int64  `gorm:"index"`
	Score        float64
	Signal       string `gorm:"type:varchar(20)"`
	VolumeScore  float64
	HolderScore  float64
	LiquidityScore float64
	SafetyScore  float64
}

func (tokenMetricRecord) TableName() string { return "token_metrics" }

// signalRecord is the gorm model backing the `signals` table.
type signalRecord struct {
	ID         string `gorm:"primaryKey;type:varchar(64)"`
	Mint       string `gorm:"index;type:varchar(64)"`
	Type       string `gorm:"type:varchar(20)"`
	Score      float64
	Breakdown  string `gorm:"type:text"` // JSON-encoded map[string]float64
	Time       int64  `gorm:"index"`
	Executed   bool
	ExecutedAt *int64
	Result     string `gorm:"type:varchar(20)"`
}

func (signalRecord) TableName() string { return "signals" }

// tradeRecord is the gorm model backing the `trades` table.
type tradeRecord struct {
	ID             string `gorm:"primaryKey;type:varchar(64)"`
	Mint           string `gorm:"index;type:varchar(64)"`
	Side           string `gorm:"type:varchar(8)"`
	AmountLamports uint64
	SlippageBps    int
	PriorityFeeLamports uint64
	Status         string `gorm:"type:varchar(20)"`
	Wallet         string `gorm:"type:varchar(64)"`
	CreatedAt      int64  `gorm:"index"`
	Route          string `gorm:"type:varchar(40)"`
	PositionID     string `gorm:"type:varchar(64)"`
	ExitReason     string `gorm:"type:varchar(20)"`
}

func (tradeRecord) TableName() string { return "trades" }

// positionRecord is the gorm model backing the `positions` table.
type positionRecord struct {
	ID               string `gorm:"primaryKey;type:varchar(64)"`
	Mint             string `gorm:"index;type:varchar(64)"`
	Status           string `gorm:"type:varchar(20)"`
	Wallet           string `gorm:"type:varchar(64)"`
	EntryPrice       float64
	EntryTime        int64 `gorm:"index"`
	InitialAmount    uint64
	CurrentAmount    uint64
	CostBasisLamports uint64
	RealizedPnLLamports int64
	ExitReason       string `gorm:"type:varchar(20)"`
}

func (positionRecord) TableName() string { return "positions" }

// botStateRecord is the single-row (id=1) `bot_state` table.
type botStateRecord struct {
	ID    uint   `gorm:"primaryKey"`
	Value string `gorm:"type:longtext"`
}

func (botStateRecord) TableName() string { return "bot_state" }

// GormStore is the MySQL-backed Store implementation used in live
// deployments, grounded on the teacher pack's blackholedex MySQLRecorder
// (gorm.Open + AutoMigrate + a per-table record struct).
type GormStore struct {
	dsn string
	db  *gorm.DB
}

// NewGormStore creates a MySQL-backed store for dsn; Open must be called
// before use.
func NewGormStore(dsn string) *GormStore {
	return &GormStore{dsn: dsn}
}

// Open connects and auto-migrates every table this store owns.
func (s *GormStore) Open(ctx context.Context) error {
	db, err := gorm.Open(mysql.Open(s.dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return fmt.Errorf("store: connect mysql: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(
		&tokenRecord{}, &tokenMetricRecord{}, &signalRecord{}, &tradeRecord{}, &positionRecord{}, &botStateRecord{},
	); err != nil {
		return fmt.Errorf("store: automigrate: %w", err)
	}
	s.db = db
	return nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertToken inserts or refreshes a tracked token's row.
func (s *GormStore) UpsertToken(ctx context.Context, token types.TokenId, creator string, launchedAt types.Timestamp) error {
	rec := tokenRecord{Mint: token.String(), Creator: creator, LaunchedAt: int64(launchedAt)}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// SaveTokenMetrics appends one aggregator-tick row to the time series.
func (s *GormStore) SaveTokenMetrics(ctx context.Context, token types.TokenId, m types.MomentumMetrics) error {
	rec := tokenMetricRecord{
		Mint: token.String(), CalculatedAt: int64(m.CalculatedAt), Score: m.Score, Signal: string(m.Signal),
		VolumeScore: m.VolumeScore, HolderScore: m.HolderScore, LiquidityScore: m.LiquidityScore, SafetyScore: m.SafetyScore,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// SaveSignals writes a batch of signal records in a single transaction
// (spec.md section 5, "buffered, batch of 50").
func (s *GormStore) SaveSignals(ctx context.Context, signals []types.SignalRecord) error {
	if len(signals) == 0 {
		return nil
	}
	recs := make([]signalRecord, 0, len(signals))
	for _, sig := range signals {
		breakdown, _ := json.Marshal(sig.Breakdown)
		var executedAt *int64
		if sig.ExecutedAt != nil {
			v := int64(*sig.ExecutedAt)
			executedAt = &v
		}
		recs = append(recs, signalRecord{
			ID: sig.ID, Mint: sig.Token.String(), Type: string(sig.Type), Score: sig.Score,
			Breakdown: string(breakdown), Time: int64(sig.Time), Executed: sig.Executed,
			ExecutedAt: executedAt, Result: sig.Result,
		})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&recs).Error
	})
}

// SaveTrade writes one order row.
func (s *GormStore) SaveTrade(ctx context.Context, order types.Order) error {
	rec := tradeRecord{
		ID: order.ID, Mint: order.Token.String(), Side: string(order.Side), AmountLamports: uint64(order.Amount),
		SlippageBps: order.SlippageBps, PriorityFeeLamports: uint64(order.PriorityFee), Status: string(order.Status),
		Wallet: order.Wallet, CreatedAt: int64(order.CreatedAt), Route: order.Route,
		PositionID: order.PositionID, ExitReason: string(order.ExitReason),
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// SavePosition upserts a position's current state.
func (s *GormStore) SavePosition(ctx context.Context, pos types.Position) error {
	rec := positionRecord{
		ID: pos.ID, Mint: pos.Token.String(), Status: string(pos.Status), Wallet: pos.Wallet,
		EntryPrice: pos.EntryPrice, EntryTime: int64(pos.EntryTime), InitialAmount: pos.InitialAmount,
		CurrentAmount: pos.CurrentAmount, CostBasisLamports: uint64(pos.CostBasis),
		RealizedPnLLamports: int64(pos.RealizedPnL), ExitReason: string(pos.ExitReason),
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// SaveBotState upserts the single bot_state row (id=1).
func (s *GormStore) SaveBotState(ctx context.Context, state BotState) error {
	raw, err := state.Marshal()
	if err != nil {
		return err
	}
	rec := botStateRecord{ID: 1, Value: string(raw)}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// LoadBotState reads the single bot_state row, if any.
func (s *GormStore) LoadBotState(ctx context.Context) (BotState, bool, error) {
	var rec botStateRecord
	err := s.db.WithContext(ctx).First(&rec, 1).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return BotState{}, false, nil
		}
		return BotState{}, false, err
	}
	var state BotState
	if err := json.Unmarshal([]byte(rec.Value), &state); err != nil {
		return BotState{}, false, err
	}
	return state, true, nil
}
