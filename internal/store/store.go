// Package store persists orders, fills, positions, and portfolio
// snapshots to a relational database through gorm. Postgres is the
// production target; a DSN without a postgres scheme opens sqlite, which
// the tests use.
package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tradesim/pkg/types"
)

// Order is the orders row. Status is updated in place as the order moves
// through its lifecycle.
type Order struct {
	ID         uuid.UUID        `gorm:"type:uuid;primaryKey"`
	Symbol     string           `gorm:"type:varchar(20);index"`
	Side       string           `gorm:"type:varchar(4)"`
	Quantity   int64
	OrderType  string           `gorm:"type:varchar(10)"`
	LimitPrice *decimal.Decimal `gorm:"type:numeric(18,6)"`
	StrategyID string           `gorm:"type:varchar(50)"`
	Status     string           `gorm:"type:varchar(20);index"`
	CreatedAt  time.Time
}

func (Order) TableName() string { return "orders" }

// Fill is one execution row. The surrogate key is the database's; the
// execution layer's fill id rides along for correlation.
type Fill struct {
	ID       uint            `gorm:"primaryKey;autoIncrement"`
	FillID   uuid.UUID       `gorm:"type:uuid;uniqueIndex"`
	OrderID  uuid.UUID       `gorm:"type:uuid;index"`
	Symbol   string          `gorm:"type:varchar(20);index"`
	Side     string          `gorm:"type:varchar(4)"`
	Quantity int64
	Price    decimal.Decimal `gorm:"type:numeric(18,6)"`
	FilledAt time.Time
}

func (Fill) TableName() string { return "fills" }

// Position is the latest state per symbol, upserted on every position
// update.
type Position struct {
	Symbol        string          `gorm:"type:varchar(20);primaryKey"`
	Quantity      int64
	AvgEntryPrice decimal.Decimal `gorm:"type:numeric(18,6)"`
	RealizedPnL   decimal.Decimal `gorm:"type:numeric(18,6)"`
	UpdatedAt     time.Time
}

func (Position) TableName() string { return "positions" }

// PortfolioSnapshot is one periodic equity observation.
type PortfolioSnapshot struct {
	ID                 uint            `gorm:"primaryKey;autoIncrement"`
	Cash               decimal.Decimal `gorm:"type:numeric(18,6)"`
	TotalEquity        decimal.Decimal `gorm:"type:numeric(18,6)"`
	TotalUnrealizedPnL decimal.Decimal `gorm:"type:numeric(18,6)"`
	TotalRealizedPnL   decimal.Decimal `gorm:"type:numeric(18,6)"`
	SnapshotAt         time.Time       `gorm:"index"`
}

func (PortfolioSnapshot) TableName() string { return "portfolio_snapshots" }

// Repository wraps the database handle with the simulator's query set.
type Repository struct {
	db *gorm.DB
}

// Open connects to the database named by dsn and migrates the schema.
// postgres:// and postgresql:// DSNs use the Postgres driver; anything
// else is treated as a sqlite path.
func Open(dsn string) (*Repository, error) {
	var (
		db  *gorm.DB
		err error
	)
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	} else {
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&Order{}, &Fill{}, &Position{}, &PortfolioSnapshot{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close releases the underlying connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertOrder inserts the order or, on conflict, refreshes all columns.
func (r *Repository) UpsertOrder(o types.OrderRequest) error {
	row := Order{
		ID:         o.ID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Quantity:   o.Quantity,
		OrderType:  string(o.Type),
		LimitPrice: o.LimitPrice,
		StrategyID: o.StrategyID,
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// UpdateOrderStatus sets the status of one order.
func (r *Repository) UpdateOrderStatus(id uuid.UUID, status types.OrderStatus) error {
	return r.db.Model(&Order{}).
		Where("id = ?", id).
		Update("status", string(status)).Error
}

// InsertFill appends one fill. Replayed fills with a known fill id are
// ignored.
func (r *Repository) InsertFill(f types.Fill) error {
	row := Fill{
		FillID:   f.ID,
		OrderID:  f.OrderID,
		Symbol:   f.Symbol,
		Side:     string(f.Side),
		Quantity: f.Quantity,
		Price:    f.Price,
		FilledAt: f.FilledAt,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fill_id"}},
		DoNothing: true,
	}).Create(&row).Error
}

// UpsertPosition stores the latest position state for a symbol.
func (r *Repository) UpsertPosition(p types.Position) error {
	row := Position{
		Symbol:        p.Symbol,
		Quantity:      p.Quantity,
		AvgEntryPrice: p.AvgEntryPrice,
		RealizedPnL:   p.RealizedPnL,
		UpdatedAt:     time.Now().UTC(),
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// InsertSnapshot appends one portfolio snapshot.
func (r *Repository) InsertSnapshot(s types.PortfolioSnapshot) error {
	row := PortfolioSnapshot{
		Cash:               s.Cash,
		TotalEquity:        s.TotalEquity,
		TotalUnrealizedPnL: s.TotalUnrealizedPnL,
		TotalRealizedPnL:   s.TotalRealizedPnL,
		SnapshotAt:         s.SnapshotAt,
	}
	return r.db.Create(&row).Error
}

// Orders returns all orders, newest first.
func (r *Repository) Orders() ([]Order, error) {
	var out []Order
	err := r.db.Order("created_at DESC").Find(&out).Error
	return out, err
}

// OrdersByStatus returns orders with the given status, newest first.
func (r *Repository) OrdersByStatus(status types.OrderStatus) ([]Order, error) {
	var out []Order
	err := r.db.Where("status = ?", string(status)).
		Order("created_at DESC").Find(&out).Error
	return out, err
}

// FillsForOrder returns the fills of one order in execution order.
func (r *Repository) FillsForOrder(orderID uuid.UUID) ([]Fill, error) {
	var out []Fill
	err := r.db.Where("order_id = ?", orderID).
		Order("filled_at ASC").Find(&out).Error
	return out, err
}

// Positions returns the stored position rows.
func (r *Repository) Positions() ([]Position, error) {
	var out []Position
	err := r.db.Order("symbol ASC").Find(&out).Error
	return out, err
}

// Snapshots returns the most recent limit snapshots, newest first.
func (r *Repository) Snapshots(limit int) ([]PortfolioSnapshot, error) {
	var out []PortfolioSnapshot
	err := r.db.Order("snapshot_at DESC").Limit(limit).Find(&out).Error
	return out, err
}
