package store

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/terpnesZcorno/trading-server/internal/errors"
	"github.com/terpnesZcorno/trading-server/internal/ledger"
	"github.com/terpnesZcorno/trading-server/pkg/exception"
)

type portfolioRecord struct {
	ID        int       `gorm:"column:id;primaryKey"`
	Document  []byte    `gorm:"column:document;type:jsonb"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (portfolioRecord) TableName() string { return "portfolios" }

type tradeRecord struct {
	ID          string    `gorm:"column:id;primaryKey"`
	PortfolioID int       `gorm:"column:portfolio_id;index"`
	Active      bool      `gorm:"column:active;index"`
	Document    []byte    `gorm:"column:document;type:jsonb"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (tradeRecord) TableName() string { return "trades" }

// Postgres stores portfolio documents in PostgreSQL via gorm.
type Postgres struct {
	db *gorm.DB
}

// NewPostgres creates the store and migrates its tables.
func NewPostgres(db *gorm.DB) (*Postgres, error) {
	if db == nil {
		return nil, exception.ErrNilInstance
	}
	if err := db.AutoMigrate(&portfolioRecord{}, &tradeRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate portfolio tables")
	}
	return &Postgres{db: db}, nil
}

// Load implements Store.
func (s *Postgres) Load(ctx context.Context, id int) (ledger.Portfolio, error) {
	var rec portfolioRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Portfolio{}, exception.ErrNotFound
	}
	if err != nil {
		return ledger.Portfolio{}, errors.Wrapf(err, "load portfolio %d", id)
	}

	var pf ledger.Portfolio
	if err := json.Unmarshal(rec.Document, &pf); err != nil {
		return ledger.Portfolio{}, errors.Wrapf(err, "decode portfolio %d", id)
	}
	return pf, nil
}

// Save implements Store. The portfolio document and its trade rows are
// replaced in one transaction, keyed on the portfolio's own id.
func (s *Postgres) Save(ctx context.Context, pf ledger.Portfolio) error {
	doc, err := json.Marshal(pf)
	if err != nil {
		return errors.Wrapf(err, "encode portfolio %d", pf.ID)
	}

	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"document", "updated_at"}),
		}).Create(&portfolioRecord{
			ID:        pf.ID,
			Document:  doc,
			UpdatedAt: now,
		})
		if res.Error != nil {
			return errors.Wrapf(res.Error, "save portfolio %d", pf.ID)
		}
		if res.RowsAffected != 1 {
			return exception.ErrWriteConflict
		}

		for i := range pf.Trades {
			trade := &pf.Trades[i]
			tradeDoc, err := json.Marshal(trade)
			if err != nil {
				return errors.Wrapf(err, "encode trade %s", trade.ID)
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"active", "document", "updated_at"}),
			}).Create(&tradeRecord{
				ID:          trade.ID,
				PortfolioID: pf.ID,
				Active:      trade.Active,
				Document:    tradeDoc,
				UpdatedAt:   now,
			})
			if res.Error != nil {
				return errors.Wrapf(res.Error, "save trade %s", trade.ID)
			}
			if res.RowsAffected != 1 {
				return exception.ErrWriteConflict
			}
		}
		return nil
	})
}

// ActiveTrades implements TradeJournal.
func (s *Postgres) ActiveTrades(ctx context.Context, portfolioID int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&tradeRecord{}).
		Where("portfolio_id = ? AND active", portfolioID).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list active trades for portfolio %d", portfolioID)
	}
	return ids, nil
}
