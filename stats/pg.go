package stats

import (
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Share is one row per worker and minute.
type Share struct {
	Account    string    `gorm:"primaryKey;size:255"`
	Worker     string    `gorm:"primaryKey;size:255"`
	Timestamp  time.Time `gorm:"primaryKey;type:timestamp"`
	ShareCount int       `gorm:"not null"`
}

type PGStore struct{ db *gorm.DB }

func NewPGStore(dsn string) (*PGStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	s := &PGStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGStore) ensureSchema() error { return s.db.AutoMigrate(&Share{}) }

func (s *PGStore) Increment(account, worker string, minute time.Time) error {
	rec := Share{Account: account, Worker: worker, Timestamp: minute.Truncate(time.Minute), ShareCount: 1}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}, {Name: "worker"}, {Name: "timestamp"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"share_count": gorm.Expr("shares.share_count + EXCLUDED.share_count")}),
	}).Create(&rec).Error
}

func (s *PGStore) Get(account, worker string, minute time.Time) (int, error) {
	m := minute.Truncate(time.Minute)
	q := s.db.Model(&Share{}).Where("account = ? AND timestamp = ?", account, m)
	if worker != "" {
		q = q.Where("worker = ?", worker)
	}
	var total int64
	err := q.Select("COALESCE(SUM(share_count), 0)").Scan(&total).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return int(total), err
}

func (s *PGStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
