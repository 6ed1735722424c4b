package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// SQLBackend implements Backend using GORM over SQLite or Postgres.
type SQLBackend struct {
	db      *gorm.DB
	dialect string
}

// OpenSQLite opens a file-backed SQLite database.
func OpenSQLite(path string) (*SQLBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, unavailable("sqlite", errors.New("path is required"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, unavailable("sqlite", err)
	}
	dsn := path + "?_busy_timeout=5000&_txlock=immediate"
	return openSQL("sqlite", sqlite.Open(dsn))
}

// OpenPostgres connects to Postgres with the given DSN.
func OpenPostgres(dsn string) (*SQLBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, unavailable("postgres", errors.New("dsn is required"))
	}
	return openSQL("postgres", postgres.Open(dsn))
}

func openSQL(dialect string, dialector gorm.Dialector) (*SQLBackend, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, unavailable(dialect, err)
	}
	if dialect == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, unavailable(dialect, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&RecordModel{}, &RecordIndexModel{}, &KeyedRecordModel{}, &BlobModel{}); err != nil {
		closeGorm(db)
		return nil, unavailable(dialect, fmt.Errorf("auto migrate: %w", err))
	}
	return &SQLBackend{db: db, dialect: dialect}, nil
}

func closeGorm(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *SQLBackend) Kind() string { return s.dialect }

func (s *SQLBackend) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLBackend) GetAll(ctx context.Context, coll Collection) ([]Record, error) {
	if err := checkList(coll); err != nil {
		return nil, err
	}
	out, err := loadRecords(s.db.WithContext(ctx), coll)
	if err != nil {
		return nil, opFailed("get all", coll, err)
	}
	return out, nil
}

func (s *SQLBackend) GetAllByIndex(ctx context.Context, coll Collection, field, value string) ([]Record, error) {
	if err := checkList(coll); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	ids := db.Model(&RecordIndexModel{}).
		Select("record_id").
		Where("collection = ? AND field = ? AND value = ?", string(coll), field, value)
	var models []RecordModel
	if err := db.Where("collection = ? AND id IN (?)", string(coll), ids).
		Order("position ASC").
		Find(&models).Error; err != nil {
		return nil, opFailed("get by index", coll, err)
	}
	indexes, err := loadIndexes(db, coll)
	if err != nil {
		return nil, opFailed("get by index", coll, err)
	}
	out := make([]Record, 0, len(models))
	for _, m := range models {
		out = append(out, recordFromModel(m, indexes[m.ID]))
	}
	return out, nil
}

func (s *SQLBackend) ReplaceAll(ctx context.Context, coll Collection, records []Record) error {
	return s.Update(ctx, coll, func([]Record) ([]Record, error) {
		return records, nil
	})
}

func (s *SQLBackend) Update(ctx context.Context, coll Collection, fn func([]Record) ([]Record, error)) error {
	if err := checkList(coll); err != nil {
		return err
	}
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.dialect == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", string(coll)).Error; err != nil {
				return fmt.Errorf("lock collection: %w", err)
			}
		}
		current, err := loadRecords(tx, coll)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err == nil {
			err = checkUniqueIDs(coll, next)
		}
		if err != nil {
			fnErr = err
			return err
		}
		if err := tx.Where("collection = ?", string(coll)).Delete(&RecordModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("collection = ?", string(coll)).Delete(&RecordIndexModel{}).Error; err != nil {
			return err
		}
		if len(next) == 0 {
			return nil
		}
		models := make([]RecordModel, 0, len(next))
		var idx []RecordIndexModel
		for i, r := range next {
			models = append(models, recordToModel(coll, i, r))
			idx = append(idx, indexModels(coll, r)...)
		}
		if err := tx.CreateInBatches(&models, 200).Error; err != nil {
			return err
		}
		if len(idx) > 0 {
			return tx.CreateInBatches(&idx, 200).Error
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return opFailed("update", coll, err)
	}
	return nil
}

func (s *SQLBackend) GetSingleton(ctx context.Context, coll Collection, key string) (json.RawMessage, bool, error) {
	if err := checkKeyed(coll); err != nil {
		return nil, false, err
	}
	var model KeyedRecordModel
	err := s.db.WithContext(ctx).First(&model, "collection = ? AND record_key = ?", string(coll), key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, opFailed("get", coll, err)
	}
	return json.RawMessage(cloneBytes(model.Data)), true, nil
}

func (s *SQLBackend) UpsertSingleton(ctx context.Context, coll Collection, key string, data json.RawMessage) error {
	if err := checkKeyed(coll); err != nil {
		return err
	}
	model := KeyedRecordModel{
		Collection: string(coll),
		RecordKey:  key,
		Data:       cloneBytes(data),
		UpdatedAt:  time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "record_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return opFailed("upsert", coll, err)
	}
	return nil
}

func (s *SQLBackend) DeleteSingleton(ctx context.Context, coll Collection, key string) error {
	if err := checkKeyed(coll); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).
		Where("collection = ? AND record_key = ?", string(coll), key).
		Delete(&KeyedRecordModel{}).Error
	if err != nil {
		return opFailed("delete", coll, err)
	}
	return nil
}

func (s *SQLBackend) PutBlob(ctx context.Context, bookID string, data []byte) error {
	model := BlobModel{
		BookID:    bookID,
		Data:      cloneBytes(data),
		SizeBytes: int64(len(data)),
		UpdatedAt: time.Now().UTC(),
	}
	if model.Data == nil {
		model.Data = []byte{}
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "book_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "size_bytes", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return opFailed("put", blobCollection, err)
	}
	return nil
}

func (s *SQLBackend) GetBlob(ctx context.Context, bookID string) ([]byte, bool, error) {
	var model BlobModel
	err := s.db.WithContext(ctx).First(&model, "book_id = ?", bookID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, opFailed("get", blobCollection, err)
	}
	return model.Data, true, nil
}

func (s *SQLBackend) DeleteBlob(ctx context.Context, bookID string) error {
	if err := s.db.WithContext(ctx).Delete(&BlobModel{}, "book_id = ?", bookID).Error; err != nil {
		return opFailed("delete", blobCollection, err)
	}
	return nil
}

func loadRecords(db *gorm.DB, coll Collection) ([]Record, error) {
	var models []RecordModel
	if err := db.Where("collection = ?", string(coll)).Order("position ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	indexes, err := loadIndexes(db, coll)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(models))
	for _, m := range models {
		out = append(out, recordFromModel(m, indexes[m.ID]))
	}
	return out, nil
}

func loadIndexes(db *gorm.DB, coll Collection) (map[string]map[string]string, error) {
	var rows []RecordIndexModel
	if err := db.Where("collection = ?", string(coll)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]map[string]string)
	for _, row := range rows {
		if out[row.RecordID] == nil {
			out[row.RecordID] = make(map[string]string)
		}
		out[row.RecordID][row.Field] = row.Value
	}
	return out, nil
}
