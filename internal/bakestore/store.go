// Package bakestore keeps bake descriptors in a SQL database keyed by scene
// id. Descriptors are stored as msgpack blobs.
package bakestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/vmihailenco/msgpack/v5"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"crowdnav/internal/bake"
	"crowdnav/internal/telemetry"
)

// ErrNotFound is returned when a scene has no stored bake.
var ErrNotFound = errors.New("bake not found")

// SceneGorm is one stored bake.
type SceneGorm struct {
	SceneID   uint32 `gorm:"column:scene_id;type:bigint(20);primaryKey;autoIncrement:false"`
	Vertices  int    `gorm:"column:vertices;type:bigint(20)"`
	Triangles int    `gorm:"column:triangles;type:bigint(20)"`
	UpdatedAt int64  `gorm:"column:updated_at;type:bigint(20)"`
	Data      []byte `gorm:"column:data;type:longblob"`
}

func (s SceneGorm) TableName() string {
	return "scene_bake"
}

// SceneInfo summarises a stored bake without decoding it.
type SceneInfo struct {
	SceneID   uint32    `json:"sceneId"`
	Vertices  int       `json:"vertices"`
	Triangles int       `json:"triangles"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store wraps the database handle.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to driver ("sqlite" or "mysql") and migrates the schema.
func Open(driver, dsn string, logger telemetry.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported bake store driver %q", driver)
	}
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	if logger != nil {
		gormCfg.Logger = gormlogger.New(logger, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}
	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open %s bake store: %w", driver, err)
	}
	if strings.ToLower(driver) == "mysql" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("mysql handle: %w", err)
		}
		sqlDB.SetMaxIdleConns(4)
		sqlDB.SetMaxOpenConns(16)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return New(db)
}

// New migrates the schema on an existing handle.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(new(SceneGorm)); err != nil {
		return nil, fmt.Errorf("migrate bake store: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save validates desc and inserts or replaces the bake of its scene.
func (s *Store) Save(ctx context.Context, desc bake.Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	data, err := msgpack.Marshal(&desc)
	if err != nil {
		return fmt.Errorf("encode bake %d: %w", desc.SceneID, err)
	}
	row := SceneGorm{
		SceneID:   desc.SceneID,
		Vertices:  len(desc.Vertices),
		Triangles: len(desc.Triangles),
		UpdatedAt: s.now().UnixMilli(),
		Data:      data,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save bake %d: %w", desc.SceneID, err)
	}
	return nil
}

// Load returns the bake stored for sceneID.
func (s *Store) Load(ctx context.Context, sceneID uint32) (bake.Descriptor, error) {
	row := new(SceneGorm)
	err := s.db.WithContext(ctx).Where("scene_id = ?", sceneID).First(row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return bake.Descriptor{}, fmt.Errorf("%w: scene %d", ErrNotFound, sceneID)
		}
		return bake.Descriptor{}, fmt.Errorf("load bake %d: %w", sceneID, err)
	}
	desc, err := bake.Decode(row.Data, bake.FormatMsgpack)
	if err != nil {
		return bake.Descriptor{}, fmt.Errorf("scene %d: %w", sceneID, err)
	}
	return desc, nil
}

// List returns every stored scene ordered by id.
func (s *Store) List(ctx context.Context) ([]SceneInfo, error) {
	var rows []SceneGorm
	err := s.db.WithContext(ctx).
		Select("scene_id", "vertices", "triangles", "updated_at").
		Order("scene_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list bakes: %w", err)
	}
	infos := make([]SceneInfo, len(rows))
	for i, row := range rows {
		infos[i] = SceneInfo{
			SceneID:   row.SceneID,
			Vertices:  row.Vertices,
			Triangles: row.Triangles,
			UpdatedAt: time.UnixMilli(row.UpdatedAt),
		}
	}
	return infos, nil
}

// Delete removes the bake of sceneID.
func (s *Store) Delete(ctx context.Context, sceneID uint32) error {
	result := s.db.WithContext(ctx).Delete(&SceneGorm{SceneID: sceneID})
	if result.Error != nil {
		return fmt.Errorf("delete bake %d: %w", sceneID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: scene %d", ErrNotFound, sceneID)
	}
	return nil
}
