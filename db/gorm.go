package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"UsefulTimer/config"
	"UsefulTimer/logger"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// KVEntry kv_entries 表中的一行，一个命名空间占一行
type KVEntry struct {
	Key       string `gorm:"primaryKey;size:191"`
	Value     string `gorm:"type:longtext"`
	UpdatedAt time.Time
}

func (KVEntry) TableName() string { return "kv_entries" }

// ConnectGormDB 建立 GORM 数据库连接并配置连接池
func ConnectGormDB(cfg *config.Config) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(cfg.MySQLDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		// 禁用外键约束
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database with GORM: %w", err)
	}

	// 获取底层的 sql.DB 并配置连接池
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logger.Info("Successfully connected to the database with GORM.", logger.String("host", cfg.DBHost))
	return gdb, nil
}

// GormKV 基于关系数据库的键值存储
type GormKV struct {
	db *gorm.DB
}

// NewGormKV 创建存储并自动迁移 kv_entries 表
func NewGormKV(gdb *gorm.DB) (*GormKV, error) {
	if err := gdb.AutoMigrate(&KVEntry{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate models: %w", err)
	}
	return &GormKV{db: gdb}, nil
}

func (g *GormKV) Get(ctx context.Context, key string) (string, bool, error) {
	var entry KVEntry
	err := g.db.WithContext(ctx).Where("`key` = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return entry.Value, true, nil
}

func (g *GormKV) Set(ctx context.Context, key, value string) error {
	entry := KVEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (g *GormKV) Delete(ctx context.Context, key string) error {
	if err := g.db.WithContext(ctx).Where("`key` = ?", key).Delete(&KVEntry{}).Error; err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (g *GormKV) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭 GORM 数据库连接
func (g *GormKV) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
