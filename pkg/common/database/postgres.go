package database

import (
	"fmt"
	"sync"
	"time"

	"github.com/energy-process/platform/pkg/common/config"
	"github.com/energy-process/platform/pkg/common/logger"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	db     *gorm.DB
	dbOnce sync.Once
)

func GetPostgres(cfg *config.Config) (*gorm.DB, error) {
	var err error
	dbOnce.Do(func() {
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.PostgresHost,
			cfg.PostgresUser,
			cfg.PostgresPassword,
			cfg.PostgresDB,
			cfg.PostgresPort,
			cfg.PostgresSSLMode,
		)

		gormLog := newGormLogger()
		if logger.Log.IsLevelEnabled(logrus.DebugLevel) {
			gormLog.level = gormlogger.Info
		}
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger:  gormLog,
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		if err != nil {
			logger.Log.WithError(err).Error("Failed to connect to PostgreSQL")
			return
		}

		sqlDB, poolErr := db.DB()
		if poolErr != nil {
			err = poolErr
			return
		}
		// Every running job holds at most one connection at a time.
		sqlDB.SetMaxOpenConns(cfg.WorkerCount*2 + 10)
		sqlDB.SetMaxIdleConns(cfg.WorkerCount + 2)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(time.Hour)

		logger.Log.WithFields(logrus.Fields{
			"database":  cfg.PostgresDB,
			"host":      cfg.PostgresHost,
			"max_conns": cfg.WorkerCount*2 + 10,
		}).Info("Connected to PostgreSQL")
	})

	return db, err
}

func ClosePostgres() error {
	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
