package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/lock"
	"github.com/vibast-solutions/ms-go-mailer/app/provider"
	"github.com/vibast-solutions/ms-go-mailer/app/repository"
	"github.com/vibast-solutions/ms-go-mailer/app/service"
	"github.com/vibast-solutions/ms-go-mailer/config"
)

// resources holds the clients opened for the listener so they can be closed
// on shutdown.
type resources struct {
	db  *sql.DB
	rdb *redis.Client
}

func (r *resources) Close() {
	if r.rdb != nil {
		_ = r.rdb.Close()
	}
	if r.db != nil {
		_ = r.db.Close()
	}
}

func openMySQL(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MySQLMaxOpen)
	db.SetMaxIdleConns(cfg.MySQLMaxIdle)
	db.SetConnMaxLifetime(cfg.MySQLMaxLife)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

func buildHistory(ctx context.Context, cfg *config.Config, res *resources) (service.History, error) {
	if cfg.MySQLDSN == "" {
		return repository.NopMailHistory{}, nil
	}
	db, err := openMySQL(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res.db = db
	return repository.NewMailHistoryRepository(db), nil
}

func buildLocker(ctx context.Context, cfg *config.Config, res *resources) (lock.Locker, error) {
	switch cfg.LockBackend {
	case "", "none":
		return lock.NoopLocker{}, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		res.rdb = rdb
		return lock.NewRedisLocker(rdb), nil
	case "mysql":
		if res.db == nil {
			db, err := openMySQL(ctx, cfg)
			if err != nil {
				return nil, err
			}
			res.db = db
		}
		return lock.NewMySQLLocker(res.db), nil
	default:
		return nil, fmt.Errorf("unsupported LOCK_BACKEND: %s", cfg.LockBackend)
	}
}

func buildEmailProvider(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (provider.EmailProvider, error) {
	var p provider.EmailProvider
	switch cfg.EmailProvider {
	case "", "smtp":
		dialer := provider.NewSMTPDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
		p = provider.NewSMTPProvider(dialer, cfg.MailFrom,
			provider.WithRetries(cfg.SMTPRetries),
			provider.WithSMTPLogger(logger),
		)
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, err
		}
		p = provider.NewSESProvider(awsCfg, cfg.MailFrom)
	case "noop":
		p = provider.NewNoopProvider(logger)
	default:
		return nil, fmt.Errorf("unsupported EMAIL_PROVIDER: %s", cfg.EmailProvider)
	}
	name := cfg.EmailProvider
	if name == "" {
		name = "smtp"
	}
	return provider.NewInstrumented(name, p), nil
}
