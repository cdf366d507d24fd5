package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"tapeoutops/internal/config"
	"tapeoutops/internal/db"
	"tapeoutops/internal/engine"
	"tapeoutops/internal/migrate"
	"tapeoutops/internal/notify"
	"tapeoutops/internal/server"
	"tapeoutops/internal/storage"
)

const mailDrainTimeout = 10 * time.Second

// Context bundles everything a command needs: config, logger, the migrated
// database, the stores and the engine wired on top of them.
type Context struct {
	Config *config.Config
	Logger *logrus.Logger
	DB     *sql.DB
	Engine engine.Engine
	Mail   *notify.Queue

	files   []server.FileMount
	closers []func() error
}

// Open prepares the data directory, migrates the database and builds the
// engine. The mail worker runs until ctx is cancelled or Close is called.
func Open(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := db.EnsureDataDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	conn, err := db.Open(db.Config{DataDir: cfg.DataDir})
	if err != nil {
		return nil, err
	}
	c := &Context{Config: cfg, Logger: logger, DB: conn}
	c.closers = append(c.closers, conn.Close)
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		c.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	docs, err := c.documentStore(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	evidence, err := storage.NewLocalStore(cfg.Storage.EvidenceDir, cfg.HTTP.PublicURL+"/evidence", []byte(cfg.Auth.JWTSecret))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("evidence store: %w", err)
	}
	c.files = append(c.files, server.FileMount{Prefix: "/evidence", Store: evidence})

	c.Mail = notify.NewQueue(mailSender(cfg.SMTP, logger), logger, notify.DefaultQueueSize)
	c.Mail.Start(ctx)

	c.Engine = engine.New(conn, cfg, engine.Deps{
		Documents: docs,
		Evidence:  evidence,
		Mailer:    c.Mail,
		Logger:    logger,
	})
	return c, nil
}

func (c *Context) documentStore(ctx context.Context) (storage.Store, error) {
	st := c.Config.Storage
	if st.Backend == "gcs" {
		gcs, err := storage.NewGCSStore(ctx, st.GCSBucket, st.GCSCredentialsFile)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, gcs.Close)
		return gcs, nil
	}
	local, err := storage.NewLocalStore(st.LocalDir, c.Config.HTTP.PublicURL, []byte(c.Config.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}
	c.files = append(c.files, server.FileMount{Store: local})
	return local, nil
}

func mailSender(cfg config.SMTP, logger *logrus.Logger) notify.Sender {
	if !cfg.Enabled() {
		return notify.LogSender{Logger: logger}
	}
	return notify.SMTPSender{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	}
}

// Handler builds the HTTP API on top of the engine.
func (c *Context) Handler() (http.Handler, error) {
	return server.New(server.Config{
		Engine:      c.Engine,
		BasePath:    c.Config.HTTP.BasePath,
		CORSOrigins: c.Config.HTTP.CORSOrigins,
		Files:       c.files,
		Logger:      c.Logger,
	})
}

// Close drains pending mail and releases the stores and the database.
func (c *Context) Close() error {
	var errs []error
	if c.Mail != nil {
		if err := c.Mail.Close(mailDrainTimeout); err != nil {
			errs = append(errs, err)
		}
		c.Mail = nil
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
