package engine

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"tapeoutops/internal/config"
	"tapeoutops/internal/engine/auth"
	"tapeoutops/internal/events"
	"tapeoutops/internal/logging"
	"tapeoutops/internal/notify"
	"tapeoutops/internal/repo"
	"tapeoutops/internal/storage"
)

// Mailer accepts e-mail for asynchronous delivery.
type Mailer interface {
	Enqueue(msg notify.Message) bool
}

// Deps are the collaborators an Engine talks to besides the database.
type Deps struct {
	Documents storage.Store
	Evidence  storage.Store
	Mailer    Mailer
	Logger    *logrus.Logger
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Auth      auth.Service
	Tokens    auth.Tokens
	Config    *config.Config
	Documents storage.Store
	Evidence  storage.Store
	Mailer    Mailer
	Logger    *logrus.Logger
	Validate  *validator.Validate
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config, deps Deps) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	e := Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Auth:      auth.Service{DB: db},
		Config:    cfg,
		Documents: deps.Documents,
		Evidence:  deps.Evidence,
		Mailer:    deps.Mailer,
		Logger:    logger,
		Validate:  newValidator(),
		Now:       time.Now,
	}
	e.Events = events.Writer{DB: db, Logger: logger, Now: e.now}
	e.Tokens = auth.Tokens{Secret: []byte(cfg.Auth.JWTSecret), TTL: cfg.Auth.TokenTTL, Now: e.now}
	return e
}

// WithNow returns a copy whose clock, audit clock and token clock use now.
func (e Engine) WithNow(now func() time.Time) Engine {
	e.Now = now
	e.Events.Now = now
	e.Tokens.Now = now
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

var semverRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
		return semverRe.MatchString(fl.Field().String())
	})
	return v
}

func (e Engine) validate(in any) error {
	if err := e.Validate.Struct(in); err != nil {
		return validationFromStruct(err)
	}
	return nil
}

func (e Engine) logError(funcName, what string, data any, err error) {
	logging.LogError(e.Logger, "engine", funcName, what, data, err)
}

// auditFailure records a failure outcome outside the rolled-back transaction.
func (e Engine) auditFailure(ctx context.Context, evt events.Event, cause error) {
	evt.Outcome = events.OutcomeFailure
	if evt.Payload == nil {
		evt.Payload = events.EventPayload{}
	}
	evt.Payload["error"] = cause.Error()
	if err := e.Events.AppendNow(ctx, evt); err != nil {
		e.logError("auditFailure", evt.Type, nil, err)
	}
}

func (e Engine) sendMail(to, subject, body string) {
	if e.Mailer == nil || to == "" {
		return
	}
	e.Mailer.Enqueue(notify.Message{To: to, Subject: subject, Body: body})
}

// removeQuietly deletes a stored object after commit; failures only log.
func (e Engine) removeQuietly(ctx context.Context, store storage.Store, key string) {
	if store == nil || key == "" {
		return
	}
	if err := store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		e.logError("removeQuietly", "delete stored object", logrus.Fields{"key": key}, err)
	}
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
