package sync

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"taskbridge/internal/config"
	"taskbridge/internal/events"
	"taskbridge/internal/ledger"
	"taskbridge/internal/suite"
)

// Engine wires the ledger, the suite client, and the audit log together.
// Each webhook is handled statelessly; all cross-request state lives in the
// ledger.
type Engine struct {
	DB     *sql.DB
	Ledger ledger.Store
	Suite  *suite.Client
	Events events.Writer
	Config *config.Config
	Log    *logrus.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, client *suite.Client) Engine {
	return Engine{
		DB:     db,
		Ledger: ledger.Store{DB: db},
		Suite:  client,
		Events: events.Writer{DB: db},
		Config: cfg,
		Log:    logrus.StandardLogger(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *logrus.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

// audit appends to the sync event log. Audit failures are logged, not fatal:
// they do not threaten the one-task-per-record invariant.
func (e Engine) audit(ctx context.Context, evtType, baseID, tableID, recordID, taskID string, payload events.Payload) {
	if err := e.Events.Append(ctx, evtType, baseID, tableID, recordID, taskID, payload); err != nil {
		e.log().WithError(err).WithField("type", evtType).Warn("append sync event")
	}
}

func (e Engine) nowMillis() string {
	return strconv.FormatInt(e.now().UnixMilli(), 10)
}

// orNowMillis substitutes the current time for a blank timestamp string.
func (e Engine) orNowMillis(ts string) string {
	if ts == "" {
		return e.nowMillis()
	}
	return ts
}

// clampDue keeps the due timestamp from preceding the start timestamp.
func clampDue(start, due string) string {
	s, errS := strconv.ParseInt(start, 10, 64)
	d, errD := strconv.ParseInt(due, 10, 64)
	if errS == nil && errD == nil && d < s {
		return start
	}
	return due
}
