package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"devoid_client/events"
	"devoid_client/gateway"
	"devoid_client/messages"

	"go.uber.org/zap"
)

// Subscriber is the part of events.Bus the journal registers with.
type Subscriber interface {
	OnResponse(status messages.GenStatus, h events.ResponseHandler)
	OnConnectionError(h events.ConnectionErrorHandler)
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithJournalLogger sets the logger.
func WithJournalLogger(logger *zap.Logger) JournalOption {
	return func(j *Journal) { j.logger = logger }
}

// WithRetention prunes entries older than d when the journal opens.
func WithRetention(d time.Duration) JournalOption {
	return func(j *Journal) { j.retention = d }
}

// WithSessionFunc supplies the current connection session id for rows
// written by response handlers.
func WithSessionFunc(fn func() string) JournalOption {
	return func(j *Journal) { j.session = fn }
}

// WithWriterConfig overrides the async writer settings.
func WithWriterConfig(cfg AsyncWriterConfig) JournalOption {
	return func(j *Journal) { j.writerCfg = cfg }
}

// Journal records responses and connection events without blocking the
// handlers that report them.
type Journal struct {
	db        *Database
	repo      *Repository
	writer    *AsyncWriter
	logger    *zap.Logger
	session   func() string
	retention time.Duration
	writerCfg AsyncWriterConfig
}

// OpenJournal opens (and migrates) the database at path and starts the
// writer.
func OpenJournal(ctx context.Context, path string, opts ...JournalOption) (*Journal, error) {
	j := &Journal{
		logger:  zap.NewNop(),
		session: func() string { return "" },
	}
	for _, opt := range opts {
		opt(j)
	}

	database, err := Open(path)
	if err != nil {
		return nil, err
	}
	j.db = database
	j.repo = NewRepository(database)

	if j.retention > 0 {
		n, err := j.repo.PruneBefore(ctx, time.Now().Add(-j.retention))
		if err != nil {
			database.Close()
			return nil, err
		}
		if n > 0 {
			j.logger.Info("Pruned journal", zap.Int64("events", n), zap.Duration("retention", j.retention))
		}
	}

	j.writer = NewAsyncWriter(j.persist, j.logger, j.writerCfg)
	j.writer.Start()
	return j, nil
}

// Repository exposes the journal's queries.
func (j *Journal) Repository() *Repository {
	return j.repo
}

// Attach subscribes the journal to every response status and to
// connection errors.
func (j *Journal) Attach(bus Subscriber) {
	for _, status := range messages.Statuses {
		bus.OnResponse(status, j.recordResponse)
	}
	bus.OnConnectionError(j.recordConnectionLost)
}

// RecordConnected is meant for gateway.WithOnConnected.
func (j *Journal) RecordConnected(sessionID string) {
	_ = j.enqueue(ConnectionEvent{
		SessionID:  sessionID,
		Event:      ConnectionEstablished,
		OccurredAt: time.Now(),
	})
}

func (j *Journal) recordResponse(_ context.Context, resp *messages.Response) error {
	ev := GenerationEvent{
		SessionID:  j.session(),
		ObjectID:   resp.ObjectID,
		UserID:     resp.UserID(),
		Executor:   string(resp.Executor),
		GenType:    string(resp.GenType),
		Status:     string(resp.Status),
		AvgTime:    resp.AvgTime,
		Premium:    resp.Settings.Premium,
		ReceivedAt: time.Now(),
	}
	if resp.Result != nil {
		ev.Content = resp.Result.Content
		ev.FileName = resp.Result.FileName
	}
	return j.enqueue(ev)
}

func (j *Journal) recordConnectionLost(_ context.Context, cause error) error {
	ev := ConnectionEvent{
		SessionID:  j.session(),
		Event:      ConnectionLost,
		OccurredAt: time.Now(),
	}
	if cause != nil {
		ev.Detail = cause.Error()
	}
	var readErr *gateway.TransportReadError
	if errors.As(cause, &readErr) {
		ev.SessionID = readErr.SessionID
	}
	return j.enqueue(ev)
}

func (j *Journal) enqueue(ev any) error {
	if !j.writer.Write(ev) {
		return fmt.Errorf("journal buffer full, dropped %T", ev)
	}
	return nil
}

func (j *Journal) persist(ctx context.Context, op WriteOperation) error {
	var err error
	switch ev := op.Data.(type) {
	case GenerationEvent:
		_, err = j.repo.InsertGenerationEvent(ctx, ev)
	case ConnectionEvent:
		_, err = j.repo.InsertConnectionEvent(ctx, ev)
	case flushMarker:
		close(ev)
	default:
		err = fmt.Errorf("unexpected journal entry %T", op.Data)
	}
	return err
}

type flushMarker chan struct{}

// Flush blocks until every entry queued before the call is written.
func (j *Journal) Flush(ctx context.Context) error {
	marker := make(flushMarker)
	if !j.writer.Write(marker) {
		return errors.New("journal writer unavailable")
	}
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains queued writes and closes the database.
func (j *Journal) Close(ctx context.Context) error {
	werr := j.writer.Close(ctx)
	if dropped := j.writer.Dropped(); dropped > 0 {
		j.logger.Warn("Journal dropped entries", zap.Int64("dropped", dropped))
	}
	return errors.Join(werr, j.db.Close())
}
