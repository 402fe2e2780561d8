package core

import "context"

// ShutdownFunc releases one resource during graceful shutdown. ctx carries
// the remaining shutdown budget; a stage that outlives it should return
// ctx.Err(). Stages may run more than once and must tolerate that.
//
//	mgr.Register("journal", shutdown.StageJournal, journal.Close)
type ShutdownFunc func(ctx context.Context) error
