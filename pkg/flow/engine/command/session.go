package command

import "context"

// Session is per-context scratch state opened lazily by type, for example buffered writes.
// Flush runs when the context closes successfully; Close always runs.
type Session interface {
	Flush(ctx context.Context) error
	Close() error
}

// SessionFactory opens sessions of one type.
type SessionFactory interface {
	SessionType() string
	OpenSession(ctx context.Context, cctx *Context) (Session, error)
}
