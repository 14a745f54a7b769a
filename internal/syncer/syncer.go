// Package syncer mirrors IMAP folder envelopes into a state.Store, one
// folder at a time, resuming from the per-folder UID cursor.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pepperpark/mailcache/internal/imaputil"
	"github.com/pepperpark/mailcache/internal/imapwire"
	"github.com/pepperpark/mailcache/internal/logging"
	"github.com/pepperpark/mailcache/internal/state"
)

// Conn is an authenticated-or-not IMAP session the syncer drives.
type Conn interface {
	imaputil.Commander
	Close() error
}

// DialFunc opens a session to ep.
type DialFunc func(ctx context.Context, ep imapwire.Endpoint) (Conn, error)

// DialIMAP returns a DialFunc backed by imapwire.Dial.
func DialIMAP(opts imapwire.Options) DialFunc {
	return func(ctx context.Context, ep imapwire.Endpoint) (Conn, error) {
		c, err := imapwire.Dial(ctx, ep, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

type Options struct {
	// DefaultFolders replaces the package default when a request names none.
	DefaultFolders []string
	// IgnoreState re-reads every message instead of resuming from the cursor.
	IgnoreState bool
	// Locks is shared by every Syncer writing to the same store.
	Locks *FolderLocks
	// Events, if set, receives progress without blocking the sync.
	Events chan<- Event
	Redact logging.Redactor
	Now    func() time.Time
}

type Syncer struct {
	dial  DialFunc
	store state.Store
	log   zerolog.Logger
	opts  Options
}

func New(dial DialFunc, store state.Store, log zerolog.Logger, opts Options) *Syncer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{dial: dial, store: store, log: log, opts: opts}
}

// Run connects, logs in and syncs every requested folder in order. A
// connect or login failure aborts the run; a folder failure is recorded in
// the report and the next folder is attempted. The connection is closed
// exactly once on every path after a successful dial.
func (s *Syncer) Run(ctx context.Context, req Request) (*Report, error) {
	rep := &Report{
		RunID:     uuid.NewString(),
		Mailbox:   req.Mailbox,
		StartedAt: s.opts.Now(),
		Folders:   []FolderResult{},
	}
	log := s.log.With().
		Str("run_id", rep.RunID).
		Str("mailbox", s.opts.Redact.Email(req.Mailbox)).
		Logger()

	conn, err := s.dial(ctx, req.Endpoint)
	if err != nil {
		metricRuns.WithLabelValues("connect_error").Inc()
		log.Error().Err(err).Str("addr", req.Endpoint.Addr()).Msg("[mailbox] connect failed")
		return nil, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Msg("[mailbox] close")
		}
	}()

	if err := imaputil.Login(ctx, conn, req.User, req.Pass); err != nil {
		metricRuns.WithLabelValues("auth_error").Inc()
		log.Error().Err(err).Msg("[mailbox] login failed")
		return nil, err
	}

	folders, err := s.resolveFolders(ctx, conn, req.Folders)
	if err != nil {
		metricRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("list folders: %w", err)
	}
	log.Info().Strs("folders", folders).Msg("[mailbox] start")

	for _, folder := range folders {
		n, err := s.SyncFolder(ctx, conn, req.Mailbox, folder)
		res := FolderResult{Folder: folder, Synced: n, Status: StatusSuccess}
		if err != nil {
			res.Status = StatusError
			res.Error = err.Error()
		}
		rep.TotalSynced += n
		rep.Folders = append(rep.Folders, res)
	}

	if err := imaputil.Logout(ctx, conn); err != nil {
		log.Debug().Err(err).Msg("[mailbox] logout")
	}
	rep.FinishedAt = s.opts.Now()
	metricRuns.WithLabelValues("ok").Inc()
	log.Info().
		Int("total_synced", rep.TotalSynced).
		Int("failed_folders", len(rep.Failed())).
		Dur("took", rep.FinishedAt.Sub(rep.StartedAt)).
		Msg("[mailbox] done")
	return rep, nil
}

func (s *Syncer) resolveFolders(ctx context.Context, conn Conn, sel FolderSelection) ([]string, error) {
	switch {
	case sel.All:
		return imaputil.ListMailboxes(ctx, conn)
	case len(sel.Names) > 0:
		return sel.Names, nil
	case len(s.opts.DefaultFolders) > 0:
		return s.opts.DefaultFolders, nil
	default:
		return DefaultFolders, nil
	}
}

// SyncFolder mirrors one folder over an authenticated session and returns
// how many messages were written. Messages that fail to fetch, parse or
// store are skipped; the cursor is then held at the lowest failed UID so
// they are retried next time.
func (s *Syncer) SyncFolder(ctx context.Context, conn imaputil.Commander, mailbox, folder string) (int, error) {
	unlock := s.opts.Locks.Lock(mailbox, folder)
	defer unlock()

	log := s.log.With().
		Str("mailbox", s.opts.Redact.Email(mailbox)).
		Str("folder", folder).
		Logger()
	start := time.Now()
	s.emit(Event{Type: EventFolderStart, Mailbox: mailbox, Folder: folder})

	n, err := s.syncFolder(ctx, conn, mailbox, folder, log)
	metricFolderDuration.Observe(time.Since(start).Seconds())
	metricMessages.Add(float64(n))
	if err != nil {
		metricFolders.WithLabelValues(StatusError).Inc()
		log.Warn().Err(err).Int("synced", n).Msg("[mailbox] folder failed")
		s.emit(Event{Type: EventFolderError, Mailbox: mailbox, Folder: folder, Done: n, Err: err})
		return n, err
	}
	metricFolders.WithLabelValues(StatusSuccess).Inc()
	s.emit(Event{Type: EventFolderDone, Mailbox: mailbox, Folder: folder, Done: n})
	return n, nil
}

func (s *Syncer) syncFolder(ctx context.Context, conn imaputil.Commander, mailbox, folder string, log zerolog.Logger) (int, error) {
	fs, err := imaputil.SelectMailbox(ctx, conn, folder)
	if err != nil {
		return 0, err
	}

	prev, err := s.store.GetCursor(ctx, mailbox, folder)
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	if prev != nil && prev.UIDValidity != fs.UIDValidity {
		log.Info().
			Uint32("old_uidvalidity", prev.UIDValidity).
			Uint32("new_uidvalidity", fs.UIDValidity).
			Msg("[mailbox] uidvalidity changed, dropping cached messages")
		if err := s.store.DeleteMessages(ctx, mailbox, folder); err != nil {
			return 0, &state.CacheWriteError{Op: "delete", Mailbox: mailbox, Folder: folder, Err: err}
		}
		prev = nil
	}
	if s.opts.IgnoreState {
		prev = nil
	}

	criteria := imaputil.SearchAll
	var lower uint32
	if prev != nil {
		lower = prev.UIDNext
		criteria = imaputil.SearchFromUID(lower)
	}
	found, err := imaputil.SearchUIDs(ctx, conn, criteria)
	if err != nil {
		return 0, err
	}
	// "UID n:*" always matches the highest UID even when it is below n.
	uids := found[:0]
	for _, uid := range found {
		if uid >= lower {
			uids = append(uids, uid)
		}
	}

	next := fs.UIDNext
	synced := 0
	if len(uids) == 0 {
		log.Debug().Uint32("from_uid", lower).Msg("[mailbox] no new messages")
	} else {
		log.Info().Int("count", len(uids)).Uint32("from_uid", lower).Msg("[mailbox] fetching")
		s.emit(Event{Type: EventFolderProgress, Mailbox: mailbox, Folder: folder, Total: len(uids)})
	}
	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if err := s.syncMessage(ctx, conn, mailbox, folder, uid); err != nil {
			if isSessionError(err) {
				return synced, err
			}
			log.Warn().Err(err).Uint32("uid", uid).Msg("[mailbox] message skipped")
			if uid < next {
				next = uid
			}
			continue
		}
		synced++
		s.emit(Event{Type: EventFolderProgress, Mailbox: mailbox, Folder: folder, Total: len(uids), Done: synced})
	}

	cur := state.Cursor{
		Mailbox:      mailbox,
		Folder:       folder,
		UIDValidity:  fs.UIDValidity,
		UIDNext:      next,
		LastSyncedAt: s.opts.Now(),
	}
	if err := s.store.PutCursor(ctx, cur); err != nil {
		return synced, &state.CacheWriteError{Op: "put cursor", Mailbox: mailbox, Folder: folder, Err: err}
	}
	return synced, nil
}

func (s *Syncer) syncMessage(ctx context.Context, conn imaputil.Commander, mailbox, folder string, uid uint32) error {
	resp, err := imaputil.FetchMessage(ctx, conn, uid)
	if err != nil {
		return err
	}
	msg, err := imaputil.ParseEnvelope(resp, uid, folder, mailbox, s.opts.Now())
	if err != nil {
		return err
	}
	if err := s.store.UpsertMessage(ctx, msg); err != nil {
		return &state.CacheWriteError{Op: "upsert", Mailbox: mailbox, Folder: folder, UID: uid, Err: err}
	}
	return nil
}

// isSessionError reports whether err leaves the session unusable, in which
// case the rest of the folder is not attempted.
func isSessionError(err error) bool {
	var ioe *imapwire.IOError
	var pe *imapwire.ProtocolError
	return errors.As(err, &ioe) || errors.As(err, &pe) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *Syncer) emit(ev Event) {
	if s.opts.Events == nil {
		return
	}
	select {
	case s.opts.Events <- ev:
	default:
		// drop if slow consumer
	}
}
