package engine

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"draftclinic/internal/domain"
	"draftclinic/internal/engine/auth"
	"draftclinic/internal/events"
	"draftclinic/internal/repo"
	"draftclinic/internal/storage"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Storage storage.Store
	Logger  *slog.Logger
	Now     func() time.Time
}

func New(db *sql.DB, store storage.Store, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Storage: store,
		Logger:  logger,
		Now:     time.Now,
	}
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

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// FileInput is one uploaded file handed to an operation.
type FileInput struct {
	Name        string
	Description string
	Content     io.Reader
}

// fail passes business errors through and turns everything else into a
// logged PersistenceError.
func (e Engine) fail(op string, err error, attrs ...any) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	e.logger().Error("persistence failure", append([]any{"op", op, "err", err}, attrs...)...)
	return domain.PersistenceError{Op: op, Err: err}
}

func isDomainError(err error) bool {
	var (
		ve domain.ValidationError
		ae domain.AuthorizationError
		se domain.StateError
		ne domain.NotFoundError
		pe domain.PersistenceError
	)
	return errors.As(err, &ve) || errors.As(err, &ae) || errors.As(err, &se) ||
		errors.As(err, &ne) || errors.As(err, &pe)
}

func (e Engine) begin(ctx context.Context, op string) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, e.fail(op, err)
	}
	return tx, nil
}

func (e Engine) commit(tx *sql.Tx, op string) error {
	if err := tx.Commit(); err != nil {
		return e.fail(op, err)
	}
	return nil
}

// actor loads the acting account inside tx and rejects inactive ones.
func (e Engine) actor(ctx context.Context, tx *sql.Tx, id string) (domain.Actor, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Actor{}, domain.AuthorizationError{Reason: "actor required"}
	}
	a, err := e.Repo.GetActorTx(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, domain.AuthorizationError{ActorID: id, Reason: "unknown actor"}
	}
	if err != nil {
		return domain.Actor{}, e.fail("load actor", err, "actor_id", id)
	}
	if err := auth.RequireActive(a); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

func (e Engine) request(ctx context.Context, tx *sql.Tx, id string) (domain.Request, error) {
	rq, err := e.Repo.GetRequestTx(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Request{}, domain.NotFoundError{Entity: "request", ID: id}
	}
	if err != nil {
		return domain.Request{}, e.fail("load request", err, "request_id", id)
	}
	return rq, nil
}

// visibleRequest loads a request the actor may view; others see not found.
func (e Engine) visibleRequest(ctx context.Context, tx *sql.Tx, a domain.Actor, id string) (domain.Request, error) {
	rq, err := e.request(ctx, tx, id)
	if err != nil {
		return rq, err
	}
	if !auth.CanView(a, rq) {
		return domain.Request{}, domain.NotFoundError{Entity: "request", ID: id}
	}
	return rq, nil
}

func (e Engine) saveRequest(ctx context.Context, tx *sql.Tx, op string, rq domain.Request) (domain.Request, error) {
	rq.UpdatedAt = e.timestamp()
	saved, err := e.Repo.UpdateRequest(ctx, tx, rq)
	if errors.Is(err, domain.ErrConflict) {
		return rq, domain.StateError{Entity: "request", ID: rq.ID, Status: string(rq.Status), Op: op, Err: domain.ErrConflict}
	}
	if err != nil {
		return rq, e.fail(op, err, "request_id", rq.ID)
	}
	return saved, nil
}

func (e Engine) appendLog(ctx context.Context, tx *sql.Tx, op string, entry events.Entry) (domain.ActivityLogEntry, error) {
	logged, err := e.events().Append(ctx, tx, entry)
	if err != nil {
		return logged, e.fail(op, err, "request_id", entry.RequestID)
	}
	return logged, nil
}

func stateErr(rq domain.Request, op string) error {
	return domain.StateError{Entity: "request", ID: rq.ID, Status: string(rq.Status), Op: op}
}

func statusIn(s domain.RequestStatus, allowed ...domain.RequestStatus) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

// staged holds files written to storage for an operation still in flight.
// discard removes them unless the operation committed.
type staged struct {
	e    Engine
	ctx  context.Context
	objs []storage.Object
	kept bool
}

func (s *staged) keep() { s.kept = true }

func (s *staged) discard() {
	if s == nil || s.kept {
		return
	}
	for _, o := range s.objs {
		if err := s.e.Storage.Delete(context.WithoutCancel(s.ctx), o.Handle); err != nil {
			s.e.logger().Warn("discard stored file", "handle", o.Handle, "err", err)
		}
	}
	s.objs = nil
}

// stage writes files to storage. On error nothing stays behind.
func (e Engine) stage(ctx context.Context, files ...FileInput) (*staged, error) {
	s := &staged{e: e, ctx: ctx}
	if len(files) == 0 {
		return s, nil
	}
	if e.Storage == nil {
		return s, e.fail("store file", errors.New("file storage not configured"))
	}
	for i, f := range files {
		if f.Content == nil {
			s.discard()
			return s, domain.Invalid("file", "file %d has no content", i+1)
		}
		obj, err := e.Storage.Put(ctx, f.Name, f.Content)
		if err != nil {
			s.discard()
			return s, e.storageErr(err, f.Name)
		}
		s.objs = append(s.objs, obj)
	}
	return s, nil
}

func (e Engine) storageErr(err error, name string) error {
	switch {
	case errors.Is(err, storage.ErrExtensionNotAllowed):
		return domain.Invalid("file", "%s: allowed extensions are %s", name, strings.Join(storage.AllowedExtensions(), ", "))
	case errors.Is(err, storage.ErrTooLarge):
		return domain.Invalid("file", "%s exceeds the %d MiB limit", name, storage.MaxUploadBytes>>20)
	case errors.Is(err, storage.ErrEmpty):
		return domain.Invalid("file", "%s is empty", name)
	}
	return e.fail("store file", err, "file", name)
}

func (e Engine) newDocument(obj storage.Object, requestID, uploadedBy string, typ domain.DocumentType, description string) domain.Document {
	return domain.Document{
		ID:               newID(),
		RequestID:        requestID,
		Filename:         obj.Handle,
		OriginalFilename: obj.OriginalName,
		FileType:         obj.ContentType,
		FileSize:         obj.Size,
		Type:             typ,
		Description:      description,
		UploadedBy:       uploadedBy,
		CreatedAt:        e.timestamp(),
	}
}

func (e Engine) insertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	if err := e.Repo.InsertDocument(ctx, tx, d); err != nil {
		return e.fail("insert document", err, "request_id", d.RequestID)
	}
	return nil
}

func newID() string {
	return uuid.New().String()
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var deadlineLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}

// parseDeadline accepts RFC 3339 and the date/time forms used by HTML inputs
// and normalizes to RFC 3339 UTC.
func parseDeadline(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
	}
	return "", domain.Invalid(field, "unrecognized date %q", raw)
}
