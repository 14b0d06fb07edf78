package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"draftclinic/internal/credential"
	"draftclinic/internal/domain"
	"draftclinic/internal/engine/auth"
	"draftclinic/internal/repo"
)

// Profile holds the editable personal fields of an actor.
type Profile struct {
	FirstName     string
	LastName      string
	Phone         string
	Institution   string
	AcademicLevel string
	FieldOfStudy  string
}

func (p Profile) apply(a *domain.Actor) {
	a.FirstName = strings.TrimSpace(p.FirstName)
	a.LastName = strings.TrimSpace(p.LastName)
	a.Phone = strings.TrimSpace(p.Phone)
	a.Institution = strings.TrimSpace(p.Institution)
	a.AcademicLevel = strings.TrimSpace(p.AcademicLevel)
	a.FieldOfStudy = strings.TrimSpace(p.FieldOfStudy)
}

func (p Profile) validate() error {
	if strings.TrimSpace(p.FirstName) == "" {
		return domain.Invalid("first_name", "first name is required")
	}
	if strings.TrimSpace(p.LastName) == "" {
		return domain.Invalid("last_name", "last name is required")
	}
	return nil
}

func credentials(email, password string) (string, string, error) {
	email = credential.NormalizeEmail(email)
	if err := credential.ValidateEmail(email); err != nil {
		return "", "", domain.Invalid("email", "%v", err)
	}
	if err := credential.ValidatePassword(password); err != nil {
		return "", "", domain.Invalid("password", "%v", err)
	}
	hash, err := credential.Hash(password)
	if err != nil {
		return "", "", domain.PersistenceError{Op: "hash password", Err: err}
	}
	return email, hash, nil
}

// insertActor creates an account; a taken email is a ValidationError.
func (e Engine) insertActor(ctx context.Context, tx *sql.Tx, op, email, hash string, role domain.Role, p Profile) (domain.Actor, error) {
	if _, err := e.Repo.GetActorByEmail(ctx, tx, email); err == nil {
		return domain.Actor{}, domain.Invalid("email", "an account with this email already exists")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, e.fail(op, err)
	}
	now := e.timestamp()
	a := domain.Actor{ID: newID(), Email: email, PasswordHash: hash, Role: role, Active: true, CreatedAt: now, UpdatedAt: now}
	p.apply(&a)
	if err := e.Repo.InsertActor(ctx, tx, a); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Actor{}, domain.Invalid("email", "an account with this email already exists")
		}
		return domain.Actor{}, e.fail(op, err)
	}
	return a, nil
}

// RegisterClient creates a client account.
func (e Engine) RegisterClient(ctx context.Context, email, password string, p Profile) (domain.Actor, error) {
	const op = "register client"
	if err := p.validate(); err != nil {
		return domain.Actor{}, err
	}
	email, hash, err := credentials(email, password)
	if err != nil {
		return domain.Actor{}, err
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	a, err := e.insertActor(ctx, tx, op, email, hash, domain.RoleClient, p)
	if err != nil {
		return domain.Actor{}, err
	}
	if err := e.commit(tx, op); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

// Authenticate checks credentials. Unknown emails, wrong passwords and
// inactive accounts all fail the same way.
func (e Engine) Authenticate(ctx context.Context, email, password string) (domain.Actor, error) {
	denied := domain.AuthorizationError{Reason: "invalid credentials"}
	a, err := e.Repo.GetActorByEmail(ctx, nil, credential.NormalizeEmail(email))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, denied
	}
	if err != nil {
		return domain.Actor{}, e.fail("authenticate", err)
	}
	if err := credential.Compare(a.PasswordHash, password); err != nil {
		return domain.Actor{}, denied
	}
	if !a.Active {
		return domain.Actor{}, denied
	}
	return a, nil
}

// BootstrapSuperAdmin creates the first staff account. It fails once any staff exists.
func (e Engine) BootstrapSuperAdmin(ctx context.Context, email, password string, p Profile) (domain.Actor, error) {
	const op = "bootstrap super admin"
	if err := p.validate(); err != nil {
		return domain.Actor{}, err
	}
	email, hash, err := credentials(email, password)
	if err != nil {
		return domain.Actor{}, err
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	n, err := e.Repo.CountStaff(ctx, tx)
	if err != nil {
		return domain.Actor{}, e.fail(op, err)
	}
	if n > 0 {
		return domain.Actor{}, domain.StateError{Entity: "deployment", ID: "staff", Status: "bootstrapped", Op: op}
	}
	a, err := e.insertActor(ctx, tx, op, email, hash, domain.RoleSuperAdmin, p)
	if err != nil {
		return domain.Actor{}, err
	}
	if err := e.commit(tx, op); err != nil {
		return domain.Actor{}, err
	}
	e.logger().Info("super admin bootstrapped", "actor_id", a.ID, "email", a.Email)
	return a, nil
}

// CreateAdmin provisions a new admin account.
func (e Engine) CreateAdmin(ctx context.Context, actorID, email, password string, p Profile) (domain.Actor, error) {
	const op = "create admin"
	if err := p.validate(); err != nil {
		return domain.Actor{}, err
	}
	email, hash, err := credentials(email, password)
	if err != nil {
		return domain.Actor{}, err
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	super, err := e.actor(ctx, tx, actorID)
	if err != nil {
		return domain.Actor{}, err
	}
	if err := auth.RequireSuperAdmin(super); err != nil {
		return domain.Actor{}, err
	}
	a, err := e.insertActor(ctx, tx, op, email, hash, domain.RoleAdmin, p)
	if err != nil {
		return domain.Actor{}, err
	}
	if err := e.commit(tx, op); err != nil {
		return domain.Actor{}, err
	}
	e.logger().Info("admin created", "actor_id", a.ID, "by", super.ID)
	return a, nil
}

type UpdateAdminOptions struct {
	ActorID  string
	TargetID string
	Active   *bool
	Password string
	Profile  *Profile
}

// staffTarget loads another staff account for a super admin operation.
func (e Engine) staffTarget(ctx context.Context, tx *sql.Tx, op string, super domain.Actor, targetID string) (domain.Actor, error) {
	if err := auth.RequireSuperAdmin(super); err != nil {
		return domain.Actor{}, err
	}
	if targetID == super.ID {
		return domain.Actor{}, domain.AuthorizationError{ActorID: super.ID, Reason: "cannot " + op + " on your own account"}
	}
	target, err := e.Repo.GetActorTx(ctx, tx, targetID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, domain.NotFoundError{Entity: "admin", ID: targetID}
	}
	if err != nil {
		return domain.Actor{}, e.fail(op, err, "target_id", targetID)
	}
	if !target.Role.IsStaff() {
		return domain.Actor{}, domain.NotFoundError{Entity: "admin", ID: targetID}
	}
	return target, nil
}

// UpdateAdmin edits another staff account.
func (e Engine) UpdateAdmin(ctx context.Context, opts UpdateAdminOptions) (domain.Actor, error) {
	const op = "update admin"
	if opts.Profile != nil {
		if err := opts.Profile.validate(); err != nil {
			return domain.Actor{}, err
		}
	}
	var hash string
	if opts.Password != "" {
		if err := credential.ValidatePassword(opts.Password); err != nil {
			return domain.Actor{}, domain.Invalid("password", "%v", err)
		}
		h, err := credential.Hash(opts.Password)
		if err != nil {
			return domain.Actor{}, domain.PersistenceError{Op: "hash password", Err: err}
		}
		hash = h
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	super, err := e.actor(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.Actor{}, err
	}
	target, err := e.staffTarget(ctx, tx, op, super, opts.TargetID)
	if err != nil {
		return domain.Actor{}, err
	}
	if opts.Profile != nil {
		opts.Profile.apply(&target)
	}
	if opts.Active != nil {
		target.Active = *opts.Active
	}
	if hash != "" {
		target.PasswordHash = hash
	}
	target.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateActor(ctx, tx, target); err != nil {
		return domain.Actor{}, e.fail(op, err, "target_id", target.ID)
	}
	if err := e.commit(tx, op); err != nil {
		return domain.Actor{}, err
	}
	e.logger().Info("admin updated", "actor_id", target.ID, "by", super.ID, "active", target.Active)
	return target, nil
}

// ToggleAdminStatus flips another staff account between active and inactive.
func (e Engine) ToggleAdminStatus(ctx context.Context, actorID, targetID string) (domain.Actor, error) {
	const op = "toggle admin status"
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	super, err := e.actor(ctx, tx, actorID)
	if err != nil {
		return domain.Actor{}, err
	}
	target, err := e.staffTarget(ctx, tx, op, super, targetID)
	if err != nil {
		return domain.Actor{}, err
	}
	target.Active = !target.Active
	target.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateActor(ctx, tx, target); err != nil {
		return domain.Actor{}, e.fail(op, err, "target_id", target.ID)
	}
	if err := e.commit(tx, op); err != nil {
		return domain.Actor{}, err
	}
	e.logger().Info("admin status toggled", "actor_id", target.ID, "by", super.ID, "active", target.Active)
	return target, nil
}

// TransferSuperAdmin hands the super admin role to an active admin and
// demotes the caller to admin in the same transaction.
func (e Engine) TransferSuperAdmin(ctx context.Context, actorID, targetID string) (domain.Actor, domain.Actor, error) {
	const op = "transfer super admin"
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Actor{}, domain.Actor{}, err
	}
	defer tx.Rollback()
	super, err := e.actor(ctx, tx, actorID)
	if err != nil {
		return domain.Actor{}, domain.Actor{}, err
	}
	target, err := e.staffTarget(ctx, tx, op, super, targetID)
	if err != nil {
		return domain.Actor{}, domain.Actor{}, err
	}
	if !target.Active {
		return domain.Actor{}, domain.Actor{}, domain.StateError{Entity: "admin", ID: target.ID, Status: "inactive", Op: op}
	}
	now := e.timestamp()
	// Demote first: at most one super_admin row may exist at any time.
	super.Role = domain.RoleAdmin
	super.UpdatedAt = now
	if err := e.Repo.UpdateActor(ctx, tx, super); err != nil {
		return domain.Actor{}, domain.Actor{}, e.fail(op, err, "actor_id", super.ID)
	}
	target.Role = domain.RoleSuperAdmin
	target.UpdatedAt = now
	if err := e.Repo.UpdateActor(ctx, tx, target); err != nil {
		return domain.Actor{}, domain.Actor{}, e.fail(op, err, "target_id", target.ID)
	}
	if err := e.commit(tx, op); err != nil {
		return domain.Actor{}, domain.Actor{}, err
	}
	e.logger().Info("super admin transferred", "from", super.ID, "to", target.ID)
	return super, target, nil
}

// UpdateProfile edits the caller's own personal fields.
func (e Engine) UpdateProfile(ctx context.Context, actorID string, p Profile) (domain.Actor, error) {
	const op = "update profile"
	if err := p.validate(); err != nil {
		return domain.Actor{}, err
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	a, err := e.actor(ctx, tx, actorID)
	if err != nil {
		return domain.Actor{}, err
	}
	p.apply(&a)
	a.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateActor(ctx, tx, a); err != nil {
		return domain.Actor{}, e.fail(op, err, "actor_id", a.ID)
	}
	if err := e.commit(tx, op); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

// ChangePassword replaces the caller's password after checking the current one.
func (e Engine) ChangePassword(ctx context.Context, actorID, current, next string) error {
	const op = "change password"
	if err := credential.ValidatePassword(next); err != nil {
		return domain.Invalid("new_password", "%v", err)
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	a, err := e.actor(ctx, tx, actorID)
	if err != nil {
		return err
	}
	if err := credential.Compare(a.PasswordHash, current); err != nil {
		return domain.AuthorizationError{ActorID: a.ID, Reason: "current password is incorrect"}
	}
	hash, err := credential.Hash(next)
	if err != nil {
		return domain.PersistenceError{Op: "hash password", Err: err}
	}
	a.PasswordHash = hash
	a.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateActor(ctx, tx, a); err != nil {
		return e.fail(op, err, "actor_id", a.ID)
	}
	return e.commit(tx, op)
}

// GetActor returns the caller's own account.
func (e Engine) GetActor(ctx context.Context, actorID string) (domain.Actor, error) {
	return e.actor(ctx, nil, actorID)
}

// ListAdmins returns every staff account, oldest first.
func (e Engine) ListAdmins(ctx context.Context, actorID string) ([]domain.Actor, error) {
	a, err := e.actor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireSuperAdmin(a); err != nil {
		return nil, err
	}
	admins, err := e.Repo.ListActorsByRole(ctx, domain.RoleSuperAdmin, domain.RoleAdmin)
	if err != nil {
		return nil, e.fail("list admins", err)
	}
	return admins, nil
}

func (e Engine) ListClients(ctx context.Context, actorID string) ([]domain.Actor, error) {
	a, err := e.actor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireStaff(a); err != nil {
		return nil, err
	}
	clients, err := e.Repo.ListActorsByRole(ctx, domain.RoleClient)
	if err != nil {
		return nil, e.fail("list clients", err)
	}
	return clients, nil
}

// CreateAPIKey issues a key for the caller. The raw key is returned once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (string, domain.APIKey, error) {
	const op = "create api key"
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, e.fail(op, err)
	}
	raw := "dc_" + hex.EncodeToString(buf)
	tx, err := e.begin(ctx, op)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	defer tx.Rollback()
	a, err := e.actor(ctx, tx, actorID)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	if err := auth.RequireStaff(a); err != nil {
		return "", domain.APIKey{}, err
	}
	key := domain.APIKey{
		ID:        newID(),
		ActorID:   a.ID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.timestamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return "", domain.APIKey{}, e.fail(op, err, "actor_id", a.ID)
	}
	if err := e.commit(tx, op); err != nil {
		return "", domain.APIKey{}, err
	}
	e.logger().Info("api key created", "key_id", key.ID, "actor_id", a.ID)
	return raw, key, nil
}

// ResolveAPIKey returns the active actor owning a raw key.
func (e Engine) ResolveAPIKey(ctx context.Context, raw string) (domain.Actor, error) {
	key, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, domain.AuthorizationError{Reason: "invalid api key"}
	}
	if err != nil {
		return domain.Actor{}, e.fail("resolve api key", err)
	}
	return e.actor(ctx, nil, key.ActorID)
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	a, err := e.actor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	keys, err := e.Repo.ListAPIKeys(ctx, a.ID)
	if err != nil {
		return nil, e.fail("list api keys", err, "actor_id", a.ID)
	}
	return keys, nil
}

// DeleteAPIKey removes one of the caller's keys. Keys of other actors read as missing.
func (e Engine) DeleteAPIKey(ctx context.Context, actorID, id string) error {
	const op = "delete api key"
	a, err := e.actor(ctx, nil, actorID)
	if err != nil {
		return err
	}
	key, err := e.Repo.GetAPIKey(ctx, id)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && key.ActorID != a.ID) {
		return domain.NotFoundError{Entity: "api key", ID: id}
	}
	if err != nil {
		return e.fail(op, err, "key_id", id)
	}
	err = e.Repo.DeleteAPIKey(ctx, key.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.NotFoundError{Entity: "api key", ID: id}
	}
	if err != nil {
		return e.fail(op, err, "key_id", id)
	}
	e.logger().Info("api key deleted", "key_id", id, "actor_id", a.ID)
	return nil
}
