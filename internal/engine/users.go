package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tapeoutops/internal/domain"
	"tapeoutops/internal/engine/auth"
	"tapeoutops/internal/events"
	"tapeoutops/internal/repo"
)

const resetTokenTTL = time.Hour

type SignupInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name" validate:"max=200"`
}

// Signup creates a user. The first user of an empty system becomes admin.
func (e Engine) Signup(ctx context.Context, in SignupInput) (domain.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FullName = strings.TrimSpace(in.FullName)
	if err := e.validate(in); err != nil {
		return domain.User{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	now := e.timestamp()
	u := domain.User{
		ID:           uuid.New().String(),
		Email:        in.Email,
		PasswordHash: hash,
		FullName:     in.FullName,
		Role:         domain.RoleEngineer,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	n, err := e.Repo.CountUsers(ctx, tx)
	if err != nil {
		return domain.User{}, err
	}
	if n == 0 {
		u.Role = domain.RoleAdmin
	}
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.User{}, ConflictError{Message: "email already registered"}
		}
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "user.signup", ActorID: u.ID, ResourceType: "user", ResourceID: u.ID, Action: "create",
		Payload: events.EventPayload{"role": u.Role},
	}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at" format:"date-time"`
}

// Login checks credentials and issues an access token.
func (e Engine) Login(ctx context.Context, email, password string) (Token, domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return Token{}, domain.User{}, ErrInvalidCredentials
		}
		return Token{}, domain.User{}, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		e.auditFailure(ctx, events.Event{Type: "user.login", ActorID: u.ID, ResourceType: "user", ResourceID: u.ID, Action: "login"}, ErrInvalidCredentials)
		return Token{}, domain.User{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		return Token{}, domain.User{}, auth.ForbiddenError{Action: "log in with a deactivated account"}
	}
	tok, exp, err := e.Tokens.Issue(u)
	if err != nil {
		return Token{}, domain.User{}, err
	}
	if err := e.Events.AppendNow(ctx, events.Event{Type: "user.login", ActorID: u.ID, ResourceType: "user", ResourceID: u.ID, Action: "login"}); err != nil {
		e.logError("Login", "audit login", nil, err)
	}
	return Token{AccessToken: tok, TokenType: "bearer", ExpiresAt: exp.UTC().Format(time.RFC3339)}, u, nil
}

// Authenticate resolves an access token to its active user. The user is
// reloaded so role changes and deactivation apply immediately.
func (e Engine) Authenticate(ctx context.Context, token string) (domain.User, error) {
	claims, err := e.Tokens.Parse(token, auth.PurposeAccess)
	if err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return e.activeUser(ctx, claims.Subject)
}

// AuthenticateAPIKey resolves a plain API key to its active owner.
func (e Engine) AuthenticateAPIKey(ctx context.Context, key string) (domain.User, error) {
	if strings.TrimSpace(key) == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	k, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		if IsNotFound(err) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	return e.activeUser(ctx, k.UserID)
}

func (e Engine) activeUser(ctx context.Context, id string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if !u.IsActive {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	return e.Repo.GetUser(ctx, id)
}

func (e Engine) ListUsers(ctx context.Context, actor domain.Actor) ([]domain.User, error) {
	if err := auth.RequireAdmin(actor, "list users"); err != nil {
		return nil, err
	}
	return e.Repo.ListUsers(ctx)
}

type UserUpdateInput struct {
	FullName *string `json:"full_name" validate:"omitempty,max=200"`
	Role     *string `json:"role" validate:"omitempty,oneof=admin engineer pm"`
	IsActive *bool   `json:"is_active"`
}

// UpdateUser lets admins change anything and users change their own name.
func (e Engine) UpdateUser(ctx context.Context, actor domain.Actor, id string, in UserUpdateInput) (domain.User, error) {
	in.FullName = trimmed(in.FullName)
	if err := e.validate(in); err != nil {
		return domain.User{}, err
	}
	if !actor.IsAdmin() {
		if actor.UserID != id || in.Role != nil || in.IsActive != nil {
			return domain.User{}, auth.ForbiddenError{Action: "update user"}
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateUser(ctx, tx, id, repo.UserUpdate{
		FullName:  in.FullName,
		Role:      in.Role,
		IsActive:  in.IsActive,
		UpdatedAt: e.timestamp(),
	}); err != nil {
		return domain.User{}, err
	}
	payload := events.EventPayload{}
	if in.Role != nil {
		payload["role"] = *in.Role
	}
	if in.IsActive != nil {
		payload["is_active"] = *in.IsActive
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "user.updated", ActorID: actor.UserID, ResourceType: "user", ResourceID: id, Action: "update", Payload: payload,
	}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, id)
}

// RequestPasswordReset mails a reset link when the address belongs to an
// active user. It reports success either way.
func (e Engine) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	if !u.IsActive {
		return nil
	}
	tok, err := e.Tokens.IssueReset(u, resetTokenTTL)
	if err != nil {
		return err
	}
	link := strings.TrimRight(e.Config.HTTP.PublicURL, "/") + "/reset-password?token=" + tok
	e.sendMail(u.Email, "Password Reset Request", "Click the link to reset your password: "+link+"\n\nThe link expires in one hour.")
	if err := e.Events.AppendNow(ctx, events.Event{Type: "user.password_reset_requested", ActorID: u.ID, ResourceType: "user", ResourceID: u.ID, Action: "reset_request"}); err != nil {
		e.logError("RequestPasswordReset", "audit", nil, err)
	}
	return nil
}

type ResetPasswordInput struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

func (e Engine) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	if err := e.validate(in); err != nil {
		return err
	}
	claims, err := e.Tokens.Parse(in.Token, auth.PurposePasswordReset)
	if err != nil {
		return ValidationError{Field: "token", Message: "is invalid or expired"}
	}
	hash, err := auth.HashPassword(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateUser(ctx, tx, claims.Subject, repo.UserUpdate{PasswordHash: &hash, UpdatedAt: e.timestamp()}); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "user.password_reset", ActorID: claims.Subject, ResourceType: "user", ResourceID: claims.Subject, Action: "reset",
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateAPIKey returns the stored key and its plain value, which is not
// recoverable afterwards.
func (e Engine) CreateAPIKey(ctx context.Context, actor domain.Actor, name string) (domain.APIKey, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "tok_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    actor.UserID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "api_key.created", ActorID: actor.UserID, ResourceType: "api_key", ResourceID: key.ID, Action: "create",
	}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actor domain.Actor) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, actor.UserID)
}

func (e Engine) DeleteAPIKey(ctx context.Context, actor domain.Actor, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKey(ctx, tx, actor.UserID, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "api_key.deleted", ActorID: actor.UserID, ResourceType: "api_key", ResourceID: id, Action: "delete",
	}); err != nil {
		return err
	}
	return tx.Commit()
}
