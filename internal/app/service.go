package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"inkwell/api/internal/audit"
	"inkwell/api/internal/auth"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/config"
	"inkwell/api/internal/item"
	"inkwell/api/internal/rbac"
	"inkwell/api/internal/search"
	"inkwell/api/internal/session"
	"inkwell/api/internal/sharing"
	"inkwell/api/internal/users"
	"inkwell/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	Username     string
	DisplayName  string
	Admin        bool
	JTI          string
	ExpiresAt    time.Time
}

// Actor is the identity the sharing engine checks permissions against.
func (s Session) Actor() sharing.Actor {
	return sharing.Actor{Username: s.Username, Admin: s.Admin}
}

type ItemInput struct {
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content,omitempty"`
}

type ShareInput struct {
	Receiver    string               `json:"receiver"`
	Permissions *sharing.Permissions `json:"permissions,omitempty"`
}

type MoveInput struct {
	NewCategory string `json:"newCategory"`
	NewID       string `json:"newId"`
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, username string, admin bool, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, username string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

type auditReader interface {
	ListEvents(ctx context.Context, limit int) ([]audit.Event, error)
}

type Service struct {
	cfg      config.Config
	users    *users.Store
	items    *item.FileStore
	engine   *sharing.Engine
	auth     *authpw.Service
	sessions sessionStore
	search   *search.Service
	auditLog auditReader
}

func New(cfg config.Config, userStore *users.Store, itemStore *item.FileStore, engine *sharing.Engine, authSvc *authpw.Service, sessions sessionStore, searchSvc *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		users:    userStore,
		items:    itemStore,
		engine:   engine,
		auth:     authSvc,
		sessions: sessions,
		search:   searchSvc,
	}
}

// SetAuditLog wires the optional persistent audit trail used by the admin
// audit endpoint.
func (s *Service) SetAuditLog(reader auditReader) {
	s.auditLog = reader
}

func (s *Service) Ping(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

// Auth and sessions

func (s *Service) SignUp(ctx context.Context, username, password, displayName string) (Session, error) {
	user, err := s.auth.SignUp(authpw.SignUpRequest{
		Username:    username,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, username, password string) (Session, error) {
	user, err := s.auth.SignIn(username, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.users.Get(data.Username)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user users.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.Username,
		Admin: user.Admin,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.Username, user.Admin, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		Username:     user.Username,
		DisplayName:  user.DisplayName,
		Admin:        user.Admin,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.users.Get(claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:       token,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Admin:       user.Admin,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Content

func (s *Service) ListItems(sess Session, itemType item.Type) ([]map[string]any, error) {
	entries, err := s.items.List(sess.Username)
	if err != nil {
		if errors.Is(err, item.ErrInvalidPath) {
			return []map[string]any{}, nil
		}
		return nil, err
	}
	out := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		if entry.Metadata.Type != itemType {
			continue
		}
		out = append(out, map[string]any{
			"id":        entry.Location.ID,
			"category":  entry.Location.Category,
			"uuid":      entry.Metadata.UUID,
			"title":     entry.Metadata.Title,
			"updatedAt": entry.Metadata.UpdatedAt,
		})
	}
	return out, nil
}

// GetItem resolves and reads an item. Denied reads and missing items are
// indistinguishable on purpose: both come back NOT_FOUND so probing cannot
// reveal what exists.
func (s *Service) GetItem(sess Session, itemType item.Type, category, id string) (map[string]any, error) {
	category = item.NormalizeCategory(category)
	loc, ok := s.locateReadable(sess, itemType, category, id)
	if !ok {
		return nil, errNotFound()
	}
	stored, err := s.items.Read(loc.Owner, loc.Category, loc.ID)
	if err != nil {
		return nil, errNotFound()
	}
	payload := map[string]any{
		"id":        loc.ID,
		"category":  loc.Category,
		"uuid":      stored.UUID,
		"type":      stored.Type,
		"title":     stored.Title,
		"content":   stored.Content,
		"createdAt": stored.CreatedAt,
		"updatedAt": stored.UpdatedAt,
		"owned":     loc.Owner == sess.Username,
	}
	if perms := s.engine.GetItemPermissions(id, category, itemType, sess.Actor()); perms != nil {
		payload["permissions"] = perms
	}
	return payload, nil
}

func (s *Service) locateReadable(sess Session, itemType item.Type, category, id string) (item.Location, bool) {
	if s.items.Exists(sess.Username, category, id) {
		return item.Location{Owner: sess.Username, Category: category, ID: id}, true
	}
	return s.engine.SharedLocation(id, category, itemType, sess.Actor())
}

// SaveItem writes an item. The actor's own storage area wins: a save targets
// another owner's item only when the actor holds an edit grant for it and has
// no item of their own at that address.
func (s *Service) SaveItem(ctx context.Context, sess Session, itemType item.Type, category, id string, input ItemInput) (map[string]any, error) {
	category = item.NormalizeCategory(category)
	if strings.TrimSpace(id) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id is required", nil)
	}

	target := item.Location{Owner: sess.Username, Category: category, ID: id}
	if !s.items.Exists(sess.Username, category, id) {
		if loc, ok := s.engine.SharedLocation(id, category, itemType, sess.Actor()); ok && loc.Owner != sess.Username {
			if !s.engine.CanUserWriteItem(id, category, itemType, sess.Actor()) {
				return nil, errForbidden("You cannot edit this item")
			}
			target = loc
		}
	}

	saved, err := s.items.Write(target.Owner, target.Category, target.ID, item.Item{
		Type:    itemType,
		Title:   input.Title,
		Content: input.Content,
	})
	if err != nil {
		return nil, err
	}
	s.indexItem(target, saved)

	return map[string]any{
		"id":        target.ID,
		"category":  target.Category,
		"uuid":      saved.UUID,
		"title":     saved.Title,
		"updatedAt": saved.UpdatedAt,
		"owned":     target.Owner == sess.Username,
	}, nil
}

func (s *Service) DeleteItem(ctx context.Context, sess Session, itemType item.Type, category, id string) error {
	category = item.NormalizeCategory(category)

	target := item.Location{Owner: sess.Username, Category: category, ID: id}
	owned := s.items.Exists(sess.Username, category, id)
	if !owned {
		loc, ok := s.engine.SharedLocation(id, category, itemType, sess.Actor())
		if !ok {
			return errNotFound()
		}
		if !s.engine.CanUserDeleteItem(id, category, itemType, sess.Actor()) {
			return errForbidden("You cannot delete this item")
		}
		target = loc
	}

	meta, err := s.items.ReadMetadata(target.Owner, target.Category, target.ID)
	if err != nil {
		return errNotFound()
	}
	if err := s.items.Delete(target.Owner, target.Category, target.ID); err != nil {
		return err
	}

	oldRef := sharing.Ref{UUID: meta.UUID, ID: target.ID, Category: target.Category, Sharer: target.Owner}
	if err := s.engine.UpdateSharingData(itemType, oldRef, nil); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteItem(meta.UUID)
	}
	return nil
}

// MoveItem renames or recategorizes an item within the actor's own storage
// area, then runs the sharing consistency pass so grants follow the move.
func (s *Service) MoveItem(ctx context.Context, sess Session, itemType item.Type, category, id string, input MoveInput) (map[string]any, error) {
	category = item.NormalizeCategory(category)
	newCategory := item.NormalizeCategory(input.NewCategory)
	newID := strings.TrimSpace(input.NewID)
	if newID == "" {
		newID = id
	}
	if !s.items.Exists(sess.Username, category, id) {
		return nil, errNotFound()
	}
	meta, err := s.items.ReadMetadata(sess.Username, category, id)
	if err != nil {
		return nil, err
	}
	if meta.Type != itemType {
		return nil, errNotFound()
	}
	if s.items.Exists(sess.Username, newCategory, newID) && !(newCategory == category && newID == id) {
		return nil, domainError(http.StatusConflict, "ALREADY_EXISTS", "An item already exists at the target", nil)
	}
	if err := s.items.Move(sess.Username, category, id, newCategory, newID); err != nil {
		return nil, err
	}

	oldRef := sharing.Ref{UUID: meta.UUID, ID: id, Category: category, Sharer: sess.Username}
	newRef := sharing.Ref{UUID: meta.UUID, ID: newID, Category: newCategory, Sharer: sess.Username}
	if err := s.engine.UpdateSharingData(itemType, oldRef, &newRef); err != nil {
		return nil, err
	}

	if saved, err := s.items.Read(sess.Username, newCategory, newID); err == nil {
		s.indexItem(item.Location{Owner: sess.Username, Category: newCategory, ID: newID}, saved)
	}
	return map[string]any{
		"id":       newID,
		"category": newCategory,
		"uuid":     meta.UUID,
	}, nil
}

func (s *Service) indexItem(loc item.Location, stored item.Item) {
	if s.search == nil {
		return
	}
	s.search.IndexItem(search.ItemRecord{
		UUID:     stored.UUID,
		ID:       loc.ID,
		Category: loc.Category,
		Owner:    loc.Owner,
		Type:     stored.Type,
		Title:    stored.Title,
		Text:     search.FlattenContent(stored.Content),
	})
}

// Sharing

func (s *Service) ShareItem(ctx context.Context, sess Session, itemType item.Type, category, id string, input ShareInput) error {
	category = item.NormalizeCategory(category)
	receiver := strings.TrimSpace(input.Receiver)
	if receiver == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "receiver is required", nil)
	}
	if receiver == sess.Username {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "You already own this item", nil)
	}
	if !s.items.Exists(sess.Username, category, id) {
		return errNotFound()
	}
	if receiver != sharing.PublicReceiver {
		if _, err := s.users.Get(receiver); err != nil {
			return domainError(http.StatusUnprocessableEntity, "UNKNOWN_RECEIVER", "No such user", nil)
		}
	}

	perms := sharing.DefaultPermissions()
	if input.Permissions != nil {
		perms = *input.Permissions
	}
	return s.engine.ShareWith(ctx, id, category, sess.Username, receiver, itemType, perms)
}

func (s *Service) UnshareItem(ctx context.Context, sess Session, itemType item.Type, category, id, receiver string) error {
	category = item.NormalizeCategory(category)
	receiver = strings.TrimSpace(receiver)
	if receiver == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "receiver is required", nil)
	}
	if !s.items.Exists(sess.Username, category, id) {
		return errNotFound()
	}
	return s.engine.UnshareWith(ctx, id, category, sess.Username, receiver, itemType)
}

func (s *Service) UpdateItemPermissions(ctx context.Context, sess Session, itemType item.Type, category, id, receiver string, perms sharing.Permissions) error {
	category = item.NormalizeCategory(category)
	receiver = strings.TrimSpace(receiver)
	if receiver == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "receiver is required", nil)
	}
	if !s.items.Exists(sess.Username, category, id) {
		return errNotFound()
	}
	return s.engine.UpdateItemPermissions(ctx, id, category, itemType, receiver, perms, sess.Username)
}

func (s *Service) SharedWithMe(sess Session) (sharing.SharedItems, error) {
	return s.engine.AllSharedItemsForUser(sess.Username)
}

func (s *Service) AllShared(sess Session) (sharing.GlobalSharedItems, error) {
	if !sess.Admin {
		return sharing.GlobalSharedItems{}, errForbidden("")
	}
	return s.engine.AllSharedItems()
}

// Users

func (s *Service) Me(sess Session) map[string]any {
	return map[string]any{
		"username":    sess.Username,
		"displayName": sess.DisplayName,
		"role":        rbac.RoleOf(sess.Admin),
	}
}

func (s *Service) ChangePassword(sess Session, current, next string) error {
	return s.auth.ChangePassword(sess.Username, current, next)
}

// ChangeUsername renames the account and chases the name through every place
// it appears: the item tree, sharer fields on both grant stores, receiver
// keys on both grant stores, and any live sessions for the old name.
func (s *Service) ChangeUsername(ctx context.Context, sess Session, newUsername string) (Session, error) {
	newUsername = strings.TrimSpace(newUsername)
	if newUsername == sess.Username {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "That is already your username", nil)
	}

	user, err := s.users.Rename(sess.Username, newUsername)
	if err != nil {
		return Session{}, err
	}
	if err := s.items.RenameOwner(sess.Username, newUsername); err != nil {
		return Session{}, err
	}
	for _, itemType := range []item.Type{item.TypeNote, item.TypeChecklist} {
		oldRef := sharing.Ref{Sharer: sess.Username}
		newRef := sharing.Ref{Sharer: newUsername}
		if err := s.engine.UpdateSharingData(itemType, oldRef, &newRef); err != nil {
			return Session{}, err
		}
		if err := s.engine.UpdateReceiverUsername(sess.Username, newUsername, itemType); err != nil {
			return Session{}, err
		}
	}
	_ = s.sessions.RevokeAllForUser(ctx, sess.Username)
	if sess.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) ListUsers(sess Session) ([]map[string]any, error) {
	if !sess.Admin {
		return nil, errForbidden("")
	}
	list, err := s.users.List()
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(list))
	for _, user := range list {
		out = append(out, map[string]any{
			"username":    user.Username,
			"displayName": user.DisplayName,
			"role":        rbac.RoleOf(user.Admin),
			"createdAt":   user.CreatedAt,
		})
	}
	return out, nil
}

// Search

func (s *Service) Search(sess Session, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	actor := sess.Actor()
	return s.search.Search(q, func(r search.Result) bool {
		if r.Owner == sess.Username {
			return true
		}
		return s.engine.CanUserReadItem(r.ID, r.Category, r.Type, actor)
	})
}

// Audit

func (s *Service) AuditEvents(ctx context.Context, sess Session, limit int) ([]audit.Event, error) {
	if !sess.Admin {
		return nil, errForbidden("")
	}
	if s.auditLog == nil {
		return []audit.Event{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.auditLog.ListEvents(ctx, limit)
}
