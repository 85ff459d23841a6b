package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"emberpad/api/internal/auth"
	"emberpad/api/internal/authpw"
	"emberpad/api/internal/config"
	"emberpad/api/internal/editor"
	"emberpad/api/internal/search"
	"emberpad/api/internal/store"
	"emberpad/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	ListNotes(context.Context, string) ([]store.Note, error)
	GetNote(context.Context, string) (store.Note, error)
	InsertNote(context.Context, store.Note) error
	UpdateNoteFields(context.Context, string, string, store.NoteFields) error
	DeleteNote(context.Context, string, string) error
	Ping(ctx context.Context) error
}

// refreshStore holds refresh tokens. Redis when configured, otherwise
// the Postgres store serves double duty.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg     config.Config
	store   dataStore
	refresh refreshStore
	authPw  *authpw.Service
	editors *editor.Manager
	search  *search.Service
}

// New wires the service. refreshStore and searchService may be nil:
// refresh tokens then live in Postgres and search degrades to PG FTS
// only when the caller passes a pgfts-only search service.
func New(cfg config.Config, dataStore *store.PostgresStore, refresh refreshStore, searchService *search.Service) *Service {
	s := &Service{
		cfg:    cfg,
		store:  dataStore,
		authPw: authpw.NewService(dataStore),
		search: searchService,
	}
	if refresh != nil {
		s.refresh = refresh
	} else {
		s.refresh = dataStore
	}
	s.editors = editor.NewManager(&noteSaver{store: s.store, search: searchService}, editor.Config{
		FadeDelay:    cfg.FadeDelay,
		DecayTick:    cfg.DecayTick,
		SaveDebounce: cfg.SaveDebounce,
	})
	return s
}

// AuthPasswordService exposes the email/password auth service to the
// HTTP layer.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authPw
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Shutdown closes every open editor session, flushing pending saves.
func (s *Service) Shutdown(ctx context.Context) {
	s.editors.CloseAll(ctx)
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.refresh.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// The Redis backend stores only the user ID.
	if user.Email == "" {
		user, err = s.store.GetUserByID(ctx, user.ID)
		if err != nil {
			return Session{}, err
		}
	}
	if err := s.refresh.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.refresh.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.refresh.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// noteUnavailable is the single answer for both a note that does not
// exist and a note the caller cannot access, so the response leaks
// neither.
func noteUnavailable() *DomainError {
	return domainError(http.StatusNotFound, "NOTE_UNAVAILABLE", "Note not found or access denied", nil)
}

// fetchOwned loads a note and verifies ownership.
func (s *Service) fetchOwned(ctx context.Context, noteID, userID string) (store.Note, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		if isNoRows(err) {
			return store.Note{}, noteUnavailable()
		}
		return store.Note{}, err
	}
	if note.OwnerID != userID {
		return store.Note{}, noteUnavailable()
	}
	return note, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (s *Service) ListNotes(ctx context.Context, session Session) ([]map[string]any, error) {
	notes, err := s.store.ListNotes(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notes))
	for _, n := range notes {
		items = append(items, notePayload(n))
	}
	return items, nil
}

func (s *Service) CreateNote(ctx context.Context, session Session, title string) (map[string]any, error) {
	if title == "" {
		title = "Untitled"
	}
	note := store.Note{
		ID:         util.NewID("note"),
		OwnerID:    session.UserID,
		Title:      title,
		IsEditable: true,
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return nil, err
	}
	s.indexNote(note)
	return notePayload(note), nil
}

func (s *Service) GetNoteSummary(ctx context.Context, session Session, noteID string) (map[string]any, error) {
	note, err := s.fetchOwned(ctx, noteID, session.UserID)
	if err != nil {
		return nil, err
	}
	return notePayload(note), nil
}

// DeleteNote removes a note after explicit confirmation. An open editor
// session for the note is torn down first.
func (s *Service) DeleteNote(ctx context.Context, session Session, noteID string, confirmed bool) error {
	if !confirmed {
		return domainError(http.StatusConflict, "CONFIRM_REQUIRED", "Deletion requires confirmation", nil)
	}
	if _, err := s.fetchOwned(ctx, noteID, session.UserID); err != nil {
		return err
	}
	_ = s.editors.Close(ctx, noteID)
	if err := s.store.DeleteNote(ctx, noteID, session.UserID); err != nil {
		if isNoRows(err) {
			return noteUnavailable()
		}
		return err
	}
	if s.search != nil {
		s.search.DeleteNote(noteID)
	}
	return nil
}

// EditorEntry answers a request to open the editor surface. A published
// note cannot be edited; the caller is redirected to the viewer.
func (s *Service) EditorEntry(ctx context.Context, session Session, noteID string) (map[string]any, error) {
	note, err := s.fetchOwned(ctx, noteID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !note.IsEditable {
		return nil, domainError(http.StatusConflict, "NOTE_PUBLISHED", "Note is published and read-only",
			map[string]any{"location": "/notes/" + noteID + "/view"})
	}
	return notePayload(note), nil
}

// ViewerEntry answers a request to open the read-only viewer. An
// editable note belongs in the editor; the caller is redirected there.
func (s *Service) ViewerEntry(ctx context.Context, session Session, noteID string) (map[string]any, error) {
	note, err := s.fetchOwned(ctx, noteID, session.UserID)
	if err != nil {
		return nil, err
	}
	if note.IsEditable {
		return nil, domainError(http.StatusConflict, "NOTE_EDITABLE", "Note is still editable",
			map[string]any{"location": "/notes/" + noteID + "/edit"})
	}
	return notePayload(note), nil
}

func (s *Service) OpenEditorSession(ctx context.Context, session Session, noteID string) (map[string]any, error) {
	note, err := s.fetchOwned(ctx, noteID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !note.IsEditable {
		return nil, domainError(http.StatusConflict, "NOTE_PUBLISHED", "Note is published and read-only",
			map[string]any{"location": "/notes/" + noteID + "/view"})
	}
	es := s.editors.Open(note.ID, note.OwnerID, note.Title, note.Content, !note.IsEditable)
	return sessionPayload(es.Snapshot()), nil
}

func (s *Service) editorSession(noteID string) (*editor.Session, error) {
	es, ok := s.editors.Get(noteID)
	if !ok {
		return nil, domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "No open editor session for this note", nil)
	}
	return es, nil
}

func (s *Service) EditorSnapshot(ctx context.Context, session Session, noteID string) (map[string]any, error) {
	if _, err := s.fetchOwned(ctx, noteID, session.UserID); err != nil {
		return nil, err
	}
	es, err := s.editorSession(noteID)
	if err != nil {
		return nil, err
	}
	return sessionPayload(es.Snapshot()), nil
}

func (s *Service) ApplyEdits(ctx context.Context, session Session, noteID string, edits []editor.BlockEdit) (map[string]any, error) {
	if _, err := s.fetchOwned(ctx, noteID, session.UserID); err != nil {
		return nil, err
	}
	es, err := s.editorSession(noteID)
	if err != nil {
		return nil, err
	}
	if err := es.ApplyEdits(edits); err != nil {
		return nil, mapEditorError(err, noteID)
	}
	return sessionPayload(es.Snapshot()), nil
}

func (s *Service) UpdateTitle(ctx context.Context, session Session, noteID, title string, commit bool) (map[string]any, error) {
	if _, err := s.fetchOwned(ctx, noteID, session.UserID); err != nil {
		return nil, err
	}
	es, err := s.editorSession(noteID)
	if err != nil {
		return nil, err
	}
	if err := es.SetTitleDraft(title); err != nil {
		return nil, mapEditorError(err, noteID)
	}
	if commit {
		if err := es.CommitTitle(); err != nil {
			return nil, mapEditorError(err, noteID)
		}
	}
	return sessionPayload(es.Snapshot()), nil
}

func (s *Service) CancelTitleEdit(ctx context.Context, session Session, noteID string) (map[string]any, error) {
	if _, err := s.fetchOwned(ctx, noteID, session.UserID); err != nil {
		return nil, err
	}
	es, err := s.editorSession(noteID)
	if err != nil {
		return nil, err
	}
	es.CancelTitleEdit()
	return sessionPayload(es.Snapshot()), nil
}

func (s *Service) CloseEditorSession(ctx context.Context, session Session, noteID string) error {
	if _, err := s.fetchOwned(ctx, noteID, session.UserID); err != nil {
		return err
	}
	return s.editors.Close(ctx, noteID)
}

// Publish makes a note permanently read-only. With an open editor
// session the session enforces the in-flight save guard; otherwise the
// persisted content is published as-is.
func (s *Service) Publish(ctx context.Context, session Session, noteID string, confirmed bool) (map[string]any, error) {
	note, err := s.fetchOwned(ctx, noteID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !note.IsEditable {
		return nil, domainError(http.StatusConflict, "NOTE_PUBLISHED", "Note is published and read-only",
			map[string]any{"location": "/notes/" + noteID + "/view"})
	}

	if es, ok := s.editors.Get(noteID); ok {
		if err := es.Publish(ctx, confirmed); err != nil {
			return nil, mapEditorError(err, noteID)
		}
	} else {
		if !confirmed {
			return nil, domainError(http.StatusConflict, "CONFIRM_REQUIRED", "Publishing requires confirmation", nil)
		}
		editable := false
		if err := s.store.UpdateNoteFields(ctx, noteID, session.UserID, store.NoteFields{IsEditable: &editable}); err != nil {
			if isNoRows(err) {
				return nil, noteUnavailable()
			}
			return nil, err
		}
		note.IsEditable = false
		s.indexNote(note)
	}

	published, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	return notePayload(published), nil
}

// PublicShare serves a published note without authentication. Editable
// notes are indistinguishable from missing ones.
func (s *Service) PublicShare(ctx context.Context, noteID string) (map[string]any, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		if isNoRows(err) {
			return nil, noteUnavailable()
		}
		return nil, err
	}
	if note.IsEditable {
		return nil, noteUnavailable()
	}
	return map[string]any{
		"id":          note.ID,
		"title":       note.Title,
		"content":     note.Content,
		"publishedAt": note.UpdatedAt,
	}, nil
}

// Search runs full-text search over the caller's notes plus published
// ones.
func (s *Service) Search(ctx context.Context, session Session, text string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:   text,
		UserID: session.UserID,
		Limit:  limit,
		Offset: offset,
	}), nil
}

func mapEditorError(err error, noteID string) error {
	switch {
	case errors.Is(err, editor.ErrNotePublished):
		return domainError(http.StatusConflict, "NOTE_PUBLISHED", "Note is published and read-only",
			map[string]any{"location": "/notes/" + noteID + "/view"})
	case errors.Is(err, editor.ErrSaveInFlight):
		return domainError(http.StatusConflict, "SAVE_IN_FLIGHT", "A save is still in flight, try again shortly", nil)
	case errors.Is(err, editor.ErrConfirmRequired):
		return domainError(http.StatusConflict, "CONFIRM_REQUIRED", "Publishing requires confirmation", nil)
	case errors.Is(err, editor.ErrSessionClosed):
		return domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "No open editor session for this note", nil)
	}
	return err
}

func notePayload(n store.Note) map[string]any {
	return map[string]any{
		"id":        n.ID,
		"title":     n.Title,
		"content":   n.Content,
		"editable":  n.IsEditable,
		"published": !n.IsEditable,
		"createdAt": n.CreatedAt,
		"updatedAt": n.UpdatedAt,
	}
}

func sessionPayload(v editor.View) map[string]any {
	payload := map[string]any{
		"noteId":     v.NoteID,
		"title":      v.Title,
		"titleDraft": v.TitleDraft,
		"blocks":     v.Blocks,
		"content":    v.Content,
		"saveStatus": v.SaveStatus,
		"published":  v.Published,
	}
	if v.SaveError != "" {
		payload["saveError"] = v.SaveError
	}
	return payload
}

func (s *Service) indexNote(n store.Note) {
	if s.search == nil {
		return
	}
	s.search.IndexNote(search.NoteRecord{
		ID:        n.ID,
		OwnerID:   n.OwnerID,
		Title:     n.Title,
		Content:   n.Content,
		Published: !n.IsEditable,
	})
}

// noteSaver adapts the note store to the editor's persistence
// interface.
type noteSaver struct {
	store  dataStore
	search *search.Service
}

func (ns *noteSaver) Save(ctx context.Context, noteID, ownerID, content, title string) error {
	if err := ns.store.UpdateNoteFields(ctx, noteID, ownerID, store.NoteFields{Content: &content, Title: &title}); err != nil {
		return err
	}
	ns.reindex(ctx, noteID)
	return nil
}

func (ns *noteSaver) Publish(ctx context.Context, noteID, ownerID, content, title string) error {
	editable := false
	if err := ns.store.UpdateNoteFields(ctx, noteID, ownerID, store.NoteFields{Content: &content, Title: &title, IsEditable: &editable}); err != nil {
		return err
	}
	ns.reindex(ctx, noteID)
	return nil
}

func (ns *noteSaver) reindex(ctx context.Context, noteID string) {
	if ns.search == nil {
		return
	}
	note, err := ns.store.GetNote(ctx, noteID)
	if err != nil {
		return
	}
	ns.search.IndexNote(search.NoteRecord{
		ID:        note.ID,
		OwnerID:   note.OwnerID,
		Title:     note.Title,
		Content:   note.Content,
		Published: !note.IsEditable,
	})
}
