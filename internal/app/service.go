package app

import (
	"context"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"formdeck/api/internal/analytics"
	"formdeck/api/internal/auth"
	"formdeck/api/internal/authpw"
	"formdeck/api/internal/config"
	"formdeck/api/internal/email"
	"formdeck/api/internal/export"
	"formdeck/api/internal/form"
	"formdeck/api/internal/gitrepo"
	"formdeck/api/internal/importer"
	"formdeck/api/internal/rbac"
	"formdeck/api/internal/reorder"
	"formdeck/api/internal/search"
	"formdeck/api/internal/session"
	"formdeck/api/internal/storage"
	"formdeck/api/internal/store"
	"formdeck/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	authpw.UserStore
	analytics.Store

	ListForms(context.Context) ([]store.FormSummary, error)
	GetFormBySlug(context.Context, string) (store.Form, error)
	CreateForm(context.Context, store.Form) error
	UpdateForm(context.Context, store.Form) error
	SetFormStatus(context.Context, string, string) (store.Form, error)
	DeleteForm(context.Context, string) error

	InsertFields(context.Context, string, []form.Field) error
	UpdateField(context.Context, form.Field) error
	DeleteField(context.Context, string, string, []reorder.Placement) error
	SaveFieldOrder(context.Context, string, []reorder.Placement) error

	InsertSubmission(context.Context, store.Submission) (store.Response, error)
	GetResponse(context.Context, string, string) (store.Response, error)
	CountResponses(context.Context, string, *time.Time) (int, error)
	DeleteResponse(context.Context, string, string) error
	InsertUpload(context.Context, store.Upload) (store.Upload, error)
	GetUploadByKey(context.Context, string) (store.Upload, error)

	ListDashboards(context.Context) ([]store.Dashboard, error)
	UpdateDashboard(context.Context, store.Dashboard) error
	DeleteDashboard(context.Context, string) error

	Ping(ctx context.Context) error
}

// sessionStore holds refresh sessions and revoked access tokens. Postgres
// serves it by default; Redis takes over when configured.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type revisionStore interface {
	CommitRevision(string, gitrepo.Snapshot, string) (store.CommitInfo, error)
	History(string, int) ([]store.CommitInfo, error)
	Snapshot(string, string) (gitrepo.Snapshot, store.CommitInfo, error)
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexForm(search.FormRecord)
	IndexResponse(search.ResponseRecord)
	DeleteForm(string)
	DeleteResponse(string)
}

type exporter interface {
	ParseFormat(string) (export.Format, error)
	Render(context.Context, export.Format, export.Dataset) (*export.Result, error)
}

type documentImporter interface {
	IsConfigured() bool
	Import(context.Context, string, io.Reader, func(string)) ([]form.Imported, error)
}

type fileStore interface {
	Put(context.Context, storage.Upload) (form.FileRef, error)
	DownloadURL(context.Context, string, string) (string, error)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendResponseNotification(to string, notice email.ResponseNotice) error
}

type submitLimiter interface {
	Allow(ctx context.Context, formID, clientKey string) (bool, error)
}

// Dependencies are the optional collaborators wired by cmd/api. Nil members
// fall back to a disabled or in-process implementation.
type Dependencies struct {
	Sessions  *session.RedisStore
	Revisions *gitrepo.Service
	Search    *search.Service
	Exports   *export.Service
	Importer  *importer.Client
	Files     *storage.Service
	Mail      *email.Service
	Limiter   *session.SubmitLimiter
}

type Service struct {
	cfg        config.Config
	store      dataStore
	sessions   sessionStore
	git        revisionStore
	search     searchIndex
	exports    exporter
	importer   documentImporter
	files      fileStore
	mail       mailer
	limiter    submitLimiter
	accounts   *authpw.Service
	dashboards *analytics.Service
	fieldOrder *reorder.Guard
	background func(func())
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Dependencies) *Service {
	s := &Service{
		cfg:        cfg,
		store:      dataStore,
		sessions:   dataStore,
		files:      deps.Files,
		limiter:    deps.Limiter,
		accounts:   authpw.NewService(dataStore),
		dashboards: analytics.NewService(dataStore),
		fieldOrder: reorder.NewGuard(),
		background: func(fn func()) { go fn() },
	}
	if deps.Sessions != nil {
		s.sessions = deps.Sessions
	}
	if deps.Revisions != nil {
		s.git = deps.Revisions
	} else {
		s.git = gitrepo.New(cfg.FormsRepoDir)
	}
	if deps.Search != nil {
		s.search = deps.Search
	} else {
		s.search = search.NewService(nil, search.NewPgFTS(dataStore.DB()))
	}
	if deps.Exports != nil {
		s.exports = deps.Exports
	} else {
		s.exports = export.NewService(cfg.ChromeURL)
	}
	if deps.Importer != nil {
		s.importer = deps.Importer
	} else {
		s.importer = importer.NewClient(cfg.ImportURL, cfg.ImportAPIKey, cfg.ImportTimeout)
	}
	if deps.Mail != nil {
		s.mail = deps.Mail
	} else {
		s.mail = email.NewService(email.Config{})
	}
	return s
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.accounts
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

// SignUp creates an unverified account and mails the verification link
// when SMTP is configured.
func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (authpw.SignUpResponse, error) {
	resp, err := s.accounts.SignUp(ctx, req)
	if err != nil {
		return authpw.SignUpResponse{}, err
	}
	if s.SMTPConfigured() {
		link := s.publicURL("/verify-email", url.Values{"token": {resp.VerificationToken}})
		to, name := strings.TrimSpace(req.Email), strings.TrimSpace(req.DisplayName)
		s.background(func() {
			if err := s.mail.SendVerificationEmail(to, name, link); err != nil {
				log.Printf("send verification email to user %s: %v", resp.UserID, err)
			}
		})
	}
	return resp, nil
}

// SignIn checks credentials and opens a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// RequestPasswordReset returns the reset token, or "" for unknown emails.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddr string) (string, error) {
	token, user, err := s.accounts.RequestPasswordReset(ctx, emailAddr)
	if err != nil || token == "" {
		return "", err
	}
	if s.SMTPConfigured() {
		link := s.publicURL("/reset-password", url.Values{"token": {token}})
		s.background(func() {
			if err := s.mail.SendPasswordResetEmail(user.Email, user.DisplayName, link); err != nil {
				log.Printf("send password reset email to user %s: %v", user.ID, err)
			}
		})
	}
	return token, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The Redis store only knows the user id.
	user, err = s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, authpw.ErrDeactivated
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Iat:   now.Unix(),
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
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

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			log.Printf("revoke access token %s: %v", session.JTI, err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			log.Printf("revoke refresh session: %v", err)
		}
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) publicURL(path string, query url.Values) string {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	if len(query) == 0 {
		return base + path
	}
	return base + path + "?" + query.Encode()
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
