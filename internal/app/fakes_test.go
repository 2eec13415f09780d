package app

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"formdeck/api/internal/analytics"
	"formdeck/api/internal/auth"
	"formdeck/api/internal/authpw"
	"formdeck/api/internal/config"
	"formdeck/api/internal/email"
	"formdeck/api/internal/export"
	"formdeck/api/internal/form"
	"formdeck/api/internal/gitrepo"
	"formdeck/api/internal/reorder"
	"formdeck/api/internal/search"
	"formdeck/api/internal/storage"
	"formdeck/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn     func(context.Context, string) (store.User, error)
	getUserByEmailFn  func(context.Context, string) (store.User, error)
	createUserFn      func(context.Context, store.User) error
	saveRefreshFn     func(context.Context, string, string, time.Time) error
	getFormFn         func(context.Context, string) (store.Form, error)
	getFormBySlugFn   func(context.Context, string) (store.Form, error)
	createFormFn      func(context.Context, store.Form) error
	setFormStatusFn   func(context.Context, string, string) (store.Form, error)
	listFieldsFn      func(context.Context, string) ([]form.Field, error)
	insertFieldsFn    func(context.Context, string, []form.Field) error
	saveFieldOrderFn  func(context.Context, string, []reorder.Placement) error
	deleteFieldFn     func(context.Context, string, string, []reorder.Placement) error
	insertSubmitFn    func(context.Context, store.Submission) (store.Response, error)
	listResponsesFn   func(context.Context, store.ResponseFilter) ([]store.Response, error)
	countResponsesFn  func(context.Context, string, *time.Time) (int, error)
	insertUploadFn    func(context.Context, store.Upload) (store.Upload, error)
	getUploadByKeyFn  func(context.Context, string) (store.Upload, error)
	getDashboardFn    func(context.Context, string) (store.Dashboard, error)
	createDashboardFn func(context.Context, store.Dashboard) error
	listWidgetsFn     func(context.Context, string) ([]store.Widget, error)
	insertWidgetFn    func(context.Context, store.Widget) (store.Widget, error)
	pingFn            func(context.Context) error
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) UpdateUserVerificationToken(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) VerifyUserEmail(context.Context, string) error            { return nil }
func (f *fakeStore) UpdateUserPassword(context.Context, string, string) error { return nil }
func (f *fakeStore) CreatePasswordReset(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) GetPasswordReset(context.Context, string) (string, error) {
	return "", sql.ErrNoRows
}
func (f *fakeStore) MarkPasswordResetUsed(context.Context, string) error { return nil }

func (f *fakeStore) SaveRefreshSession(ctx context.Context, hash, userID string, expires time.Time) error {
	if f.saveRefreshFn != nil {
		return f.saveRefreshFn(ctx, hash, userID, expires)
	}
	return nil
}
func (f *fakeStore) LookupRefreshSession(context.Context, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(context.Context, string) error         { return nil }
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) { return false, nil }

func (f *fakeStore) ListForms(context.Context) ([]store.FormSummary, error) { return nil, nil }
func (f *fakeStore) GetForm(ctx context.Context, id string) (store.Form, error) {
	if f.getFormFn != nil {
		return f.getFormFn(ctx, id)
	}
	return store.Form{}, sql.ErrNoRows
}
func (f *fakeStore) GetFormBySlug(ctx context.Context, slug string) (store.Form, error) {
	if f.getFormBySlugFn != nil {
		return f.getFormBySlugFn(ctx, slug)
	}
	return store.Form{}, sql.ErrNoRows
}
func (f *fakeStore) CreateForm(ctx context.Context, item store.Form) error {
	if f.createFormFn != nil {
		return f.createFormFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) UpdateForm(context.Context, store.Form) error { return nil }
func (f *fakeStore) SetFormStatus(ctx context.Context, id, status string) (store.Form, error) {
	if f.setFormStatusFn != nil {
		return f.setFormStatusFn(ctx, id, status)
	}
	return store.Form{ID: id, Status: status}, nil
}
func (f *fakeStore) DeleteForm(context.Context, string) error { return nil }

func (f *fakeStore) ListFields(ctx context.Context, formID string) ([]form.Field, error) {
	if f.listFieldsFn != nil {
		return f.listFieldsFn(ctx, formID)
	}
	return nil, nil
}
func (f *fakeStore) GetField(ctx context.Context, formID, fieldID string) (form.Field, error) {
	fields, err := f.ListFields(ctx, formID)
	if err != nil {
		return form.Field{}, err
	}
	if field, ok := form.Index(fields)[fieldID]; ok {
		return field, nil
	}
	return form.Field{}, sql.ErrNoRows
}
func (f *fakeStore) InsertFields(ctx context.Context, formID string, fields []form.Field) error {
	if f.insertFieldsFn != nil {
		return f.insertFieldsFn(ctx, formID, fields)
	}
	return nil
}
func (f *fakeStore) UpdateField(context.Context, form.Field) error { return nil }
func (f *fakeStore) DeleteField(ctx context.Context, formID, fieldID string, remaining []reorder.Placement) error {
	if f.deleteFieldFn != nil {
		return f.deleteFieldFn(ctx, formID, fieldID, remaining)
	}
	return nil
}
func (f *fakeStore) SaveFieldOrder(ctx context.Context, formID string, placements []reorder.Placement) error {
	if f.saveFieldOrderFn != nil {
		return f.saveFieldOrderFn(ctx, formID, placements)
	}
	return nil
}

func (f *fakeStore) InsertSubmission(ctx context.Context, sub store.Submission) (store.Response, error) {
	if f.insertSubmitFn != nil {
		return f.insertSubmitFn(ctx, sub)
	}
	return store.Response{ID: sub.ResponseID, FormID: sub.FormID, SubmittedAt: time.Now()}, nil
}
func (f *fakeStore) ListResponses(ctx context.Context, filter store.ResponseFilter) ([]store.Response, error) {
	if f.listResponsesFn != nil {
		return f.listResponsesFn(ctx, filter)
	}
	return nil, nil
}
func (f *fakeStore) GetResponse(context.Context, string, string) (store.Response, error) {
	return store.Response{}, sql.ErrNoRows
}
func (f *fakeStore) CountResponses(ctx context.Context, formID string, since *time.Time) (int, error) {
	if f.countResponsesFn != nil {
		return f.countResponsesFn(ctx, formID, since)
	}
	return 0, nil
}
func (f *fakeStore) DeleteResponse(context.Context, string, string) error { return nil }
func (f *fakeStore) InsertUpload(ctx context.Context, item store.Upload) (store.Upload, error) {
	if f.insertUploadFn != nil {
		return f.insertUploadFn(ctx, item)
	}
	return item, nil
}
func (f *fakeStore) GetUploadByKey(ctx context.Context, key string) (store.Upload, error) {
	if f.getUploadByKeyFn != nil {
		return f.getUploadByKeyFn(ctx, key)
	}
	return store.Upload{}, sql.ErrNoRows
}

func (f *fakeStore) ListDashboards(context.Context) ([]store.Dashboard, error) { return nil, nil }
func (f *fakeStore) GetDashboard(ctx context.Context, id string) (store.Dashboard, error) {
	if f.getDashboardFn != nil {
		return f.getDashboardFn(ctx, id)
	}
	return store.Dashboard{}, sql.ErrNoRows
}
func (f *fakeStore) CreateDashboard(ctx context.Context, item store.Dashboard) error {
	if f.createDashboardFn != nil {
		return f.createDashboardFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) UpdateDashboard(context.Context, store.Dashboard) error { return nil }
func (f *fakeStore) DeleteDashboard(context.Context, string) error          { return nil }
func (f *fakeStore) ListWidgets(ctx context.Context, id string) ([]store.Widget, error) {
	if f.listWidgetsFn != nil {
		return f.listWidgetsFn(ctx, id)
	}
	return nil, nil
}
func (f *fakeStore) GetWidget(context.Context, string, string) (store.Widget, error) {
	return store.Widget{}, sql.ErrNoRows
}
func (f *fakeStore) InsertWidget(ctx context.Context, item store.Widget) (store.Widget, error) {
	if f.insertWidgetFn != nil {
		return f.insertWidgetFn(ctx, item)
	}
	return item, nil
}
func (f *fakeStore) UpdateWidget(context.Context, store.Widget) error { return nil }
func (f *fakeStore) DeleteWidget(context.Context, string, string, []reorder.Placement) error {
	return nil
}
func (f *fakeStore) SaveWidgetOrder(context.Context, string, []reorder.Placement) error {
	return nil
}
func (f *fakeStore) FieldBreakdown(context.Context, string, string, int) ([]store.BreakdownRow, error) {
	return nil, nil
}
func (f *fakeStore) FieldAggregate(context.Context, string, string, string) (float64, bool, error) {
	return 0, false, nil
}
func (f *fakeStore) ResponseTimeseries(context.Context, string, string, string, string) ([]store.SeriesPoint, error) {
	return nil, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeGit struct {
	commitFn func(string, gitrepo.Snapshot, string) (store.CommitInfo, error)
}

func (f *fakeGit) CommitRevision(formID string, snap gitrepo.Snapshot, author string) (store.CommitInfo, error) {
	if f.commitFn != nil {
		return f.commitFn(formID, snap, author)
	}
	return store.CommitInfo{Hash: "abc123", Author: author, CreatedAt: time.Now()}, nil
}
func (f *fakeGit) History(string, int) ([]store.CommitInfo, error) {
	return nil, gitrepo.ErrNoRevisions
}
func (f *fakeGit) Snapshot(string, string) (gitrepo.Snapshot, store.CommitInfo, error) {
	return gitrepo.Snapshot{}, store.CommitInfo{}, gitrepo.ErrNoRevisions
}

type fakeSearch struct {
	forms     []search.FormRecord
	responses []search.ResponseRecord
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}
func (f *fakeSearch) IndexForm(rec search.FormRecord)         { f.forms = append(f.forms, rec) }
func (f *fakeSearch) IndexResponse(rec search.ResponseRecord) { f.responses = append(f.responses, rec) }
func (f *fakeSearch) DeleteForm(string)                       {}
func (f *fakeSearch) DeleteResponse(string)                   {}

type fakeImporter struct {
	records []form.Imported
	err     error
}

func (f *fakeImporter) IsConfigured() bool { return f.records != nil || f.err != nil }
func (f *fakeImporter) Import(_ context.Context, _ string, _ io.Reader, onStatus func(string)) ([]form.Imported, error) {
	onStatus("parsing")
	return f.records, f.err
}

type fakeFiles struct {
	putFn func(context.Context, storage.Upload) (form.FileRef, error)
}

func (f *fakeFiles) Put(ctx context.Context, upload storage.Upload) (form.FileRef, error) {
	if f.putFn != nil {
		return f.putFn(ctx, upload)
	}
	return form.FileRef{}, storage.ErrNotConfigured
}
func (f *fakeFiles) DownloadURL(_ context.Context, key, _ string) (string, error) {
	return "https://files.test/" + key, nil
}

type fakeMailer struct {
	configured    bool
	notifications []email.ResponseNotice
}

func (f *fakeMailer) IsConfigured() bool                                 { return f.configured }
func (f *fakeMailer) SendVerificationEmail(string, string, string) error { return nil }
func (f *fakeMailer) SendPasswordResetEmail(string, string, string) error {
	return nil
}
func (f *fakeMailer) SendResponseNotification(_ string, notice email.ResponseNotice) error {
	f.notifications = append(f.notifications, notice)
	return nil
}

type fakeLimiter struct {
	allow bool
	err   error
}

func (f fakeLimiter) Allow(context.Context, string, string) (bool, error) { return f.allow, f.err }

const testSecret = "test-secret"

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg:        config.Config{JWTSecret: testSecret, AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour, MaxUploadBytes: 1 << 20},
		store:      fs,
		sessions:   fs,
		git:        &fakeGit{},
		search:     &fakeSearch{},
		exports:    export.NewService(""),
		importer:   &fakeImporter{},
		files:      &fakeFiles{},
		mail:       &fakeMailer{},
		limiter:    fakeLimiter{allow: true},
		accounts:   authpw.NewService(fs),
		dashboards: analytics.NewService(fs),
		fieldOrder: reorder.NewGuard(),
		background: func(fn func()) { fn() },
	}
}

// newServerAndToken returns a server whose store knows a single active user
// with the given role, and a bearer token for that user.
func newServerAndToken(t *testing.T, role string, fs *fakeStore) (*HTTPServer, *Service, string) {
	t.Helper()
	userID := "user-" + role
	if fs.getUserByIDFn == nil {
		fs.getUserByIDFn = func(_ context.Context, id string) (store.User, error) {
			return store.User{ID: id, DisplayName: "Test User", Role: role}, nil
		}
	}
	svc := newTestService(fs)
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:  userID,
		Name: "Test User",
		Role: role,
		JTI:  "jti-" + role,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return NewHTTPServer(svc, "*"), svc, token
}
