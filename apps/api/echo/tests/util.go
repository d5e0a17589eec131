package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/chuo/apps/api/echo"
	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/audit"
	"github.com/trezcool/chuo/core/form"
	"github.com/trezcool/chuo/core/notify"
	"github.com/trezcool/chuo/core/schema"
	"github.com/trezcool/chuo/core/user"
	appfs "github.com/trezcool/chuo/fs"
	"github.com/trezcool/chuo/services/channels"
	emailsvc "github.com/trezcool/chuo/services/email"
	inmemdb "github.com/trezcool/chuo/storage/database/inmem"
	testutil "github.com/trezcool/chuo/tests"
	"github.com/trezcool/chuo/tests/mocks"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testApp struct {
	echoapi.Server
	conf     *core.Config
	repo     user.Repository
	audits   *audit.MemoryStore
	auditLog *audit.Logger
	notifs   *notify.MemoryStore
	subs     *notify.MemorySubscriptions
	mail     *emailsvc.ConsoleService
	logger   *mocks.Logger
}

// setup wires the API the way main does, on in-memory stores. Notifications are delivered by email only.
func setup(t *testing.T, configure ...func(conf *core.Config)) *testApp {
	t.Helper()

	conf := testutil.Config()
	for _, fn := range configure {
		fn(conf)
	}
	logger := new(mocks.Logger)
	validate, translator, v := testutil.NewValidators(t)
	core.ParseEmailTemplates(appfs.FS, conf, logger)

	app := &testApp{
		conf:   conf,
		repo:   inmemdb.NewUserRepository(inmemdb.Open()),
		audits: audit.NewMemoryStore(),
		notifs: notify.NewMemoryStore(),
		subs:   notify.NewMemorySubscriptions(),
		mail:   emailsvc.NewConsoleServiceMock(conf, logger),
		logger: logger,
	}
	app.auditLog = audit.NewLogger(audit.NewStoreSink(app.audits), logger)
	t.Cleanup(app.auditLog.Close)

	router := notify.NewRouter(app.notifs, logger)
	usrSvc := user.NewService(user.Deps{
		Conf:      conf,
		Repo:      app.repo,
		Validator: v,
		Mail:      app.mail,
		Audit:     app.auditLog,
		Notifier:  notify.NewDispatcher(router),
		Logger:    logger,
	})
	router.Route(notify.ChannelEmail, channels.NewEmail(app.mail, channels.NewUserDirectory(usrSvc)))

	schemas := schema.Builtin()
	require.NoError(t, schemas.LoadFS(appfs.FS, "schemas"))
	require.NoError(t, schemas.Register(usrSvc.FormSchema()))
	forms := form.NewManager(context.Background(), v, schemas, logger, form.WithMaxPerOwner(conf.Forms.MaxPerUser))
	forms.Handle("user", usrSvc.SubmitCreate)
	t.Cleanup(forms.CloseAll)

	app.Server = echoapi.NewServer(echoapi.ServerDeps{
		Conf:          conf,
		Logger:        logger,
		UserSvc:       usrSvc,
		Validate:      validate,
		Translator:    translator,
		Validator:     v,
		Schemas:       schemas,
		Forms:         forms,
		AuditStore:    app.audits,
		NotifySink:    router,
		Inbox:         app.notifs,
		Subscriptions: app.subs,
	})
	return app
}

func (app *testApp) createUser(t *testing.T, name, uname, role string, status ...string) user.User {
	t.Helper()
	st := user.StatusActive
	if len(status) > 0 {
		st = status[0]
	}
	return testutil.CreateUser(t, app.repo, name, uname, uname+"@chuo.test", testutil.StrongPassword, role, st)
}

func (app *testApp) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := echoapi.GenerateToken(app.conf, echoapi.GetUserClaims(app.conf, usr))
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

// auditEntries waits for the audit entries in flight, then lists them (latest first).
func (app *testApp) auditEntries(t *testing.T) []audit.Entry {
	t.Helper()
	app.auditLog.Flush()
	entries, err := app.audits.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	return entries
}

func (app *testApp) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	app.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte // not checked if nil
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj(): %v", err)
	}
	return data
}

func marshallList(t *testing.T, objs ...interface{}) []byte {
	t.Helper()
	if objs == nil {
		objs = []interface{}{}
	}
	return marshallObj(t, objs)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("json.Unmarshal(%s): %v", rec.Body.String(), err)
	}
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
	}
	if tt.wantData == nil {
		return
	}
	var got, want interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("json.Unmarshal(body) failed: %v; body %s", err, rec.Body.String())
	}
	if err := json.Unmarshal(tt.wantData, &want); err != nil {
		t.Fatalf("json.Unmarshal(wantData) failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func runHTTPTests(t *testing.T, app *testApp, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
