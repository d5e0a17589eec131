package tests

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/chuo/apps/api/echo"
	"github.com/trezcool/chuo/core/audit"
	"github.com/trezcool/chuo/core/user"
	testutil "github.com/trezcool/chuo/tests"
)

func Test_userApi_login(t *testing.T) {
	app := setup(t)
	student := app.createUser(t, "John Kamau", "jkamau", user.RoleStudent)
	app.createUser(t, "Naughty Dog", "ndog", user.RoleStudent, user.StatusSuspended)

	login := func(uname, pwd string) []byte {
		return marshallObj(t, echoapi.LoginRequest{Username: uname, Password: pwd})
	}
	required := []string{"this field is required"}

	tests := []httpTest{
		{name: "malformed body", body: []byte(`{"username":`), wantCode: http.StatusBadRequest},
		{
			name: "required fields", body: []byte(`{}`), wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string][]string{"username": required, "password": required}),
		},
		{
			name: "unknown user", body: login("nobody", testutil.StrongPassword), wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", body: login("jkamau", "Wr0ng#Pass"), wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated account", body: login("ndog", testutil.StrongPassword), wantCode: http.StatusForbidden,
			wantData: marshallObj(t, httpErr{Error: "account deactivated"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/users/login"
	}
	runHTTPTests(t, app, tests)

	t.Run("valid credentials, case-insensitive username", func(t *testing.T) {
		rec := app.do(http.MethodPost, "/v1/users/login", "", login(" JKamau@chuo.test ", testutil.StrongPassword))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var res echoapi.LoginResponse
		decode(t, rec, &res)
		claims := new(echoapi.Claims)
		_, err := jwt.ParseWithClaims(res.Token, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(app.conf.SecretKey), nil
		})
		require.NoError(t, err)
		assert.Equal(t, student.ID, claims.Subject)
		assert.Equal(t, user.RoleStudent, claims.Role)
		assert.False(t, claims.IsAdmin)
	})
}

func Test_userApi_query(t *testing.T) {
	app := setup(t)

	now := time.Now().UTC()
	day := 24 * time.Hour
	create := func(name, uname, role, status string, createdAt time.Time) user.User {
		return testutil.CreateUser(t, app.repo, name, uname, uname+"@chuo.test", "", role, status, createdAt)
	}
	admin := create("Root Admin", "rootadmin", user.RoleAdmin, user.StatusActive, now.Add(-3*day))
	faculty := create("Jane Wanjiru", "jwanjiru", user.RoleFaculty, user.StatusActive, now.Add(-2*day))
	student := create("John Kamau", "jkamau", user.RoleStudent, user.StatusActive, now.Add(-day))
	graduate := create("Amina Otieno", "aotieno", user.RoleStudent, user.StatusGraduated, now)

	adminToken := app.token(t, admin)
	path := func(params ...string) string {
		v := make(url.Values)
		for i := 0; i+1 < len(params); i += 2 {
			v.Add(params[i], params[i+1])
		}
		return "/v1/users?" + v.Encode()
	}

	tests := []httpTest{
		{name: "auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errMissingToken)},
		{
			name: "admin required", path: "/v1/users", token: app.token(t, student), wantCode: http.StatusForbidden,
			wantData: marshallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "get all, latest first", path: "/v1/users", token: adminToken, wantData: marshallList(t, graduate, student, faculty, admin)},
		{name: "search (unknown)", path: path("search", "lol"), token: adminToken, wantData: marshallList(t)},
		{name: "search", path: path("search", "KAMAU"), token: adminToken, wantData: marshallList(t, student)},
		{name: "role", path: path("role", user.RoleStudent), token: adminToken, wantData: marshallList(t, graduate, student)},
		{
			name: "roles", path: path("role", user.RoleStudent, "role", user.RoleFaculty), token: adminToken,
			wantData: marshallList(t, graduate, student, faculty),
		},
		{name: "status", path: path("status", user.StatusGraduated), token: adminToken, wantData: marshallList(t, graduate)},
		{
			name: "created range", token: adminToken,
			path:     path("created_from", now.Add(-2*day).Format("2006-01-02"), "created_to", now.Add(-day).Format("2006-01-02")),
			wantData: marshallList(t, student, faculty),
		},
		{
			name: "invalid date", path: path("created_from", "yesterday"), token: adminToken, wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string][]string{"created_from": {"enter a valid date (YYYY-MM-DD)"}}),
		},
		{name: "order by name", path: path("ordering", "name"), token: adminToken, wantData: marshallList(t, graduate, faculty, student, admin)},
		{name: "order by -username", path: path("ordering", "-username"), token: adminToken, wantData: marshallList(t, admin, faculty, student, graduate)},
		{
			name: "unknown ordering ignored", path: path("ordering", "password_hash"), token: adminToken,
			wantData: marshallList(t, graduate, student, faculty, admin),
		},
		{
			name: "filtering & ordering", path: path("role", user.RoleStudent, "ordering", "name"), token: adminToken,
			wantData: marshallList(t, graduate, student),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodGet
	}
	runHTTPTests(t, app, tests)
}

func Test_userApi_create(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "Root Admin", "rootadmin", user.RoleAdmin)
	principal := app.createUser(t, "Grace Muthoni", "gmuthoni", user.RolePrincipal)
	faculty := app.createUser(t, "Jane Wanjiru", "jwanjiru", user.RoleFaculty)

	values := func(role string) map[string]interface{} {
		return map[string]interface{}{
			"name":            "Amina Otieno",
			"username":        "aotieno",
			"email":           "amina@chuo.test",
			"role":            role,
			"password":        testutil.StrongPassword,
			"passwordConfirm": testutil.StrongPassword,
		}
	}

	tests := []httpTest{
		{name: "admin required", token: app.token(t, faculty), body: marshallObj(t, values(user.RoleStudent)), wantCode: http.StatusForbidden},
		{
			name: "required fields", token: app.token(t, admin), body: []byte(`{}`), wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string][]string{
				"name":            {"name is required"},
				"email":           {"email is required"},
				"role":            {"role is required"},
				"password":        {"password is required"},
				"passwordConfirm": {"password confirmation is required"},
			}),
		},
		{
			name: "email taken", token: app.token(t, admin), wantCode: http.StatusBadRequest,
			body: marshallObj(t, func() map[string]interface{} {
				v := values(user.RoleStudent)
				v["email"] = faculty.Email
				return v
			}()),
			wantData: marshallObj(t, map[string][]string{"email": {"email is already in use"}}),
		},
		{
			name: "role above own", token: app.token(t, principal), body: marshallObj(t, values(user.RoleAdmin)),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string][]string{"role": {"not enough rights to set this role"}}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/users/register"
	}
	runHTTPTests(t, app, tests)

	t.Run("created", func(t *testing.T) {
		rec := app.do(http.MethodPost, "/v1/users/register", app.token(t, admin), marshallObj(t, values(user.RoleStudent)))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var usr user.User
		decode(t, rec, &usr)
		assert.NotEmpty(t, usr.ID)
		assert.Equal(t, "aotieno", usr.Username)
		assert.Equal(t, user.DefaultPermissions(user.RoleStudent), usr.Permissions)
		assert.NotContains(t, rec.Body.String(), "password")

		entries := app.auditEntries(t)
		require.NotEmpty(t, entries)
		assert.Equal(t, "user_create", entries[0].Action)
		assert.Equal(t, admin.ID, entries[0].Actor.ID)
		assert.Equal(t, usr.ID, entries[0].Target.ID)
	})
}

func Test_userApi_update(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "Root Admin", "rootadmin", user.RoleAdmin)
	student := app.createUser(t, "John Kamau", "jkamau", user.RoleStudent)
	other := app.createUser(t, "Amina Otieno", "aotieno", user.RoleStudent)

	path := "/v1/users/" + student.ID
	tests := []httpTest{
		{name: "auth required", path: path, wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errMissingToken)},
		{
			name: "other users are hidden", path: "/v1/users/" + other.ID, token: app.token(t, student),
			body: []byte(`{"name":"Hacked"}`), wantCode: http.StatusNotFound,
		},
		{
			name: "role reserved to admins", path: path, token: app.token(t, student),
			body: []byte(`{"role":"admin"}`), wantCode: http.StatusForbidden,
		},
		{
			name: "invalid values", path: path, token: app.token(t, admin),
			body: []byte(`{"status":"retired"}`), wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string][]string{"status": {"status must be one of: active, inactive, suspended, graduated"}}),
		},
		{name: "unknown user", path: "/v1/users/nope", token: app.token(t, admin), body: []byte(`{}`), wantCode: http.StatusNotFound},
	}
	for i := range tests {
		tests[i].method = http.MethodPut
	}
	runHTTPTests(t, app, tests)

	t.Run("own profile", func(t *testing.T) {
		rec := app.do(http.MethodPut, path, app.token(t, student), []byte(`{"name":"John K. Kamau","department":"Physics"}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var usr user.User
		decode(t, rec, &usr)
		assert.Equal(t, "John K. Kamau", usr.Name)
		assert.Equal(t, "Physics", usr.Department)
	})

	t.Run("status & role by admin are audited", func(t *testing.T) {
		body := []byte(`{"status":"suspended","role":"faculty","reason":"staff transfer"}`)
		rec := app.do(http.MethodPut, path, app.token(t, admin), body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var categories []string
		for _, e := range app.auditEntries(t) {
			if e.Target.ID == student.ID && e.Actor.ID == admin.ID {
				categories = append(categories, e.Category)
				assert.Equal(t, "staff transfer", e.Reason)
			}
		}
		assert.ElementsMatch(t, []string{audit.CategoryPermission, audit.CategoryStatus}, categories)
	})
}

func Test_userApi_destroy(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "Root Admin", "rootadmin", user.RoleAdmin)
	principal := app.createUser(t, "Grace Muthoni", "gmuthoni", user.RolePrincipal)
	s1 := app.createUser(t, "John Kamau", "jkamau", user.RoleStudent)
	s2 := app.createUser(t, "Amina Otieno", "aotieno", user.RoleStudent)
	s3 := app.createUser(t, "Peter Njoroge", "pnjoroge", user.RoleStudent)

	tests := []httpTest{
		{name: "no self delete", method: http.MethodDelete, path: "/v1/users/" + admin.ID, token: app.token(t, admin), wantCode: http.StatusForbidden},
		{
			name: "cannot delete a higher role", method: http.MethodDelete, path: "/v1/users/" + admin.ID,
			token: app.token(t, principal), wantCode: http.StatusForbidden,
		},
		{name: "admin required", method: http.MethodDelete, path: "/v1/users/" + s1.ID, token: app.token(t, s1), wantCode: http.StatusForbidden},
		{name: "deleted", method: http.MethodDelete, path: "/v1/users/" + s1.ID, token: app.token(t, admin), wantCode: http.StatusNoContent},
		{name: "already deleted", method: http.MethodDelete, path: "/v1/users/" + s1.ID, token: app.token(t, admin), wantCode: http.StatusNotFound},
		{
			name: "bulk: no self delete", method: http.MethodDelete, path: "/v1/users?id=" + s2.ID + "&id=" + admin.ID,
			token: app.token(t, admin), wantCode: http.StatusForbidden,
		},
		{
			name: "bulk deleted", method: http.MethodDelete, path: "/v1/users?id=" + s2.ID + "&id=" + s3.ID,
			token: app.token(t, admin), wantCode: http.StatusNoContent,
		},
		{name: "bulk: nothing to delete", method: http.MethodDelete, path: "/v1/users", token: app.token(t, admin), wantCode: http.StatusNoContent},
	}
	runHTTPTests(t, app, tests)

	var bulk *audit.Entry
	for _, e := range app.auditEntries(t) {
		if e.Category == audit.CategoryBulk {
			e := e
			bulk = &e
		}
	}
	require.NotNil(t, bulk, "bulk operation not audited")
	assert.EqualValues(t, 2, bulk.Metadata["affectedCount"])
}

func Test_userApi_refreshToken(t *testing.T) {
	app := setup(t)
	naughty := app.createUser(t, "Naughty Dog", "ndog", user.RoleStudent, user.StatusInactive)
	student := app.createUser(t, "John Kamau", "jkamau", user.RoleStudent)

	now := time.Now()
	unrefreshable := echoapi.GetUserClaims(app.conf, student)
	unrefreshable.OrigIssuedAt = now.Add(-2 * app.conf.Server.JWTRefreshExpirationDelta).Unix() // older than threshold
	unrefreshableToken, err := echoapi.GenerateToken(app.conf, unrefreshable)
	require.NoError(t, err)

	tests := []httpTest{
		{name: "auth required", wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errMissingToken)},
		{
			name: "inactive user not allowed", token: app.token(t, naughty), wantCode: http.StatusForbidden,
			wantData: marshallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name: "refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden,
			wantData: marshallObj(t, httpErr{Error: "refresh has expired"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/users/token-refresh"
	}
	runHTTPTests(t, app, tests)

	t.Run("token refreshed", func(t *testing.T) {
		rec := app.do(http.MethodPost, "/v1/users/token-refresh", app.token(t, student))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res echoapi.LoginResponse
		decode(t, rec, &res)
		assert.NotEmpty(t, res.Token)
	})
}

func Test_userApi_passwordReset(t *testing.T) {
	app := setup(t)
	student := app.createUser(t, "John Kamau", "jkamau", user.RoleStudent)
	success := marshallObj(t, echoapi.SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})

	tests := []httpTest{
		{
			name: "required fields", body: []byte(`{}`), wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string][]string{"email": {"this field is required"}}),
		},
		{
			name: "invalid email", body: []byte(`{"email":"lol"}`), wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string][]string{"email": {"email must be a valid email address"}}),
		},
		{name: "unknown email", body: []byte(`{"email":"nobody@chuo.test"}`), wantData: success},
		{name: "known email", body: marshallObj(t, echoapi.PasswordResetRequest{Email: student.Email}), wantData: success},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/users/password-reset"
	}
	runHTTPTests(t, app, tests)

	sent := app.mail.SentMessages()
	require.Len(t, sent, 1)
	msg := sent[0]
	assert.Equal(t, student.Email, msg.To[0].Address)
	assert.Contains(t, msg.TextContent, student.Name)

	link := regexp.MustCompile(`/password-reset/([^/\s]+)/([^/\s"<]+)`).FindStringSubmatch(msg.TextContent)
	require.Len(t, link, 3, "reset link not found in %q", msg.TextContent)
	uid, token := link[1], strings.TrimSpace(link[2])

	confirm := func(token, pwd, confirm string) []byte {
		return marshallObj(t, user.ResetUserPassword{Token: token, UID: uid, Password: pwd, PasswordConfirm: confirm})
	}
	newPwd := "Tr0ub4dor&3x"
	tests = []httpTest{
		{
			name: "passwords mismatch", body: confirm(token, newPwd, "other"), wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string][]string{"password_confirm": {"password_confirm must be equal to Password"}}),
		},
		{name: "invalid token", body: confirm("HE4TS-sigsig", newPwd, newPwd), wantCode: http.StatusBadRequest},
		{
			name: "valid token", body: confirm(token, newPwd, newPwd),
			wantData: marshallObj(t, echoapi.SuccessResponse{Success: "Password has been reset with the new password."}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/users/password-reset-confirm"
	}
	runHTTPTests(t, app, tests)

	rec := app.do(http.MethodPost, "/v1/users/login", "", marshallObj(t, echoapi.LoginRequest{Username: "jkamau", Password: newPwd}))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
