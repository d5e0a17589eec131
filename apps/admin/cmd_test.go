package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/chuo/core/schema"
	"github.com/trezcool/chuo/core/user"
	inmemdb "github.com/trezcool/chuo/storage/database/inmem"
	testutil "github.com/trezcool/chuo/tests"
)

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	t.Helper()
	_, _, v := testutil.NewValidators(t)
	out := new(bytes.Buffer)

	// start CLI
	return &commandLine{
		db:        new(sql.DB),
		usrRepo:   inmemdb.NewUserRepository(inmemdb.Open()),
		validator: v,
		schemas:   schema.Builtin(),
		out:       out,
	}, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
}

func runCLITests(t *testing.T, cli *commandLine, tests []cliTest, check func(t *testing.T, tt cliTest)) {
	t.Helper()
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
				}
			case tt.wantErrStr != "":
				if err == nil || err.Error() != tt.wantErrStr {
					t.Errorf("cli.run() error = %v, wantErrStr %s", err, tt.wantErrStr)
				}
			case err != nil:
				t.Errorf("cli.run() unexpected error = %v", err)
			case check != nil:
				check(t, tt)
			}
		})
	}
}

func mockPassword(t *testing.T, pwd *string) {
	t.Helper()
	orig := readPasswordFunc
	readPasswordFunc = func(int) ([]byte, error) {
		if *pwd == "" {
			return nil, nil
		}
		return []byte(*pwd), nil
	}
	t.Cleanup(func() { readPasswordFunc = orig })
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	orig := gooseRunFunc
	t.Cleanup(func() { gooseRunFunc = orig })
	gooseRunFunc = func(command string, _ *sql.DB, _ fs.FS, _ string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "course", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	runCLITests(t, cli, tests, nil)
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, _ := setup(t)
	var pwd string
	mockPassword(t, &pwd)

	usr := testutil.CreateUser(t, cli.usrRepo, "John Kamau", "jkamau", "jkamau@chuo.test", testutil.StrongPassword, user.RoleStudent, user.StatusActive)

	tests := []struct {
		cliTest
		pwd string
	}{
		{cliTest: cliTest{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp}},
		{cliTest: cliTest{name: "username but no password", args: []string{"resetpassword", "--username", "lol"}, wantErr: errHelp}},
		{cliTest: cliTest{name: "user not found", args: []string{"resetpassword", "--username", "lol"}, wantErr: user.ErrNotFound}, pwd: "Tr0ub4dor&3x"},
		{cliTest: cliTest{name: "weak password", args: []string{"resetpassword", "--username", usr.Username}, wantErrStr: "invalid fields: password"}, pwd: "12345678"},
		{cliTest: cliTest{name: "reset with username", args: []string{"resetpassword", "--username", usr.Username}}, pwd: "Tr0ub4dor&3x"},
		{cliTest: cliTest{name: "reset with email", args: []string{"resetpassword", "--username", "JKamau@chuo.test"}}, pwd: "C0rrect#Horse"},
	}
	for _, tt := range tests {
		pwd = tt.pwd
		want := tt.pwd
		runCLITests(t, cli, []cliTest{tt.cliTest}, func(t *testing.T, _ cliTest) {
			refreshed, err := cli.usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
			require.NoError(t, err)
			assert.NoError(t, refreshed.CheckPassword(want), "failed to update new password")
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli, out := setup(t)
	var pwd string
	mockPassword(t, &pwd)

	tests := []struct {
		cliTest
		pwd string
	}{
		{cliTest: cliTest{name: "no args", args: []string{"adduser"}, wantErr: errHelp}},
		{cliTest: cliTest{name: "no password", args: []string{"adduser", "--username", "rootadmin", "--email", "root@chuo.test"}, wantErr: errHelp}},
		{
			cliTest: cliTest{name: "unknown role", args: []string{"adduser", "--username", "rootadmin", "--email", "root@chuo.test", "--role", "janitor"}, wantErrStr: "invalid fields: role"},
			pwd:     testutil.StrongPassword,
		},
		{
			cliTest: cliTest{name: "created", args: []string{"adduser", "--name", "Root Admin", "--username", "RootAdmin", "--email", "root@chuo.test"}},
			pwd:     testutil.StrongPassword,
		},
		{
			cliTest: cliTest{name: "updated", args: []string{"adduser", "--username", "rootadmin", "--email", "root@chuo.test", "--role", user.RolePrincipal}},
			pwd:     "Tr0ub4dor&3x",
		},
	}
	for _, tt := range tests {
		pwd = tt.pwd
		runCLITests(t, cli, []cliTest{tt.cliTest}, nil)
	}

	usr, err := cli.usrRepo.GetUser(context.Background(), user.GetFilter{Username: "rootadmin"})
	require.NoError(t, err)
	assert.Equal(t, "Root Admin", usr.Name)
	assert.Equal(t, user.RolePrincipal, usr.Role)
	assert.Equal(t, user.StatusActive, usr.Status)
	assert.Equal(t, user.DefaultPermissions(user.RolePrincipal), usr.Permissions)
	assert.NoError(t, usr.CheckPassword("Tr0ub4dor&3x"))
	assert.Contains(t, out.String(), "user rootadmin saved (principal)")

	users, err := cli.usrRepo.QueryUsers(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func Test_commandLine_schemas(t *testing.T) {
	cli, out := setup(t)

	t.Run("list", func(t *testing.T) {
		out.Reset()
		require.NoError(t, cli.run([]string{"admin", "schemas"}))
		assert.Equal(t, "course\nexam\nscholarship\n", out.String())
	})

	t.Run("check", func(t *testing.T) {
		out.Reset()
		err := cli.checkSchemas(fstest.MapFS{
			"hostel.yaml": {Data: []byte("name: hostel\nfields:\n  - name: room\n    required: true\n  - name: block\n")},
		})
		require.NoError(t, err)
		assert.Equal(t, "hostel: 2 fields\n", out.String())
	})

	t.Run("broken definition", func(t *testing.T) {
		err := cli.checkSchemas(fstest.MapFS{"bad.yaml": {Data: []byte("lol: [")}})
		assert.Error(t, err)
	})

	t.Run("empty dir", func(t *testing.T) {
		err := cli.checkSchemas(fstest.MapFS{})
		assert.EqualError(t, err, "no schema definition found")
	})
}

func Test_commandLine_validate(t *testing.T) {
	cli, out := setup(t)
	dir := t.TempDir()
	write := func(name, data string) string {
		fp := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(fp, []byte(data), 0o600))
		return fp
	}
	valid := write("valid.json", `{"code":"CS101","name":"Data Structures","department":"CS","credits":4}`)
	invalid := write("invalid.json", `{"code":"CS101","name":"Data Structures","department":"CS","credits":7}`)

	tests := []cliTest{
		{name: "no args", args: []string{"validate"}, wantErr: errHelp},
		{name: "unknown schema", args: []string{"validate", "--schema", "lol", "--file", valid}, wantErrStr: "\"lol\": unknown schema"},
		{name: "invalid values", args: []string{"validate", "--schema", "course", "--file", invalid}, wantErr: errInvalidValues},
		{name: "valid values", args: []string{"validate", "--schema", "course", "--file", valid}},
	}
	runCLITests(t, cli, tests, nil)

	assert.Contains(t, out.String(), "credits must be 6 or less")
	assert.Contains(t, out.String(), "valid: true")
}
