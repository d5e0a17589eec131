package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/chuo/core/schema"
	"github.com/trezcool/chuo/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db        *sql.DB // nil when the database is in memory
	usrRepo   user.Repository
	validator *schema.Validator
	schemas   *schema.Registry
	out       io.Writer
}

func (cli *commandLine) run(args []string) error {
	root := cli.rootCmd()
	if len(args) > 1 {
		root.SetArgs(args[1:])
	} else {
		root.SetArgs([]string{})
	}
	return root.Execute()
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Chuo administration commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return errHelp
		},
	}
	root.SetOut(cli.out)
	root.AddCommand(
		cli.migrateCmd(),
		cli.addUserCmd(),
		cli.resetPasswordCmd(),
		cli.schemasCmd(),
		cli.validateCmd(),
	)
	return root
}

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run database migrations (up, up-by-one, up-to, down, down-to, redo, reset, status, version, create, fix)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Help()
				return errHelp
			}
			if cli.db == nil {
				return errors.New("migrate: no database configured")
			}
			return cli.migrate(args)
		},
		DisableFlagParsing: true,
	}
}

func (cli *commandLine) addUserCmd() *cobra.Command {
	var name, uname, email, role string

	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a user, or update the user with the same username or email. The password is prompted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if uname == "" || email == "" {
				_ = cmd.Help()
				return errHelp
			}
			pwd, err := promptPassword(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if pwd == "" {
				_ = cmd.Help()
				return errHelp
			}
			return cli.addUser(name, uname, email, role, pwd)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "The user's full name.")
	cmd.Flags().StringVar(&uname, "username", "", "The user's username.")
	cmd.Flags().StringVar(&email, "email", "", "The user's email.")
	cmd.Flags().StringVar(&role, "role", user.RoleAdmin, "The user's role.")
	return cmd
}

func (cli *commandLine) resetPasswordCmd() *cobra.Command {
	var uname string

	cmd := &cobra.Command{
		Use:   "resetpassword",
		Short: "Reset a user's password. The password is prompted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if uname == "" {
				_ = cmd.Help()
				return errHelp
			}
			pwd, err := promptPassword(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if pwd == "" {
				_ = cmd.Help()
				return errHelp
			}
			return cli.resetPassword(uname, pwd)
		},
	}
	cmd.Flags().StringVar(&uname, "username", "", "The user's username or email. The password will be prompted next.")
	return cmd
}

func (cli *commandLine) schemasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schemas [DIR]",
		Short: "List the registered form schemas, or check the schema definitions found in DIR",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return cli.checkSchemas(os.DirFS(args[0]))
			}
			for _, name := range cli.schemas.Names() {
				fmt.Fprintln(cli.out, name)
			}
			return nil
		},
	}
}

func (cli *commandLine) validateCmd() *cobra.Command {
	var schemaName, file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a JSON document against a form schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if schemaName == "" || file == "" {
				_ = cmd.Help()
				return errHelp
			}
			return cli.validate(cmd.Context(), schemaName, file)
		},
	}
	cmd.Flags().StringVar(&schemaName, "schema", "", "The schema name.")
	cmd.Flags().StringVar(&file, "file", "", "The JSON file holding the values.")
	return cmd
}

func promptPassword(out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
