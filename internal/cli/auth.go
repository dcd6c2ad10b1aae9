package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

type credentialFlags struct {
	username string
	password string
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "account name (required)")
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "password (default: read one line from stdin)")
	_ = cmd.MarkFlagRequired("username")
}

// resolvePassword returns the flag value or the first line of in.
func (f *credentialFlags) resolvePassword(in io.Reader) (string, error) {
	if f.password != "" {
		return f.password, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", sysError("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", userError("a password is required")
	}
	return password, nil
}

func newLoginCmd(a *app) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := creds.resolvePassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			client, err := a.openClient(cmd, nil)
			if err != nil {
				return err
			}
			defer client.Close()
			if !client.Config().HasUsers {
				return userError("login: the server has no user accounts (has_users is false)")
			}
			if err := client.Login(cmd.Context(), creds.username, password); err != nil {
				return fmt.Errorf("login: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", creds.username)
			return nil
		},
	}
	creds.register(cmd)
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var (
		creds        credentialFlags
		personalData string
		login        bool
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a user account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var personal json.RawMessage
			if personalData != "" {
				if !json.Valid([]byte(personalData)) {
					return userError("register: --personal-data must be valid JSON")
				}
				personal = json.RawMessage(personalData)
			}
			password, err := creds.resolvePassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			client, err := a.openClient(cmd, nil)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.Register(cmd.Context(), creds.username, password, personal, login); err != nil {
				return fmt.Errorf("register: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", creds.username)
			return nil
		},
	}
	creds.register(cmd)
	cmd.Flags().StringVar(&personalData, "personal-data", "", "JSON object stored with the account")
	cmd.Flags().BoolVar(&login, "login", false, "log in with the new account")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.openClient(cmd, nil)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.Logout(); err != nil {
				return sysError("logout: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}
