package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kingrea/chatup/internal/api"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the chat service",
	Long: `Authenticates against the chat service and remembers the credentials in
the local state database.

The password is read from --password, then $CHATUP_PASSWORD, then stdin.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear local history",
	Long: `Forgets the stored credentials and purges the locally cached conversations
and active-chat pointer. Conversations stored on the server are kept.`,
	RunE: runLogout,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password")
	_ = loginCmd.MarkFlagRequired("email")
}

func runLogin(cmd *cobra.Command, args []string) error {
	password := loginPassword
	if password == "" {
		password = os.Getenv("CHATUP_PASSWORD")
	}
	if password == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimSpace(line)
	}
	mgr, err := openManager(false)
	if err != nil {
		return err
	}
	defer mgr.Close()
	creds, err := mgr.Login(cmd.Context(), strings.TrimSpace(loginEmail), password)
	if err != nil {
		color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "Login failed: %s\n", api.Message(err, err.Error()))
		return err
	}
	name := creds.Name
	if name == "" {
		name = creds.Email
	}
	color.New(color.FgGreen, color.Bold).Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", name)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	mgr, err := openManager(true)
	if err != nil {
		return err
	}
	defer mgr.Close()
	email := mgr.User().Email
	if err := mgr.Logout(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed out %s. Local history was cleared.\n", email)
	return nil
}
