package main

import (
	"context"
	"fmt"

	"github.com/cleanspace/airquest/internal/auth"
	"github.com/cleanspace/airquest/internal/config"
	"github.com/cleanspace/airquest/internal/store"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in through the browser",
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	RunE:  runLogout,
}

func openSessions(cfg *config.Config) (*store.Store, *auth.Sessions, error) {
	s, err := store.New(cfg.DBPath())
	if err != nil {
		return nil, nil, err
	}
	return s, auth.NewSessions(s), nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Remote.Mode != config.RemoteSupabase {
		return fmt.Errorf("login needs remote.mode %q (current %q)", config.RemoteSupabase, cfg.Remote.Mode)
	}

	s, sessions, err := openSessions(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Println("Opening browser to sign in...")
	sess, err := auth.Login(context.Background(), cfg.Remote.AuthURL, sessions)
	if err != nil {
		return err
	}

	who := sess.User.Email
	if who == "" {
		who = sess.User.ID
	}
	fmt.Printf("Signed in as %s\n", who)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, sessions, err := openSessions(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if sessions.Current() == nil {
		fmt.Println("Not signed in.")
		return nil
	}
	if err := sessions.SignOut(); err != nil {
		return err
	}
	fmt.Println("Signed out.")
	return nil
}
