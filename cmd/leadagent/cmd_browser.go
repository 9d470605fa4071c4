// This file contains browser management commands.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"leadagent/internal/browser"
)

var browserCmd = &cobra.Command{
	Use:   "browser",
	Short: "Manage and smoke-test browser automation",
}

var browserInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Resolve the browser binary, downloading one if needed",
	RunE:  browserInstall,
}

var browserCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Launch the browser headless and print its version",
	RunE:  browserCheck,
}

var browserLaunchCmd = &cobra.Command{
	Use:   "launch [url]",
	Short: "Open a page and print the session metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  browserLaunch,
}

func init() {
	browserCmd.AddCommand(browserInstallCmd)
	browserCmd.AddCommand(browserCheckCmd)
	browserCmd.AddCommand(browserLaunchCmd)
}

func browserManager() *browser.Manager {
	return browser.NewManager(browser.Config{
		Bin:      cfg.Browser.Bin,
		Headless: cfg.Browser.Headless,
		Timeout:  cfg.Browser.Timeout(),
	})
}

func browserInstall(cmd *cobra.Command, args []string) error {
	mgr := browserManager()
	path, err := mgr.EnsureBinary(cmd.Context())
	if err != nil {
		return err
	}
	logger.Info("browser binary ready", zap.String("path", path))
	fmt.Println(path)
	return nil
}

func browserCheck(cmd *cobra.Command, args []string) error {
	mgr := browserManager()
	defer mgr.Close()

	version, err := mgr.Version(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Println(version)
	return nil
}

func browserLaunch(cmd *cobra.Command, args []string) error {
	url := args[0]
	logger.Info("opening browser session", zap.String("url", url))

	mgr := browserManager()
	defer mgr.Close()

	session, err := mgr.Open(cmd.Context(), url)
	if err != nil {
		return err
	}
	fmt.Printf("session %s\n", session.ID)
	fmt.Printf("url     %s\n", session.URL)
	if session.Title != "" {
		fmt.Printf("title   %s\n", session.Title)
	}
	return nil
}
