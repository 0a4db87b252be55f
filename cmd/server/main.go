package main

import (
	"errors"
	"flag"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/firdyfirdy/antigravity-auth/internal/cmd"
	"github.com/firdyfirdy/antigravity-auth/internal/config"
	"github.com/firdyfirdy/antigravity-auth/internal/logging"
	log "github.com/sirupsen/logrus"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var login bool
	var noBrowser bool
	var listAccounts bool
	var clearAccounts bool
	var projectID string
	var configPath string
	var removeEmail string
	var setActive int

	flag.BoolVar(&login, "login", false, "Login Google Account")
	flag.BoolVar(&noBrowser, "no-browser", false, "Print the login URL instead of opening a browser")
	flag.BoolVar(&listAccounts, "list-accounts", false, "List stored accounts and their rate-limit state")
	flag.BoolVar(&clearAccounts, "clear-accounts", false, "Delete all stored accounts")
	flag.StringVar(&projectID, "project_id", "", "Project ID")
	flag.StringVar(&configPath, "config", "", "Configure File Path")
	flag.StringVar(&removeEmail, "remove-account", "", "Remove the account with this email")
	flag.IntVar(&setActive, "set-active", -1, "Set the active account index")

	flag.Parse()

	var err error
	var cfg *config.Config
	var wd string

	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	} else {
		wd, err = os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
		cfg, err = config.LoadConfig(path.Join(wd, "config.yaml"))
		if errors.Is(err, fs.ErrNotExist) {
			// Zero-config startup is supported.
			cfg = config.DefaultConfig()
			err = nil
		}
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	logging.ApplyLevel(cfg)
	if err = logging.ConfigureLogOutput(cfg.LoggingToFile); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}

	if strings.HasPrefix(cfg.StoragePath, "~") {
		home, errUserHomeDir := os.UserHomeDir()
		if errUserHomeDir != nil {
			log.Fatalf("failed to get home directory: %v", errUserHomeDir)
		}
		cfg.StoragePath = path.Join(home, strings.TrimPrefix(cfg.StoragePath, "~"))
	}

	switch {
	case login:
		cmd.DoLogin(cfg, projectID, &cmd.LoginOptions{NoBrowser: noBrowser})
	case listAccounts:
		cmd.ListAccounts(cfg)
	case removeEmail != "":
		cmd.RemoveAccount(cfg, removeEmail)
	case setActive >= 0:
		cmd.SetActiveAccount(cfg, setActive)
	case clearAccounts:
		cmd.ClearAccounts(cfg)
	default:
		cmd.StartService(cfg)
	}
}
