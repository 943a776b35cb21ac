package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tandem/client"
)

var Version = "dev"

type app struct {
	configPath string
	server     string
	token      string
}

func (a *app) config() (*cliConfig, error) {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.server != "" {
		cfg.Server = a.server
	}
	if a.token != "" {
		cfg.Token = a.token
	}
	if env := os.Getenv("TANDEM_TOKEN"); env != "" && a.token == "" {
		cfg.Token = env
	}
	return cfg, nil
}

func (a *app) client() (*client.Client, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	return client.New(cfg.Server, cfg.Token), nil
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "tandem",
		Short:         "Tandem - projects and kanban boards from the terminal",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath(), "config file")
	root.PersistentFlags().StringVar(&a.server, "server", "", "API base URL (overrides config)")
	root.PersistentFlags().StringVar(&a.token, "token", "", "session token (overrides config)")

	root.AddCommand(loginCmd(a))
	root.AddCommand(whoamiCmd(a))
	root.AddCommand(projectsCmd(a))
	root.AddCommand(boardCmd(a))
	root.AddCommand(watchCmd(a))
	root.AddCommand(taskCmd(a))
	root.AddCommand(waitlistCmd(a))
	root.AddCommand(adminCmd(a))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
