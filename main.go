package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mlbond/config"
)

// version is stamped at release time; left as a placeholder for
// development builds (spec §4.9 "-V/--version").
var version = "dev"

func main() {
	var (
		configPath    string
		debug         bool
		naturalTitle  bool
		name          string
		user          string
		verbose       bool
		quiet         bool
		yesRunAsRoot  bool
		permittedArgs []string
	)

	root := &cobra.Command{
		Use:     "mlbond",
		Short:   "Bond multiple UDP links into one aggregated, reordering, failover-capable tunnel",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			for _, p := range permittedArgs {
				if err := cfg.ApplyPermittedOverride(p); err != nil {
					return fmt.Errorf("permitted override: %w", err)
				}
			}
			if debug {
				cfg.Log.Level = "debug"
			}
			if verbose {
				cfg.Log.Console = true
			}

			if naturalTitle && name != "" {
				setProcessTitle(name)
			}

			if os.Geteuid() == 0 && user == "" && !yesRunAsRoot {
				return fmt.Errorf("refusing to run as root without -u/--user or --yes-run-as-root")
			}

			return runDaemon(cfg, configPath, user, quiet)
		},
	}

	flags := root.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to the JSON configuration file")
	flags.BoolVar(&debug, "debug", false, "force debug-level logging")
	flags.BoolVar(&naturalTitle, "natural-title", false, "set the process title to --name instead of argv[0]")
	flags.StringVarP(&name, "name", "n", "mlbond", "process name used by --natural-title")
	flags.StringVarP(&user, "user", "u", "", "drop privileges to this user after opening privileged resources")
	flags.BoolVarP(&verbose, "verbose", "v", false, "also log to the console")
	flags.BoolVarP(&quiet, "quiet", "q", false, "raise the console log level to error")
	flags.BoolVar(&yesRunAsRoot, "yes-run-as-root", false, "allow running as root without dropping privileges")
	flags.StringArrayVarP(&permittedArgs, "permitted", "p", nil, "tunnel:value[bkm] initial quota override, repeatable")
	root.Flags().BoolP("version", "V", false, "print the version and exit")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
