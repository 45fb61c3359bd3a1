package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cjeanneret/roboremote/internal/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	host       string
	debugLevel int
	mockGPIO   bool
}

func newRootCmd() *cobra.Command {
	gf := &globalFlags{}
	web := &webPortFlag{defaultPort: 8080}

	root := &cobra.Command{
		Use:           "roboremote",
		Short:         "Wrist remote for the robot suitcase",
		Long:          "Reads wrist tilt and knob input and sends motor commands to the suitcase every tick.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemote(cmd, gf, web)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&gf.configPath, "config", filepath.Join("configs", "default.yaml"), "path to config file (~ is expanded)")
	pf.StringVar(&gf.host, "host", "", "suitcase host, overrides suitcase.host")
	pf.IntVar(&gf.debugLevel, "debug", 0, "debug level 0-4, overrides defaults.debug_level")
	pf.BoolVar(&gf.mockGPIO, "mock-gpio", false, "use mock GPIO, overrides defaults.mock_gpio")

	addWebFlag(root.Flags(), web)

	root.AddCommand(newRunCmd(gf), newSendCmd(gf))
	return root
}

func addWebFlag(fs *pflag.FlagSet, web *webPortFlag) {
	fs.Var(web, "web", "start the dashboard; --web for port 8080, --web=8980 for a custom port")
	fs.Lookup("web").NoOptDefVal = strconv.Itoa(web.defaultPort)
}

// loadConfig reads the YAML file and applies ROBOREMOTE_* variables and
// changed flags on top of it.
func loadConfig(cmd *cobra.Command, gf *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(gf.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	v := config.NewOverlay()
	flags := cmd.Flags()
	for key, name := range map[string]string{
		"suitcase.host":        "host",
		"defaults.debug_level": "debug",
		"defaults.mock_gpio":   "mock-gpio",
	} {
		f := flags.Lookup(name)
		if f == nil {
			f = cmd.PersistentFlags().Lookup(name)
		}
		if f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}
	if err := config.ApplyOverlay(cfg, v); err != nil {
		return nil, fmt.Errorf("apply overrides: %w", err)
	}
	return cfg, nil
}

// webPortFlag implements pflag.Value for --web: 0 = disabled, bare --web → 8080, --web=8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) Type() string { return "port" }

func (w *webPortFlag) port() int { return w.val }
