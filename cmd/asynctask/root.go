package main

import (
	"github.com/deepnoodle-ai/asynctask/config"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	fs         afero.Fs
	configPath string
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(o.fs, o.configPath)
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	opts := &rootOptions{fs: fs}
	cmd := &cobra.Command{
		Use:           "asynctask",
		Short:         "Run processes with asynchronous wait states",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML configuration file")
	cmd.AddCommand(newRunCmd(opts), newSuspendedCmd(opts))
	return cmd
}
