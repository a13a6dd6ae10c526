// Command py-discovery resolves a Python interpreter specification against
// the host and prints the discovered interpreter.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	pydiscovery "github.com/tox-dev/py-discovery"
)

func main() {
	var (
		pythons      []string
		tryFirstWith []string
		cacheDir     string
		verbose      bool
	)

	root := &cobra.Command{
		Use:           "py-discovery",
		Short:         "find a Python interpreter matching a specification",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zap.NewNop()
			if verbose {
				dev, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				defer dev.Sync()
				logger = dev
			}
			opts := []pydiscovery.SessionOption{pydiscovery.WithLogger(logger)}
			if cacheDir != "" {
				opts = append(opts, pydiscovery.WithCacheDir(cacheDir))
			}
			session := pydiscovery.NewSession(opts...)
			builtin := pydiscovery.NewBuiltin(session, pythons, tryFirstWith, nil)
			info, err := builtin.Run()
			if err != nil {
				return err
			}
			if info == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "no interpreter found")
				os.Exit(1)
			}
			fmt.Fprintln(cmd.OutOrStdout(), info)
			return nil
		},
	}

	root.Flags().StringArrayVarP(&pythons, "python", "p", nil,
		"interpreter to discover (path/identifier), repeatable - first found wins; "+
			"defaults to the host interpreter")
	root.Flags().StringArrayVar(&tryFirstWith, "try-first-with", nil,
		"try these interpreters before starting the discovery, repeatable")
	root.Flags().StringVar(&cacheDir, "cache-dir", "",
		"persist probed interpreter info under this directory")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose discovery logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
}
