package main

import (
	"errors"

	"code.cloudfoundry.org/bytefmt"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spacemeshos/zksym"
)

func fetchCmd(a *app) *cobra.Command {
	var toprf bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the artifacts of the configured engine and algorithm into the artifacts directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.ArtifactsURL == "" {
				return errors.New("--artifacts-url is required")
			}
			artifacts, err := zksym.Artifacts(a.cfg, toprf)
			if err != nil {
				return err
			}
			f, err := a.fetcher()
			if err != nil {
				return err
			}

			var data [][]string
			for _, artifact := range artifacts {
				content, err := f.Fetch(cmd.Context(), artifact.Namespace, artifact.Filename)
				if err != nil {
					return err
				}
				a.logger.Debug("artifact fetched",
					zap.String("namespace", artifact.Namespace),
					zap.String("filename", artifact.Filename),
				)
				data = append(data, []string{artifact.Namespace, artifact.Filename, bytefmt.ByteSize(uint64(len(content)))})
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"namespace", "file", "size"})
			table.SetBorder(true)
			table.AppendBulk(data)
			table.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&toprf, "toprf", false, "Fetch the TOPRF circuits")
	return cmd
}
