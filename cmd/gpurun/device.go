package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gogpu/dispatch/backend"
)

func newDeviceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "device",
		Short: "Show the compute device",
		Long: `Open the configured backend and print the adapter it selected.

With --backend auto the wgpu backend is tried first and the host
backend is used if no GPU adapter can be opened.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			info := s.Device()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Device:   %s\n", info.Adapter.Name)
			fmt.Fprintf(out, "Type:     %s\n", info.Adapter.Type)
			fmt.Fprintf(out, "Backend:  %s\n", info.Backend)
			if info.API != "" {
				fmt.Fprintf(out, "API:      %s\n", info.API)
			}
			if info.MaxBufferSize > 0 {
				fmt.Fprintf(out, "Max buffer: %d bytes\n", info.MaxBufferSize)
			}
			fmt.Fprintf(out, "Available:  %s\n", strings.Join(backend.Available(), ", "))
			return nil
		},
	}
}
