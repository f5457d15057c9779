package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/gogpu/headless"
	"github.com/gogpu/headless/backend"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the selected adapter and its queue families",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, _ []string) error {
	cmd.Printf("Backends: %s\n", strings.Join(backend.Available(), ", "))

	dc, err := openContext(headless.CapTransfer)
	if err != nil {
		return err
	}
	defer dc.Close()

	info := dc.Info()
	cmd.Printf("Adapter:  %s (%s, %s)\n", info.Name, info.Backend, info.Kind)
	if len(info.Extensions) > 0 {
		cmd.Printf("Extensions:\n")
		for _, ext := range info.Extensions {
			cmd.Printf("  %s\n", ext)
		}
	}
	cmd.Printf("Queue families:\n")
	for _, f := range dc.QueueFamilies() {
		cmd.Printf("  #%d  queues=%d  graphics=%t  compute=%t  transfer=%t\n",
			f.Index, f.QueueCount,
			f.Capabilities.Has(headless.CapGraphics),
			f.Capabilities.Has(headless.CapCompute),
			f.Capabilities.Has(headless.CapTransfer))
	}
	return nil
}
