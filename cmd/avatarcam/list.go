package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/teslashibe/go-avatarcam/pkg/camera"
	"github.com/teslashibe/go-avatarcam/pkg/retarget"
)

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "List capture devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := camera.Enumerate(cmd.Context())
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No capture devices found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "DEVICE\tLABEL\tSELECTED")
		fmt.Fprintln(w, "------\t-----\t--------")
		for _, d := range devices {
			selected := ""
			if d.DeviceID == cfg.CameraDevice {
				selected = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.DeviceID, d.Label, selected)
		}
		return w.Flush()
	},
}

var avatarsCmd = &cobra.Command{
	Use:   "avatars",
	Short: "List avatar templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := retarget.NewLibrary()
		if err != nil {
			return err
		}
		if dir := cfg.Render.TemplateDir; dir != "" {
			if _, err := lib.LoadDir(dir); err != nil {
				return err
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tSOURCE\tDESCRIPTION")
		fmt.Fprintln(w, "----\t------\t-----------")
		for _, t := range lib.Templates() {
			source := "file"
			if t.Builtin {
				source = "builtin"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, source, t.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(camerasCmd, avatarsCmd)
}
