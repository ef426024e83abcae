package main

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var flagMediaSectors uint32

var createCmd = &cobra.Command{
	Use:   "create PATH",
	Short: "Create a new backing file and initialize a device on it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if flagMediaSectors == 0 {
			flagMediaSectors = 1 << 16 // 32MiB default, a handful of segments
		}

		label := uuid.New()

		dev, io, err := openDevice(path, true, flagMediaSectors)
		if err != nil {
			return err
		}
		defer io.Close()

		log.Infof("created device %s (label=%s, block_count=%d)", path, label, dev.BlockCount())
		return dev.Close()
	},
}

func init() {
	createCmd.Flags().Uint32Var(&flagMediaSectors, "sectors", 0, "backing file size in sectors (default: 65536)")
}
