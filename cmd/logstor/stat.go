package main

import (
	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat PATH",
	Short: "Open a device and print its superblock and activity counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		dev, io, err := openDevice(path, false, 0)
		if err != nil {
			return err
		}
		defer io.Close()
		defer dev.Close()

		sb := dev.SuperblockStat()
		stats := dev.Stats()

		log.Infof("generation:        %d", sb.Generation)
		log.Infof("segment count:     %d", sb.SegCount)
		log.Infof("segments free:     %d", sb.SegFreeCount)
		log.Infof("max block count:   %d", sb.MaxBlockCount)
		log.Infof("data writes:       %d", stats.DataWriteCount)
		log.Infof("metadata writes:   %d", stats.OtherWriteCount)
		log.Infof("fbuf hit/miss:     %d/%d", stats.FbufHit, stats.FbufMiss)
		log.Infof("cleaner runs:      %d", stats.CleanerRuns)
		log.Infof("segments cleaned:  %d", stats.SegmentsCleaned)
		return nil
	},
}
