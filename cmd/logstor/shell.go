package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vorteil/logstor/pkg/logstor"
)

var shellCmd = &cobra.Command{
	Use:   "shell PATH",
	Short: "Open a device and drive it interactively: read/write/delete/stat/quit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		dev, io, err := openDevice(path, false, 0)
		if err != nil {
			return err
		}
		defer io.Close()

		log.Infof("device open, block_count=%d -- type 'help' for commands", dev.BlockCount())
		if err := runShell(dev); err != nil {
			dev.Close()
			return err
		}
		return dev.Close()
	},
}

func runShell(dev *logstor.Device) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stdout, "logstor> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "help":
			fmt.Println("commands: read BA, write BA TEXT, delete BA [N], stat, quit")
		case "read":
			if len(fields) != 2 {
				fmt.Println("usage: read BA")
				continue
			}
			ba, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				fmt.Println(err)
				continue
			}
			buf := make([]byte, logstor.SectorSize)
			if err := dev.Read(uint32(ba), buf); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("%q\n", strings.TrimRight(string(buf), "\x00"))
		case "write":
			if len(fields) < 2 {
				fmt.Println("usage: write BA TEXT")
				continue
			}
			ba, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				fmt.Println(err)
				continue
			}
			text := strings.Join(fields[2:], " ")
			buf := make([]byte, logstor.SectorSize)
			copy(buf, text)
			if err := dev.Write(uint32(ba), buf); err != nil {
				fmt.Println(err)
			}
		case "delete":
			if len(fields) < 2 {
				fmt.Println("usage: delete BA [N]")
				continue
			}
			ba, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				fmt.Println(err)
				continue
			}
			n := uint64(1)
			if len(fields) == 3 {
				n, err = strconv.ParseUint(fields[2], 10, 32)
				if err != nil {
					fmt.Println(err)
					continue
				}
			}
			if err := dev.Delete(uint32(ba), uint32(n)); err != nil {
				fmt.Println(err)
			}
		case "stat":
			sb := dev.SuperblockStat()
			st := dev.Stats()
			fmt.Printf("gen=%d seg_cnt=%d seg_free_cnt=%d data_writes=%d fbuf_hit=%d fbuf_miss=%d\n",
				sb.Generation, sb.SegCount, sb.SegFreeCount, st.DataWriteCount, st.FbufHit, st.FbufMiss)
		case "quit", "exit":
			return nil
		default:
			fmt.Printf("unknown command %q, type 'help'\n", fields[0])
		}
	}
}
