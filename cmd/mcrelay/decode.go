package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/danmuck/mcrelay/internal/protocol/frame"
	"github.com/danmuck/mcrelay/internal/protocol/packet"
	"github.com/spf13/cobra"
)

func newDecodeCmd() *cobra.Command {
	var stateName, dirName, versionName string
	cmd := &cobra.Command{
		Use:   "decode <hex>",
		Short: "decode one packet body (id followed by payload) given as hex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := packet.ParseState(stateName)
			if err != nil {
				return err
			}
			dir, err := packet.ParseDirection(dirName)
			if err != nil {
				return err
			}
			v, err := packet.ParseVersion(versionName)
			if err != nil {
				return err
			}
			body, err := hex.DecodeString(strings.Join(strings.Fields(args[0]), ""))
			if err != nil {
				return fmt.Errorf("invalid hex: %w", err)
			}
			f, err := frame.Parse(body)
			if err != nil {
				return err
			}
			p, err := packet.Default().Decode(state, dir, v, f.ID, f.Payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s %s id=0x%02x\n%v\n", state, dir, v, f.ID, p)
			return nil
		},
	}
	cmd.Flags().StringVar(&stateName, "state", "login", "protocol state: handshake|status|login|config|play")
	cmd.Flags().StringVar(&dirName, "direction", "clientbound", "packet direction: serverbound|clientbound")
	cmd.Flags().StringVar(&versionName, "version", packet.MaximumVersion.String(), "protocol version, number or release name")
	return cmd
}
