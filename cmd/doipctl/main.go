// Command doipctl is a thin CLI shell over the public diagclient API,
// following pixiecore's split of a cobra/viper command tree from the
// library it drives (pixiecore/cli.CLI() vs. pixiecore.Server). It carries
// no protocol logic of its own.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/doipclient/diagclient"
	"github.com/doipclient/diagclient/vehicle"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "doipctl",
	Short: "Drive a DoIP diagnostic tester engine from the command line",
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.json", "engine config file")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(discoverCmd, connectCmd, sendCmd)
}

func initConfig() {
	viper.SetEnvPrefix("doipctl")
	viper.AutomaticEnv()
}

func newClient() (*diagclient.Client, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return diagclient.New(viper.GetString("config"), logger)
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Broadcast a VehicleIdentificationRequest and print the replies",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		if err := client.Initialize(ctx); err != nil {
			return err
		}
		defer client.DeInitialize(ctx)

		infos, err := client.SendVehicleIdentificationRequest(ctx, vehicle.Any())
		if err != nil {
			return err
		}
		for _, info := range infos {
			fmt.Printf("%s logical=0x%04x vin=%s eid=%x gid=%x\n",
				info.IP, info.LogicalAddress, string(info.VIN[:]), info.EID[:], info.GID[:])
		}
		return nil
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect <conversation> <target-logical-hex> <ip:port>",
	Short: "Connect a named conversation and activate routing, then disconnect",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		if err := client.Initialize(ctx); err != nil {
			return err
		}
		defer client.DeInitialize(ctx)

		h, err := client.GetConversation(args[0])
		if err != nil {
			return err
		}
		target, err := parseLogicalAddress(args[1])
		if err != nil {
			return err
		}
		if err := h.Startup(ctx); err != nil {
			return err
		}
		result, err := h.Connect(ctx, target, args[2])
		if err != nil {
			return err
		}
		fmt.Printf("connect result: %v\n", result)
		_, err = h.Disconnect(ctx)
		return err
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation> <target-logical-hex> <ip:port> <hex-bytes>",
	Short: "Connect, send one diagnostic request, print the response, disconnect",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		if err := client.Initialize(ctx); err != nil {
			return err
		}
		defer client.DeInitialize(ctx)

		h, err := client.GetConversation(args[0])
		if err != nil {
			return err
		}
		target, err := parseLogicalAddress(args[1])
		if err != nil {
			return err
		}
		request, err := hex.DecodeString(args[3])
		if err != nil {
			return fmt.Errorf("doipctl: invalid hex payload: %w", err)
		}

		if err := h.Startup(ctx); err != nil {
			return err
		}
		if _, err := h.Connect(ctx, target, args[2]); err != nil {
			return err
		}
		defer h.Disconnect(ctx)

		response, err := h.SendDiagnosticRequest(ctx, request)
		if err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(response))
		return nil
	},
}

func parseLogicalAddress(s string) (uint16, error) {
	digits := s
	if len(digits) > 2 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		digits = digits[2:]
	}
	v, err := strconv.ParseUint(digits, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("doipctl: invalid logical address %q: %w", s, err)
	}
	return uint16(v), nil
}
