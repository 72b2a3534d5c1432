package call

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cmdUtil "jrpc/cmd/util"
	"jrpc/client"
	"jrpc/codec"
	"jrpc/registry"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	CallCmd = &cobra.Command{
		Use:   "call <service> <method> [json-arg...]",
		Short: "Call a method on a jrpc server",
		Long: `Call a method on a jrpc server and print the result. Every argument is a JSON value, e.g.

  jrpc call Arith add '{"a":1,"b":2}'

The configuration can be set via command line flags or environment variables (JRPC_<flag>).`,
		Args:    cobra.MinimumNArgs(2),
		PreRunE: bindFlags,
		RunE:    run,
	}
	PingCmd = &cobra.Command{
		Use:     "ping",
		Short:   "Send a heartbeat to a jrpc server and wait for the echo",
		Args:    cobra.NoArgs,
		PreRunE: bindFlags,
		RunE:    ping,
	}
)

var (
	red   = color.New(color.FgRed, color.Bold).SprintFunc()
	green = color.New(color.FgGreen, color.Bold).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	for _, cmd := range []*cobra.Command{CallCmd, PingCmd} {
		key := "addr"
		cmd.Flags().String(key, "127.0.0.1:9100", cmdUtil.WrapString("The address of the jrpc server"))

		key = "codec"
		cmd.Flags().String(key, "binary", cmdUtil.WrapString("Body codec to use (json, binary)"))

		key = "timeout"
		cmd.Flags().Duration(key, 10*time.Second, cmdUtil.WrapString("How long to wait for the response"))

		key = "etcd-endpoints"
		cmd.Flags().String(key, "", cmdUtil.WrapString("Comma-separated etcd endpoints. If set, the server address is discovered from the registry instead of --addr"))
	}
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

// connect dials the configured server, resolving it through etcd if requested.
func connect(ctx context.Context, service string) (*client.Client, error) {
	ct, err := codec.ParseCodecType(viper.GetString("codec"))
	if err != nil {
		return nil, err
	}

	addr := viper.GetString("addr")
	if endpoints := cmdUtil.SplitList(viper.GetString("etcd-endpoints")); len(endpoints) > 0 && service != "" {
		addr, err = discover(ctx, endpoints, service)
		if err != nil {
			return nil, err
		}
	}
	return client.Dial(addr, client.WithCodec(ct), client.WithDialTimeout(viper.GetDuration("timeout")))
}

func discover(ctx context.Context, endpoints []string, service string) (string, error) {
	reg, err := registry.NewEtcdRegistry(endpoints, viper.GetDuration("timeout"))
	if err != nil {
		return "", fmt.Errorf("connect to etcd: %w", err)
	}
	defer reg.Close()

	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return "", err
	}
	if len(instances) == 0 {
		return "", fmt.Errorf("no instance of %s registered", service)
	}
	return instances[0].Addr, nil
}

func run(_ *cobra.Command, args []string) error {
	service, method := args[0], args[1]
	callArgs := make([]any, 0, len(args)-2)
	for i, raw := range args[2:] {
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("argument %d is not valid JSON: %s", i, raw)
		}
		callArgs = append(callArgs, json.RawMessage(raw))
	}

	ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("timeout"))
	defer cancel()

	c, err := connect(ctx, service)
	if err != nil {
		return err
	}
	defer c.Close()

	start := time.Now()
	resp, err := c.Call(ctx, service, method, callArgs...)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if resp.Failed() {
		fmt.Printf("%s %s.%s %s\n", red("ERROR"), service, method, cyan(elapsed.Round(time.Microsecond)))
		fmt.Printf("  code:    %d\n  message: %s\n", resp.Error.Code, resp.Error.Message)
		return resp.Error
	}
	fmt.Printf("%s %s.%s %s\n", green("OK"), service, method, cyan(elapsed.Round(time.Microsecond)))
	fmt.Println(string(resp.Result))
	return nil
}

func ping(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("timeout"))
	defer cancel()

	c, err := connect(ctx, "")
	if err != nil {
		return err
	}
	defer c.Close()

	start := time.Now()
	if err := c.Heartbeat(ctx); err != nil {
		fmt.Printf("%s %v\n", red("NO ECHO"), err)
		return err
	}
	fmt.Printf("%s %s\n", green("PONG"), cyan(time.Since(start).Round(time.Microsecond)))
	return nil
}

