package serve

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jrpc/binding"
	cmdUtil "jrpc/cmd/util"
	"jrpc/invoker"
	"jrpc/logger"
	"jrpc/registry"
	"jrpc/transport"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	serveCmdConfig = transport.TransportConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the jrpc server",
		Long:    `Start the jrpc server with the demo services (Echo, Arith, Sleep). The configuration can be set via command line flags or environment variables. The format of the environment variables is JRPC_<flag> (e.g. JRPC_BUSINESS_WORKERS=8)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "address"
	ServeCmd.Flags().String(key, "0.0.0.0:9100", cmdUtil.WrapString("The address on which the server listens"))

	key = "workers"
	ServeCmd.Flags().Int(key, 0, cmdUtil.WrapString("Number of event loops handling connection I/O (0 = number of CPUs)"))

	key = "business-workers"
	ServeCmd.Flags().Int(key, 0, cmdUtil.WrapString("Number of goroutines running service methods. 0 runs them directly on the event loops, which only suits short non-blocking methods"))

	key = "queue-size"
	ServeCmd.Flags().Int(key, transport.DefaultQueueSize, cmdUtil.WrapString("Capacity of the queue in front of the business workers. Requests beyond it are rejected as overloaded"))

	key = "heartbeat-interval"
	ServeCmd.Flags().Duration(key, transport.DefaultHeartbeatInterval, cmdUtil.WrapString("Expected client heartbeat interval"))

	key = "idle-multiplier"
	ServeCmd.Flags().Int(key, transport.DefaultIdleMultiplier, cmdUtil.WrapString("Connections silent for heartbeat-interval times this value are closed"))

	key = "max-frame-size"
	ServeCmd.Flags().Int(key, 8<<20, cmdUtil.WrapString("Maximum frame body size in bytes, larger frames close the connection"))

	key = "socket-buffer"
	ServeCmd.Flags().Int(key, transport.DefaultSocketBuffer/1024, cmdUtil.WrapString("Socket receive and send buffer size (in KB)"))

	key = "backlog"
	ServeCmd.Flags().Int(key, transport.DefaultBacklog, cmdUtil.WrapString("Listen backlog"))

	key = "shutdown-timeout"
	ServeCmd.Flags().Duration(key, transport.DefaultShutdownTimeout, cmdUtil.WrapString("How long shutdown waits for running requests"))

	key = "timeout"
	ServeCmd.Flags().Duration(key, 0, cmdUtil.WrapString("Per-invocation timeout (0 = none)"))

	key = "rate-limit"
	ServeCmd.Flags().Float64(key, 0, cmdUtil.WrapString("Invocations per second accepted by the server (0 = unlimited)"))

	key = "rate-burst"
	ServeCmd.Flags().Int(key, 100, cmdUtil.WrapString("Burst size of the rate limiter"))

	key = "metrics-addr"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("Address of the Prometheus metrics endpoint, e.g. :9101 (empty = disabled)"))

	key = "etcd-endpoints"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("Comma-separated etcd endpoints to publish the services to (empty = disabled)"))

	key = "advertise-addr"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("Address published to etcd (default: the listen address)"))

	key = "registry-ttl"
	ServeCmd.Flags().Int64(key, 10, cmdUtil.WrapString("Lease TTL of the etcd registration in seconds"))

	key = "log-level"
	ServeCmd.Flags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads flags and environment variables into the transport configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig = transport.TransportConfig{
		Address:           viper.GetString("address"),
		WorkerCount:       viper.GetInt("workers"),
		BusinessCount:     viper.GetInt("business-workers"),
		BusinessQueueSize: viper.GetInt("queue-size"),
		HeartbeatInterval: viper.GetDuration("heartbeat-interval"),
		IdleMultiplier:    viper.GetInt("idle-multiplier"),
		MaxFrameSize:      viper.GetInt("max-frame-size"),
		SocketRecvBuffer:  viper.GetInt("socket-buffer") * 1024,
		SocketSendBuffer:  viper.GetInt("socket-buffer") * 1024,
		Backlog:           viper.GetInt("backlog"),
		ShutdownTimeout:   viper.GetDuration("shutdown-timeout"),
	}
	serveCmdConfig.Normalize()
	return serveCmdConfig.Validate()
}

// run binds the transport and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	log, err := logger.New(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	defer log.Sync()

	b := binding.New()
	for _, svc := range demoServices() {
		if err := b.Bind(svc); err != nil {
			return err
		}
	}

	opts := []transport.Option{transport.WithLogger(log)}
	opts = append(opts, transport.WithInterceptors(interceptors(log)...))

	if endpoints := cmdUtil.SplitList(viper.GetString("etcd-endpoints")); len(endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(endpoints, 5*time.Second)
		if err != nil {
			return fmt.Errorf("connect to etcd: %w", err)
		}
		defer reg.Close()
		opts = append(opts,
			transport.WithRegistry(reg, viper.GetInt64("registry-ttl")),
			transport.WithAdvertiseAddr(viper.GetString("advertise-addr")))
	}

	a, err := transport.Bind(serveCmdConfig, b, opts...)
	if err != nil {
		return err
	}

	if addr := viper.GetString("metrics-addr"); addr != "" {
		metrics.NewGauge("jrpc_connections", func() float64 { return float64(a.Connections()) })
		go serveMetrics(addr, log)
	}

	fmt.Print(serveCmdConfig.String())
	log.Info("serving", zap.Stringer("addr", a.Addr()), zap.Strings("services", serviceNames(b)))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", zap.Stringer("signal", sig))
	return a.Destroy()
}

func interceptors(log *zap.Logger) []invoker.Interceptor {
	chain := []invoker.Interceptor{invoker.Logging(log)}
	if viper.GetString("metrics-addr") != "" {
		chain = append(chain, invoker.Metrics(nil))
	}
	if r := viper.GetFloat64("rate-limit"); r > 0 {
		chain = append(chain, invoker.RateLimit(r, viper.GetInt("rate-burst")))
	}
	if d := viper.GetDuration("timeout"); d > 0 {
		chain = append(chain, invoker.Timeout(d))
	}
	return chain
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	log.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics endpoint failed", zap.Error(err))
	}
}

func serviceNames(b *binding.Binding) []string {
	var names []string
	for _, svc := range b.Services() {
		for _, m := range svc.Methods() {
			names = append(names, svc.Address()+"."+m)
		}
	}
	return names
}
