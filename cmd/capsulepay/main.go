package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/vitwit/capsulepay"
	"github.com/vitwit/capsulepay/capsule"
	"github.com/vitwit/capsulepay/clients"
	"github.com/vitwit/capsulepay/config"
	"github.com/vitwit/capsulepay/logger"
	"github.com/vitwit/capsulepay/metrics"
	"github.com/vitwit/capsulepay/types"
	"github.com/vitwit/capsulepay/utils"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit(os.Args[2:])
	case "pay":
		err = cmdPay(os.Args[2:])
	case "balance":
		err = cmdBalance(os.Args[2:])
	case "query":
		err = cmdQuery(os.Args[2:])
	case "stake":
		err = cmdStake(os.Args[2:])
	case "pool":
		err = cmdPool(os.Args[2:])
	case "verify":
		err = cmdVerify(os.Args[2:])
	case "explorer":
		err = cmdExplorer(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("capsulepay init | pay | balance | query | stake | pool | verify | explorer")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return config.FileName
	}
	return config.DefaultPath(home)
}

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	path := fs.String("config", defaultConfigPath(), "config file to write")
	force := fs.Bool("force", false, "overwrite an existing config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", *path)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	if err := config.Write(*path, config.Default(home)); err != nil {
		return err
	}

	fmt.Printf("initialized %s\n", *path)
	return nil
}

// app is the wiring shared by commands that talk to a network.
type app struct {
	cfg     types.Config
	pay     *capsulepay.CapsulePay
	log     *logger.ZapLogger
	network types.Network
	stop    func()
}

func (a *app) close() {
	a.pay.Close()
	if a.stop != nil {
		a.stop()
	}
	_ = a.log.Sync()
}

func newApp(configPath string, network types.Network) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config (run capsulepay init): %w", err)
	}

	log, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	nc, ok := config.Network(cfg, network)
	if !ok {
		return nil, &types.CapsuleError{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("network %s is not configured", network),
		}
	}

	var (
		rec  metrics.Recorder = metrics.NoopRecorder{}
		stop func()
	)
	if cfg.EnableMetrics {
		reg := prometheus.NewRegistry()
		prom, err := metrics.NewPrometheusRecorder(reg)
		if err != nil {
			return nil, err
		}
		rec = prom
		stop = serveMetrics(cfg.MetricsAddr, reg, log)
	}

	pay := capsulepay.New(&cfg, capsulepay.WithLogger(log), capsulepay.WithMetrics(rec))
	if err := pay.AddNetwork(network, nc); err != nil {
		if stop != nil {
			stop()
		}
		return nil, err
	}

	return &app{cfg: cfg, pay: pay, log: log, network: network, stop: stop}, nil
}

func (a *app) signer() (clients.Signer, error) {
	nc, _ := config.Network(a.cfg, a.network)
	if nc.KeyFile == "" {
		return nil, fmt.Errorf("no key_file configured for %s", a.network)
	}

	switch a.network.Family() {
	case types.ChainSolana:
		s, err := clients.LoadSolanaKeySigner(nc.KeyFile)
		if err != nil {
			return nil, err
		}
		return s, nil
	case types.ChainEVM:
		s, err := clients.LoadEVMKeySigner(nc.KeyFile)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported network: %s", a.network)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log logger.Logger) func() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", map[string]any{"addr": addr, "error": err})
		}
	}()
	log.Info("serving metrics", map[string]any{"addr": addr})

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printResult(res types.PaymentResult) error {
	b, err := utils.SerializePaymentResult(res)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	if !res.IsPaid() {
		return fmt.Errorf("payment %s", res)
	}
	return nil
}

func cmdPay(args []string) error {
	fs := flag.NewFlagSet("pay", flag.ContinueOnError)
	path := fs.String("config", defaultConfigPath(), "config file")
	network := fs.String("network", string(types.NetworkSolanaDevnet), "network to pay on")
	to := fs.String("to", "", "recipient address")
	amount := fs.String("amount", "", "amount in the native unit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	amt, err := utils.ParseAmount(*amount)
	if err != nil {
		return err
	}

	a, err := newApp(*path, types.Network(*network))
	if err != nil {
		return err
	}
	defer a.close()

	signer, err := a.signer()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	res := a.pay.SubmitPayment(ctx, types.PaymentIntent{
		Recipient: *to,
		Amount:    amt,
		Network:   a.network,
	}, signer)
	return printResult(res)
}

func cmdBalance(args []string) error {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	path := fs.String("config", defaultConfigPath(), "config file")
	network := fs.String("network", string(types.NetworkSolanaDevnet), "network")
	address := fs.String("address", "", "account address (default: configured key)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(*path, types.Network(*network))
	if err != nil {
		return err
	}
	defer a.close()

	addr := *address
	if addr == "" {
		signer, err := a.signer()
		if err != nil {
			return err
		}
		addr = signer.Identity()
	}

	ctx, cancel := signalContext()
	defer cancel()

	bal, err := a.pay.Balance(ctx, a.network, addr)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", addr, bal.String())
	return nil
}

func (a *app) capsuleService() (*capsule.Service, error) {
	if a.cfg.Backend.URL == "" {
		return nil, errors.New("backend.url is not configured")
	}

	opts := []capsule.Option{capsule.WithLogger(a.log)}
	pools, err := capsule.NewPoolResolver(a.cfg.Staking)
	switch {
	case err == nil:
		opts = append(opts, capsule.WithPoolResolver(pools))
	case !errors.Is(err, capsule.ErrPoolUnresolved):
		return nil, err
	}

	backend := capsule.NewHTTPBackend(a.cfg.Backend.URL, a.cfg.Backend.Token)
	return capsule.NewService(a.pay, backend, a.network, opts...), nil
}

func cmdQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	path := fs.String("config", defaultConfigPath(), "config file")
	network := fs.String("network", string(types.NetworkSolanaDevnet), "network")
	capsuleID := fs.String("capsule", "", "capsule id")
	creator := fs.String("creator", "", "capsule creator wallet")
	price := fs.String("price", "0", "price per query in the native unit")
	prompt := fs.String("prompt", "", "question for the capsule")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := decimal.NewFromString(*price)
	if err != nil {
		return fmt.Errorf("invalid price: %w", err)
	}

	a, err := newApp(*path, types.Network(*network))
	if err != nil {
		return err
	}
	defer a.close()

	svc, err := a.capsuleService()
	if err != nil {
		return err
	}
	signer, err := a.signer()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := svc.QueryWithPayment(ctx, signer, capsule.QueryParams{
		CapsuleID:     *capsuleID,
		Prompt:        *prompt,
		CreatorWallet: *creator,
		PricePerQuery: p,
	})
	if err != nil {
		return err
	}

	if res.Payment != nil {
		fmt.Printf("paid %s (%s)\n", res.PricePaid, res.Payment.Reference)
	}
	fmt.Println(res.Response)
	return nil
}

func cmdStake(args []string) error {
	fs := flag.NewFlagSet("stake", flag.ContinueOnError)
	path := fs.String("config", defaultConfigPath(), "config file")
	network := fs.String("network", string(types.NetworkSolanaDevnet), "network")
	agentID := fs.String("agent", "", "agent id")
	agentName := fs.String("name", "", "agent display name")
	capsuleID := fs.String("capsule", "", "capsule id used to derive the pool (default: agent id)")
	amount := fs.String("amount", "", "stake amount in the native unit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	amt, err := utils.ParseAmount(*amount)
	if err != nil {
		return err
	}

	a, err := newApp(*path, types.Network(*network))
	if err != nil {
		return err
	}
	defer a.close()

	svc, err := a.capsuleService()
	if err != nil {
		return err
	}
	signer, err := a.signer()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := svc.Stake(ctx, signer, capsule.StakeParams{
		AgentID:   *agentID,
		AgentName: *agentName,
		CapsuleID: *capsuleID,
		Amount:    amt,
	})
	if err != nil {
		return err
	}

	fmt.Printf("staked %s on %s via pool %s (%s)\n", amt, res.CapsuleID, res.Pool, res.Payment.Reference)
	return nil
}

func cmdPool(args []string) error {
	fs := flag.NewFlagSet("pool", flag.ContinueOnError)
	path := fs.String("config", defaultConfigPath(), "config file")
	capsuleID := fs.String("capsule", "", "capsule id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}

	pools, err := capsule.NewPoolResolver(cfg.Staking)
	if err != nil {
		return err
	}

	addr, err := pools.ResolvePool(context.Background(), *capsuleID)
	if err != nil {
		return err
	}
	fmt.Println(addr)
	return nil
}

func cmdVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	path := fs.String("config", defaultConfigPath(), "config file")
	network := fs.String("network", string(types.NetworkSolanaDevnet), "network")
	ref := fs.String("ref", "", "transaction reference")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(*path, types.Network(*network))
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := a.pay.Verify(ctx, &types.VerifyRequest{Network: a.network, Reference: *ref})
	if err != nil {
		return err
	}

	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	if !res.Valid {
		return fmt.Errorf("%s", res.Error)
	}
	return nil
}

func cmdExplorer(args []string) error {
	fs := flag.NewFlagSet("explorer", flag.ContinueOnError)
	network := fs.String("network", string(types.NetworkSolanaDevnet), "network")
	ref := fs.String("ref", "", "transaction reference")
	if err := fs.Parse(args); err != nil {
		return err
	}

	n := types.Network(*network)
	if err := utils.ValidateReference(*ref, n.Family()); err != nil {
		return err
	}

	url := utils.ExplorerURL(n, *ref)
	if url == "" {
		return fmt.Errorf("no explorer known for %s", n)
	}
	fmt.Println(url)
	return nil
}
