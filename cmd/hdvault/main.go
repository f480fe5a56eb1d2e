package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Fantasim/hdvault/internal/api"
	"github.com/Fantasim/hdvault/internal/audit"
	"github.com/Fantasim/hdvault/internal/config"
	"github.com/Fantasim/hdvault/internal/keystore"
	"github.com/Fantasim/hdvault/internal/logging"
	"github.com/Fantasim/hdvault/internal/models"
	"github.com/Fantasim/hdvault/internal/session"
	"github.com/Fantasim/hdvault/internal/store"
	"github.com/Fantasim/hdvault/internal/vault"
	"github.com/Fantasim/hdvault/internal/wallet"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe()
	case "chains":
		err = runChains(os.Stdout)
	case "derive":
		err = runDerive(os.Args[2:], os.Stdin, os.Stdout)
	case "audit":
		err = runAudit(os.Args[2:], os.Stdout)
	case "version":
		fmt.Printf("hdvault %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		slog.Error(os.Args[1]+" error", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: hdvault <command>

Commands:
  serve     Start the local key-management API on 127.0.0.1
  chains    List supported chains and derivation paths
  derive    Derive addresses for a mnemonic read from stdin (nothing is stored)
  audit     Print the audit trail of a wallet
  version   Print version information
`)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("starting hdvault",
		"version", version,
		"port", cfg.Port,
		"dbPath", cfg.DBPath,
		"logLevel", cfg.LogLevel,
		"sessionTTL", cfg.SessionTTL,
	)

	database, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	auditLog := audit.New(database, cfg.AuditBufferSize)
	defer auditLog.Close()

	enc := vault.NewWithParams(models.KDFParams{
		MemoryKiB:   cfg.KDFMemoryKiB,
		Iterations:  cfg.KDFIterations,
		Parallelism: cfg.KDFParallelism,
	})

	sessions := session.NewManager(session.Config{
		TTL:         cfg.SessionTTL,
		MaxFailures: cfg.MaxUnlockFailures,
		Cooldown:    cfg.UnlockCooldown,
	}, database, enc, session.WithAuditor(auditLog))

	defaults := make([]models.Chain, len(cfg.DefaultChains))
	for i, c := range cfg.DefaultChains {
		if _, err := wallet.LookupChain(models.Chain(c)); err != nil {
			return fmt.Errorf("default chains: %w", err)
		}
		defaults[i] = models.Chain(c)
	}

	svc := keystore.New(database, enc, sessions, auditLog, defaults)
	router := api.NewRouter(svc, cfg)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	srv := &http.Server{
		Addr:           addr,
		Handler:        router,
		ReadTimeout:    config.ServerReadTimeout,
		WriteTimeout:   config.ServerWriteTimeout,
		IdleTimeout:    config.ServerIdleTimeout,
		MaxHeaderBytes: config.ServerMaxHeaderBytes,
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go sweepSessions(sweepCtx, sessions, cfg.SessionSweepEvery)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case <-done:
	case err := <-listenErr:
		sessions.LockAll()
		return fmt.Errorf("server listen error: %w", err)
	}

	slog.Info("initiating graceful shutdown", "timeout", config.ShutdownTimeout)

	// 1. Stop accepting requests and drain in-flight ones.
	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(ctx)

	// 2. Zeroize every session key before the audit log drains.
	sweepCancel()
	locked := sessions.LockAll()
	slog.Info("sessions locked", "count", locked)

	auditLog.Close()
	stats := auditLog.Stats()
	slog.Info("audit log drained",
		"written", stats.Written,
		"dropped", stats.Dropped,
		"failed", stats.Failed,
	)

	if shutdownErr != nil {
		return fmt.Errorf("server shutdown error: %w", shutdownErr)
	}
	slog.Info("server stopped gracefully")
	return nil
}

// sweepSessions expires idle sessions on a timer so their keys do not
// linger in memory until the next access.
func sweepSessions(ctx context.Context, sessions *session.Manager, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.Sweep()
		}
	}
}

func openStore(path string) (*store.DB, error) {
	database, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.RunMigrations(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("database ready", "path", path)
	return database, nil
}

func runChains(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHAIN\tNAME\tCURVE\tPATH\tENCODING")
	for _, c := range wallet.SupportedChains() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Curve, c.PathTemplate, c.Encoding)
	}
	return tw.Flush()
}

// runDerive derives addresses from a phrase on stdin. It never touches the
// database, so it can check a backup on an offline machine.
func runDerive(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("derive", flag.ContinueOnError)
	chainList := fs.String("chains", "BTC,ETH,SOL", "Comma-separated chains to derive")
	count := fs.Uint("count", 1, "Number of account indices per chain")
	passphrase := fs.String("passphrase", "", "Optional BIP-39 passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *count == 0 || *count > 1000 {
		return fmt.Errorf("count must be 1-1000, got %d", *count)
	}

	var chains []wallet.ChainConfig
	for _, id := range strings.Split(*chainList, ",") {
		c, err := wallet.LookupChain(models.Chain(strings.ToUpper(strings.TrimSpace(id))))
		if err != nil {
			return err
		}
		chains = append(chains, c)
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read mnemonic: %w", err)
	}
	m, err := wallet.ValidateMnemonic(line)
	if err != nil {
		return err
	}
	defer m.Wipe()

	seed, err := m.ToSeed(*passphrase)
	if err != nil {
		return err
	}
	defer seed.Wipe()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHAIN\tINDEX\tPATH\tADDRESS")
	for _, c := range chains {
		for i := uint32(0); i < uint32(*count); i++ {
			acct, err := wallet.DeriveAccount(seed, c, i)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", acct.Chain, acct.AccountIndex, acct.DerivationPath, acct.Address)
		}
	}
	return tw.Flush()
}

func runAudit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	walletID := fs.String("wallet", "", "Wallet ID (default: all wallets)")
	limit := fs.Int("limit", 50, "Maximum number of events, newest first")
	dbPath := fs.String("db", "", "Database path (default: from HDVAULT_DB_PATH)")
	asJSON := fs.Bool("json", false, "Print events as JSON lines")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	database, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	events, err := database.ListAuditEvents(context.Background(), store.AuditFilter{WalletID: *walletID, Limit: *limit})
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOPERATION\tWALLET\tOUTCOME\tSEVERITY\tREASON")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Timestamp.Format(time.RFC3339), ev.Operation, ev.WalletID, ev.Outcome, ev.Severity, ev.Reason)
	}
	return tw.Flush()
}
