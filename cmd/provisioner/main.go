package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/addrbook/provisioner/internal/browser"
	"github.com/addrbook/provisioner/internal/config"
	"github.com/addrbook/provisioner/internal/history"
	"github.com/addrbook/provisioner/internal/inbox"
	"github.com/addrbook/provisioner/internal/ledger"
	"github.com/addrbook/provisioner/internal/notify"
	"github.com/addrbook/provisioner/internal/provision"
	"github.com/addrbook/provisioner/internal/totp"
	"github.com/addrbook/provisioner/internal/verify"
)

const (
	codeRetries    = 2
	loginWait      = 3 * time.Minute
	whitelistWait  = 10 * time.Second
	okxLoginURL    = "https://www.okx.com/account/login"
	okxLoggedInURL = "https://www.okx.com/account/users"
	okxAddressURL  = "https://www.okx.com/balance/withdrawal-address/eth/2"
	bybitLoginURL  = "https://www.bybit.com/login"
	bybitLoggedIn  = "https://www.bybit.com/en-US/dashboard"
)

var cfgFile string

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "provisioner",
		Short: "Provisioner - Bulk withdrawal-address registration for exchange accounts",
		Long: `Provisioner automates registering batches of cryptocurrency withdrawal
addresses on exchange accounts that require two-factor confirmation
(TOTP plus an emailed one-time code) for every new address.

It keeps a shrinking address file as its checkpoint: each confirmed
address is removed immediately, so an interrupted run resumes exactly
where it stopped.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.provisioner/config.yaml)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long:  "Create a new configuration file with mailbox, platform, and escalation settings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func runCmd() *cobra.Command {
	var platform string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Provision the pending addresses on a platform",
		Long: `Load the address file, reconcile it against the platform's existing
whitelist, and drive every remaining address through the add-address
flow: submit the form, request the emailed code, confirm with code and
authenticator token, and checkpoint the file after each success.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(platform)
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "", "platform to provision (prompted when omitted)")

	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify credentials before a run",
		Long:  "Check each platform's TOTP secret and the IMAP mailbox connection.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck()
		},
	}
}

func reconcileCmd() *cobra.Command {
	var platform string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Shrink the address file against the platform's whitelist",
		Long: `Fetch the platform's already-whitelisted addresses, write them to the
audit file, and remove them from the pending address file without
submitting anything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(platform)
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "okx", "platform to reconcile against")

	return cmd
}

func statusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show attempt history and pending counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of recent attempts to show")

	return cmd
}

func prompt(reader *bufio.Reader, message string) string {
	fmt.Print(message)
	input, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(input)
}

func promptDefault(reader *bufio.Reader, message, def string) string {
	v := prompt(reader, fmt.Sprintf("%s [%s]: ", message, def))
	if v == "" {
		return def
	}
	return v
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("🔐 Provisioner Configuration Setup")
	fmt.Println("==================================")
	fmt.Println()

	cfg := &config.Config{Platforms: map[string]config.PlatformConfig{}}

	fmt.Println("📧 Verification-Code Mailbox (IMAP)")
	fmt.Println("  (Use an app password, not your main password)")
	fmt.Println()
	cfg.Inbox.Provider = promptDefault(reader, "Provider (gmail/outlook/imap)", "gmail")
	cfg.Inbox.Email = prompt(reader, "Mailbox address: ")
	cfg.Inbox.Password = prompt(reader, "App password: ")
	if cfg.Inbox.Provider == "imap" {
		cfg.Inbox.Server = prompt(reader, "IMAP server: ")
		if port, err := strconv.Atoi(promptDefault(reader, "IMAP port", "993")); err == nil {
			cfg.Inbox.Port = port
		}
	}

	fmt.Println()
	fmt.Println("🔑 Platforms (leave a secret empty to skip that platform)")
	fmt.Println()
	for _, name := range []string{"bybit", "okx"} {
		secret := prompt(reader, fmt.Sprintf("%s authenticator secret (base32): ", name))
		if secret != "" {
			cfg.Platforms[name] = config.PlatformConfig{TOTPSecret: secret}
		}
	}

	fmt.Println()
	fmt.Println("📣 Escalation (optional)")
	fmt.Println()
	cfg.Telegram.BotToken = prompt(reader, "Telegram bot token (optional): ")
	if cfg.Telegram.BotToken != "" {
		if id, err := strconv.ParseInt(prompt(reader, "Telegram chat ID: "), 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}

	fmt.Println()
	cfg.Ledger.AddressFile = promptDefault(reader, "Address file", "addresses.txt")

	configPath := resolveConfigPath()
	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Printf("✅ Configuration saved to: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Fill %s with one address per line\n", cfg.Ledger.AddressFile)
	fmt.Println("  2. Run 'provisioner check' to verify credentials")
	fmt.Println("  3. Run 'provisioner run' to start provisioning")

	return nil
}

func runCheck() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("Check credentials:")
	fmt.Println()

	names := make([]string, 0, len(cfg.Platforms))
	for name := range cfg.Platforms {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		secret := cfg.Platforms[name].TOTPSecret
		if code, err := totp.Code(secret); err == nil {
			fmt.Printf("  %s 2fa token: %s OK\n", name, code)
		} else {
			fmt.Printf("  %s 2fa token: missing or invalid, platform will be skipped\n", name)
		}
	}

	fmt.Println()
	if err := cfg.ValidateInbox(); err != nil {
		fmt.Printf("  Email connection: not configured (%v)\n", err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	watcher := inbox.NewWatcher(cfg.Inbox)
	if err := watcher.Connect(ctx); err != nil {
		fmt.Printf("  Email connection: FAILED (%v)\n", err)
		return err
	}
	watcher.Stop()
	fmt.Println("  Email connection: OK")

	return nil
}

// askSettings collects the operator's per-run choices, mirroring the
// per-platform question sets.
func askSettings(platform string) provision.Settings {
	reader := bufio.NewReader(os.Stdin)
	settings := provision.Settings{Platform: platform}

	settings.Blockchain = promptDefault(reader, "Input blockchain name (BTC, ETH or other)", "ETH")
	switch platform {
	case "bybit":
		settings.Network = promptDefault(reader, "Input network first letter(s)", "E")
		settings.Remark = promptDefault(reader, "Input remark for added addresses", "Batch")
		if sec, err := strconv.Atoi(promptDefault(reader, "Input timeout in seconds", "120")); err == nil {
			settings.CooldownSec = sec
		} else {
			settings.CooldownSec = 120
		}
	case "okx":
		settings.Remark = promptDefault(reader, "Input remark for added addresses", fmt.Sprintf("Batch %d", time.Now().Unix()))
		settings.CooldownSec = 60
		if cycles, err := strconv.Atoi(promptDefault(reader, "Max retry cycles (0 = until done)", "0")); err == nil {
			settings.MaxCycles = cycles
		}
	}

	return settings
}

func askPlatform(candidates []string) string {
	if len(candidates) == 1 {
		return candidates[0]
	}
	sort.Strings(candidates)
	reader := bufio.NewReader(os.Stdin)
	for {
		choice := promptDefault(reader, fmt.Sprintf("Select platform (%s)", strings.Join(candidates, "/")), candidates[0])
		for _, c := range candidates {
			if strings.EqualFold(choice, c) {
				return c
			}
		}
		fmt.Printf("Unknown platform %q\n", choice)
	}
}

func buildStrategy(session *browser.Session, platform string) (provision.Strategy, error) {
	switch platform {
	case "bybit":
		return provision.NewBybitStrategy(session), nil
	case "okx":
		return provision.NewOKXStrategy(session), nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", platform)
	}
}

// establishSession opens the platform session, running the interactive
// login when no saved profile exists.
func establishSession(cfg *config.Config, platform string) (*browser.Session, error) {
	// A fresh login needs a visible browser regardless of config
	browserCfg := cfg.Browser
	if !browser.HasSavedSession(browserCfg, platform) {
		browserCfg.Headless = false
	}

	session, err := browser.New(browserCfg, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	if session.NeedsLogin() {
		fmt.Println("No saved session, please log in in the browser window...")
		var loginURL, successPrefix string
		switch platform {
		case "okx":
			loginURL, successPrefix = okxLoginURL, okxLoggedInURL
		case "bybit":
			loginURL, successPrefix = bybitLoginURL, bybitLoggedIn
		}
		if err := session.InteractiveLogin(loginURL, successPrefix, loginWait); err != nil {
			session.Close()
			return nil, err
		}
		fmt.Println("Session successfully created and saved!")
	}

	return session, nil
}

// fetchWhitelist loads the withdrawal-address page and returns the remote
// whitelist, preferring the captured API payload over scraping.
func fetchWhitelist(session *browser.Session) ([]string, error) {
	remote := make(chan []string, 1)
	provision.CaptureWhitelist(session, func(addrs []string) {
		select {
		case remote <- addrs:
		default:
		}
	})

	if err := session.Navigate(okxAddressURL); err != nil {
		return nil, err
	}

	select {
	case addrs := <-remote:
		return addrs, nil
	case <-time.After(whitelistWait):
	}

	// API response missed; scrape the rendered table instead
	html, err := session.CaptureHTML()
	if err != nil {
		return nil, err
	}
	return provision.ParseWhitelistHTML(html)
}

func runProvision(platformFlag string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lgr := ledger.New(cfg.Ledger.AddressFile, cfg.Ledger.AuditDir)
	if err := lgr.Load(); err != nil {
		return err
	}
	if len(lgr.Pending()) == 0 {
		fmt.Printf("Please fill %s with one address per line.\n", cfg.Ledger.AddressFile)
		return nil
	}
	fmt.Printf("\nFound %d addresses to add!\n\n", len(lgr.Pending()))

	candidates := cfg.CandidatePlatforms(totp.Available)
	if len(candidates) == 0 {
		return fmt.Errorf("no platform has a usable authenticator secret; run 'provisioner check'")
	}

	platform := platformFlag
	if platform == "" {
		platform = askPlatform(candidates)
	}
	platformCfg, ok := cfg.Platforms[platform]
	if !ok || !totp.Available(platformCfg.TOTPSecret) {
		return fmt.Errorf("platform %q has no usable authenticator secret", platform)
	}

	settings := askSettings(platform)

	store, err := history.NewStore(history.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to initialize history: %w", err)
	}
	defer store.Close()

	ctx, cancelSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancelSignals()

	session, err := establishSession(cfg, platform)
	if err != nil {
		return err
	}
	defer session.Close()

	strategy, err := buildStrategy(session, platform)
	if err != nil {
		return err
	}

	// The batched platform reports its whitelist on page load; shrink the
	// pending set before submitting anything.
	if strategy.BatchSize() > 1 {
		if remote, err := fetchWhitelist(session); err != nil {
			fmt.Printf("⚠️  Could not fetch existing whitelist: %v\n", err)
		} else if len(remote) > 0 {
			fmt.Printf("You have %d addresses already whitelisted!\n", len(remote))
			removed, err := lgr.Reconcile(platform, remote)
			if err != nil {
				return err
			}
			if removed > 0 {
				fmt.Printf("Skipping %d addresses that are already whitelisted.\n", removed)
			}
			fmt.Printf("Estimate %d new addresses to add!\n\n", len(lgr.Pending()))
		}
	}

	watcher := inbox.NewWatcher(cfg.Inbox)
	broker := verify.NewBroker(watcher)
	notifier := notify.New(cfg.Telegram)

	codes := func(ctx context.Context) (string, bool) {
		return broker.AwaitCode(ctx, verify.Request{
			Marker:      strategy.Marker(),
			CodePattern: strategy.CodePattern(),
			Timeout:     strategy.CodeTimeout(),
			MaxRetries:  codeRetries,
		})
	}
	totpFn := func() (string, error) {
		return totp.Code(platformCfg.TOTPSecret)
	}

	machine := provision.NewMachine(strategy, codes, totpFn, notifier)

	if strategy.BatchSize() > 1 {
		err = provision.RunBatched(ctx, machine, lgr, store, settings)
	} else {
		err = provision.RunSequential(ctx, machine, lgr, store, settings)
	}
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("📊 Done: %d confirmed, %d still pending\n", lgr.Done(), len(lgr.Pending()))
	fmt.Println("All addresses processed (no guarantees)")
	return nil
}

func runReconcile(platform string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	lgr := ledger.New(cfg.Ledger.AddressFile, cfg.Ledger.AuditDir)
	if err := lgr.Load(); err != nil {
		return err
	}
	before := len(lgr.Pending())

	session, err := establishSession(cfg, platform)
	if err != nil {
		return err
	}
	defer session.Close()

	remote, err := fetchWhitelist(session)
	if err != nil {
		return fmt.Errorf("failed to fetch whitelist: %w", err)
	}

	removed, err := lgr.Reconcile(platform, remote)
	if err != nil {
		return err
	}

	fmt.Printf("Whitelist has %d addresses; removed %d of %d pending (%d remain).\n",
		len(remote), removed, before, len(lgr.Pending()))
	return nil
}

func runStatus(limit int) error {
	store, err := history.NewStore(history.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	total, confirmed, failed, err := store.Stats()
	if err != nil {
		return err
	}

	fmt.Println("📊 Provisioner Statistics")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Total attempts: %d\n", total)
	fmt.Printf("  Confirmed: %d\n", confirmed)
	fmt.Printf("  Failed: %d\n", failed)

	if cfg, err := config.Load(resolveConfigPath()); err == nil {
		lgr := ledger.New(cfg.Ledger.AddressFile, cfg.Ledger.AuditDir)
		if err := lgr.Load(); err == nil {
			fmt.Printf("  Pending in %s: %d\n", cfg.Ledger.AddressFile, len(lgr.Pending()))
		}
	}

	attempts, err := store.Recent(limit)
	if err != nil {
		return err
	}
	if len(attempts) > 0 {
		fmt.Println()
		fmt.Printf("📜 Recent Attempts (last %d)\n", limit)
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		for _, a := range attempts {
			mark := "✅"
			if a.Outcome == history.OutcomeFailed {
				mark = "❌"
			}
			fmt.Printf("%s %s - %s (%d address(es))\n",
				mark,
				a.StartedAt.Format("2006-01-02 15:04"),
				a.Platform,
				len(a.Addresses),
			)
			if a.Reason != "" {
				fmt.Printf("   Reason: %s\n", a.Reason)
			}
		}
	}

	return nil
}
