package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/parallax-sh/parallax/pkg/inventory"
	"github.com/parallax-sh/parallax/pkg/logger"
	"github.com/parallax-sh/parallax/pkg/parallax"
	"github.com/parallax-sh/parallax/pkg/sshkit"
	"github.com/parallax-sh/parallax/pkg/tui"
)

var (
	Version = "dev" // set at build time

	configPath string
	hostsFlag  []string
	hostFiles  []string
	loginUser  string
	parallel   int
	timeoutSec int
	outDir     string
	errDir     string
	logLevel   string
	noTUI      bool
	noColor    bool
)

func main() {
	// A .env in the working directory can hold PARALLAX_* defaults.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     "parallax",
		Short:   "Run commands and move files across many hosts over SSH",
		Version: Version,
		Long: `parallax - parallel SSH batch operations

Examples:
  parallax call --hosts web -- "uptime"
  parallax call -f hosts.txt -l deploy -p 16 -- "systemctl restart app"
  parallax copy --hosts web ./nginx.conf /etc/nginx/nginx.conf
  parallax slurp --hosts web /var/log/app.log app.log -L ./logs`,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file path (default: ~/.parallax/config.toml)")
	pf.StringSliceVar(&hostsFlag, "hosts", nil, "Host entries, group names, or patterns (comma-separated)")
	pf.StringSliceVarP(&hostFiles, "hostfile", "f", nil, "Host file, one [user@]host[:port] per line (repeatable)")
	pf.StringVarP(&loginUser, "user", "l", "", "Login user for hosts without an explicit one")
	pf.IntVarP(&parallel, "par", "p", 0, "Max concurrent connections (default: 32)")
	pf.IntVarP(&timeoutSec, "timeout", "t", 0, "Per-host timeout in seconds, -1 for none (default: 60)")
	pf.StringVarP(&outDir, "outdir", "o", "", "Write each host's stdout to a file in this directory")
	pf.StringVarP(&errDir, "errdir", "e", "", "Write each host's stderr to a file in this directory")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&noTUI, "no-tui", false, "Plain text output even on a terminal")
	pf.BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	rootCmd.AddCommand(callCmd())
	rootCmd.AddCommand(copyCmd())
	rootCmd.AddCommand(slurpCmd())
	rootCmd.AddCommand(hostsCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// batchContext cancels the whole run on SIGINT or SIGTERM.
func batchContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// resolveHosts merges every host source: --hosts patterns through the
// inventory, host files verbatim, and the PARALLAX_HOSTS variable when
// neither flag is given.
func resolveHosts(inv *inventory.Inventory) ([]string, error) {
	patterns := hostsFlag
	files := hostFiles
	if len(patterns) == 0 && len(files) == 0 {
		if env := os.Getenv("PARALLAX_HOSTS"); env != "" {
			patterns = strings.Fields(env)
		}
	}

	var entries []string
	if len(patterns) > 0 {
		hosts, err := inv.Resolve(patterns)
		if err != nil {
			return nil, err
		}
		for _, h := range hosts {
			entries = append(entries, h.Entry())
		}
	}
	if len(files) > 0 {
		fromFiles, err := inventory.ReadHostFiles(files)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fromFiles...)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no hosts: use --hosts, --hostfile, or PARALLAX_HOSTS")
	}
	return entries, nil
}

func buildOptions(inv *inventory.Inventory) parallax.Options {
	opts := parallax.Options{
		Limit:   inv.DefaultParallel(),
		Timeout: inv.DefaultTimeout(),
		OutDir:  inv.GetConfig().Run.OutDir,
		ErrDir:  inv.GetConfig().Run.ErrDir,
	}

	if env := os.Getenv("PARALLAX_USER"); env != "" {
		opts.DefaultUser = env
	}
	if env := os.Getenv("PARALLAX_PAR"); env != "" {
		if n, err := strconv.Atoi(env); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if env := os.Getenv("PARALLAX_OUTDIR"); env != "" {
		opts.OutDir = env
	}

	if loginUser != "" {
		opts.DefaultUser = loginUser
	}
	if parallel > 0 {
		opts.Limit = parallel
	}
	switch {
	case timeoutSec > 0:
		opts.Timeout = time.Duration(timeoutSec) * time.Second
	case timeoutSec < 0:
		opts.Timeout = -1
	}
	if outDir != "" {
		opts.OutDir = outDir
	}
	if errDir != "" {
		opts.ErrDir = errDir
	}

	level := logLevel
	if level == "" {
		level = inv.GetConfig().Log.Level
	}
	if level != "" {
		opts.Log = logger.NewWithLevel(level)
	}
	return opts
}

func newTransport(inv *inventory.Inventory, extra ...sshkit.ClientOption) (*sshkit.Client, error) {
	cfg := inv.GetConfig().SSH
	var clientOpts []sshkit.ClientOption
	if cfg.KnownHostsPath != "" {
		clientOpts = append(clientOpts, sshkit.WithKnownHosts(inventory.ExpandPath(cfg.KnownHostsPath)))
	}
	if cfg.StrictHostKey {
		clientOpts = append(clientOpts, sshkit.WithStrictHostKey(true))
	}
	clientOpts = append(clientOpts, extra...)
	return sshkit.NewClient(inventory.ExpandPath(cfg.KeyPath), clientOpts...)
}

func useTUI(hosts []string) bool {
	return !noTUI && len(hosts) > 1 && isatty.IsTerminal(os.Stdout.Fd())
}

// reportingTransport wraps a Transport and reports each host operation as it
// finishes, feeding either the TUI or the text printer.
type reportingTransport struct {
	parallax.Transport
	seq    atomic.Int64
	report func(n int64, addr string, err error)
}

func (rt *reportingTransport) done(addr string, err error) {
	rt.report(rt.seq.Add(1), addr, err)
}

func (rt *reportingTransport) Exec(ctx context.Context, spec sshkit.HostSpec, cmdline string, streams sshkit.ExecIO) (int, error) {
	status, err := rt.Transport.Exec(ctx, spec, cmdline, streams)
	rt.done(spec.Address, err)
	return status, err
}

func (rt *reportingTransport) Put(ctx context.Context, spec sshkit.HostSpec, src, dst string, mode os.FileMode, mkdirs bool) error {
	err := rt.Transport.Put(ctx, spec, src, dst, mode, mkdirs)
	rt.done(spec.Address, err)
	return err
}

func (rt *reportingTransport) Get(ctx context.Context, spec sshkit.HostSpec, src, dst string) error {
	err := rt.Transport.Get(ctx, spec, src, dst)
	rt.done(spec.Address, err)
	return err
}

var (
	successTag = color.New(color.FgGreen).Sprint("[SUCCESS]")
	failureTag = color.New(color.FgRed).Sprint("[FAILURE]")
)

// textReporter prints one numbered status line per host as it completes.
func textReporter(n int64, addr string, err error) {
	stamp := time.Now().Format("15:04:05")
	if err != nil {
		fmt.Printf("[%d] %s %s %s %v\n", n, stamp, failureTag, addr, err)
		return
	}
	fmt.Printf("[%d] %s %s %s\n", n, stamp, successTag, addr)
}

// runWithTUI drives a bubbletea program while fn runs the batch, mapping
// per-host completions onto status rows keyed by address.
func runWithTUI[T any](title string, hosts []string, addrs map[string]string, rt *reportingTransport, fn func() (parallax.BatchResult[T], error)) (parallax.BatchResult[T], error) {
	model := tui.NewBatchModel(title, hosts)
	program := tea.NewProgram(model, tea.WithoutSignalHandler())

	rt.report = func(_ int64, addr string, err error) {
		entry, ok := addrs[addr]
		if !ok {
			entry = addr
		}
		msg := tui.StatusMsg{Host: entry, State: tui.StateDone}
		if err != nil {
			msg.State = tui.StateFailed
			msg.Detail = err.Error()
		}
		program.Send(msg)
	}

	type outcome struct {
		batch parallax.BatchResult[T]
		err   error
	}
	resCh := make(chan outcome, 1)
	go func() {
		batch, err := fn()
		program.Send(tui.DoneMsg{})
		resCh <- outcome{batch, err}
	}()

	if _, err := program.Run(); err != nil {
		return nil, err
	}
	res := <-resCh
	return res.batch, res.err
}

// runTransferTUI drives the per-host progress table for a copy or slurp
// batch. The transport is built here so its byte-progress callback can feed
// the bars; completions arrive through the reporting wrapper as before.
func runTransferTUI[T any](title string, hosts []string, inv *inventory.Inventory, fn func(tr parallax.Transport) (parallax.BatchResult[T], error)) (parallax.BatchResult[T], error) {
	model := tui.NewTransferModel(title, hosts)
	program := tea.NewProgram(model, tea.WithoutSignalHandler())

	addrs := addrIndex(hosts)
	entryFor := func(addr string) string {
		if e, ok := addrs[addr]; ok {
			return e
		}
		return addr
	}

	client, err := newTransport(inv, sshkit.WithProgress(func(addr, _ string, written, total int64) {
		program.Send(tui.TransferMsg{Host: entryFor(addr), Current: written, Total: total})
	}))
	if err != nil {
		return nil, err
	}

	rt := &reportingTransport{Transport: client}
	rt.report = func(_ int64, addr string, err error) {
		program.Send(tui.TransferMsg{Host: entryFor(addr), Err: err, Done: err == nil})
	}

	type outcome struct {
		batch parallax.BatchResult[T]
		err   error
	}
	resCh := make(chan outcome, 1)
	go func() {
		batch, err := fn(rt)
		program.Send(tui.DoneMsg{})
		resCh <- outcome{batch, err}
	}()

	if _, err := program.Run(); err != nil {
		return nil, err
	}
	res := <-resCh
	return res.batch, res.err
}

// addrIndex maps each spec address back to the host entry for display.
func addrIndex(entries []string) map[string]string {
	idx := make(map[string]string, len(entries))
	for _, e := range entries {
		if addr, _, _, err := parallax.ParseHostEntry(e); err == nil {
			idx[addr] = e
		}
	}
	return idx
}

// printFailures lists every failed host after the batch, worst news last.
func printFailures[T any](batch parallax.BatchResult[T]) int {
	failed := batch.Failed()
	sort.Strings(failed)
	for _, h := range failed {
		fmt.Fprintf(os.Stderr, "%s\n", batch[h].Err)
	}
	return len(failed)
}

func callCmd() *cobra.Command {
	var inline bool

	cmd := &cobra.Command{
		Use:   "call [OPTIONS] -- COMMAND",
		Short: "Run a command on every host",
		Example: `  parallax call --hosts web -- "uptime"
  parallax call -f hosts.txt -p 5 -i -- "df -h /"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("command is required")
			}
			cmdline := strings.Join(args, " ")

			inv, err := inventory.New(configPath)
			if err != nil {
				return err
			}
			hosts, err := resolveHosts(inv)
			if err != nil {
				return err
			}
			opts := buildOptions(inv)
			client, err := newTransport(inv)
			if err != nil {
				return err
			}
			if noColor {
				color.NoColor = true
			}

			ctx, stop := batchContext()
			defer stop()

			rt := &reportingTransport{Transport: client, report: textReporter}

			var batch parallax.BatchResult[parallax.CallOutcome]
			if useTUI(hosts) {
				batch, err = runWithTUI("parallax call: "+cmdline, hosts, addrIndex(hosts), rt, func() (parallax.BatchResult[parallax.CallOutcome], error) {
					return parallax.Call(ctx, rt, hosts, cmdline, opts)
				})
			} else {
				batch, err = parallax.Call(ctx, rt, hosts, cmdline, opts)
			}
			if err != nil {
				return err
			}

			if inline {
				printInline(hosts, batch)
			}
			if n := printFailures(batch); n > 0 {
				return fmt.Errorf("%d of %d hosts failed", n, len(batch))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&inline, "inline", "i", false, "Print each host's captured output after the run")
	return cmd
}

// printInline dumps captured output per host in input order.
func printInline(hosts []string, batch parallax.BatchResult[parallax.CallOutcome]) {
	seen := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		if seen[h] {
			continue
		}
		seen[h] = true
		r, ok := batch[h]
		if !ok || !r.Ok() {
			continue
		}
		header := h
		if r.Value.ExitStatus != 0 {
			header = fmt.Sprintf("%s (exit %d)", h, r.Value.ExitStatus)
		}
		fmt.Printf("--- %s ---\n", header)
		if len(r.Value.Stdout) > 0 {
			os.Stdout.Write(r.Value.Stdout)
		}
		if len(r.Value.Stderr) > 0 {
			os.Stderr.Write(r.Value.Stderr)
		}
	}
}

func copyCmd() *cobra.Command {
	var mkdirs bool

	cmd := &cobra.Command{
		Use:   "copy [OPTIONS] SRC DST",
		Short: "Push a local file to every host",
		Args:  cobra.ExactArgs(2),
		Example: `  parallax copy --hosts web ./nginx.conf /etc/nginx/nginx.conf
  parallax copy -f hosts.txt --mkdirs app.tar.gz /opt/releases/app.tar.gz`,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dst := args[0], args[1]

			inv, err := inventory.New(configPath)
			if err != nil {
				return err
			}
			hosts, err := resolveHosts(inv)
			if err != nil {
				return err
			}
			opts := buildOptions(inv)
			opts.MkDirs = mkdirs
			if noColor {
				color.NoColor = true
			}

			ctx, stop := batchContext()
			defer stop()

			var batch parallax.BatchResult[string]
			if useTUI(hosts) {
				batch, err = runTransferTUI("parallax copy: "+src, hosts, inv, func(tr parallax.Transport) (parallax.BatchResult[string], error) {
					return parallax.Copy(ctx, tr, hosts, src, dst, opts)
				})
			} else {
				client, cerr := newTransport(inv)
				if cerr != nil {
					return cerr
				}
				rt := &reportingTransport{Transport: client, report: textReporter}
				fmt.Printf("Copying %s to %s on %d hosts\n", src, dst, len(hosts))
				batch, err = parallax.Copy(ctx, rt, hosts, src, dst, opts)
			}
			if err != nil {
				return err
			}
			if n := printFailures(batch); n > 0 {
				return fmt.Errorf("%d of %d hosts failed", n, len(batch))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&mkdirs, "mkdirs", false, "Create missing remote parent directories")
	return cmd
}

func slurpCmd() *cobra.Command {
	var localDir string

	cmd := &cobra.Command{
		Use:   "slurp [OPTIONS] SRC DST",
		Short: "Pull a remote file from every host into per-host directories",
		Args:  cobra.ExactArgs(2),
		Example: `  parallax slurp --hosts web /var/log/app.log app.log -L ./logs
  parallax slurp -f hosts.txt /etc/hostname hostname`,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dst := args[0], args[1]

			inv, err := inventory.New(configPath)
			if err != nil {
				return err
			}
			hosts, err := resolveHosts(inv)
			if err != nil {
				return err
			}
			opts := buildOptions(inv)
			opts.LocalDir = localDir
			if noColor {
				color.NoColor = true
			}

			ctx, stop := batchContext()
			defer stop()

			var batch parallax.BatchResult[string]
			if useTUI(hosts) {
				batch, err = runTransferTUI("parallax slurp: "+src, hosts, inv, func(tr parallax.Transport) (parallax.BatchResult[string], error) {
					return parallax.Slurp(ctx, tr, hosts, src, dst, opts)
				})
			} else {
				client, cerr := newTransport(inv)
				if cerr != nil {
					return cerr
				}
				rt := &reportingTransport{Transport: client, report: textReporter}
				fmt.Printf("Fetching %s from %d hosts\n", src, len(hosts))
				batch, err = parallax.Slurp(ctx, rt, hosts, src, dst, opts)
			}
			if err != nil {
				return err
			}
			if n := printFailures(batch); n > 0 {
				return fmt.Errorf("%d of %d hosts failed", n, len(batch))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&localDir, "localdir", "L", "", "Base directory for per-host download directories")
	return cmd
}

func hostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List configured host groups and connection defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := inventory.New(configPath)
			if err != nil {
				return err
			}

			groups := inv.GroupNames()
			names := make([]string, 0, len(groups))
			for name := range groups {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Println("Host groups:")
			fmt.Println()
			for _, name := range names {
				fmt.Printf("  [%s]\n", name)
				for _, host := range groups[name] {
					fmt.Printf("    - %s\n", host)
				}
				fmt.Println()
			}

			cfg := inv.GetConfig()
			fmt.Println("SSH defaults:")
			fmt.Printf("  User: %s\n", cfg.SSH.User)
			fmt.Printf("  Port: %d\n", cfg.SSH.Port)
			fmt.Printf("  Key: %s\n", cfg.SSH.KeyPath)
			fmt.Println()
			fmt.Println("Run defaults:")
			fmt.Printf("  Parallel: %d\n", cfg.Run.Parallel)
			fmt.Printf("  Timeout: %s\n", cfg.Run.Timeout)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of parallax",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("parallax version %s\n", Version)
		},
	}
}
