package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "members":
		runMembers(args)
	case "verify":
		runVerify(args)
	case "reset":
		runReset(args)
	case "version":
		fmt.Printf("probe version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`probe - muster admin probe

Usage:
  probe <command> [options]

Commands:
  members   List the members one manager knows about
  verify    Check that managers agree on ownership and are ready
  reset     Reset the local members of one manager
  version   Print version
  help      Show this help

Members Options:
  --host      Admin host:port (default: 127.0.0.1:8090)
  --role      Role glob, may repeat via comma (default: all roles)
  --local     Only members owned by that manager (default: false)

Verify Options:
  --hosts     Comma-separated admin host:port pairs (requires at least 2)
  --wait      Keep polling until consistent or the wait expires (default: 0)
  --timeout   Per-request timeout (default: 5s)

Examples:
  probe members --host=127.0.0.1:8090 --role='Work*'
  probe verify --hosts=127.0.0.1:8090,127.0.0.1:8091 --wait=30s
  probe reset --host=127.0.0.1:8090`)
}

func signalContext(limit time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if limit <= 0 {
		return ctx, stop
	}
	timed, cancel := context.WithTimeout(ctx, limit)
	return timed, func() {
		cancel()
		stop()
	}
}

func parseOrExit(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}
}

func runMembers(args []string) {
	fs := flag.NewFlagSet("members", flag.ExitOnError)
	host := fs.String("host", "127.0.0.1:8090", "Admin host:port")
	roles := fs.String("role", "", "Comma-separated role globs")
	local := fs.Bool("local", false, "Only locally owned members")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	parseOrExit(fs, args)

	ctx, cancel := signalContext(*timeout)
	defer cancel()

	var patterns []string
	if *roles != "" {
		patterns = strings.Split(*roles, ",")
	}

	members, err := NewClient(*host).Members(ctx, patterns, *local)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list members: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%-12s %-28s %-28s %-10s %s\n", "ROLE", "ID", "MANAGER", "STATUS", "LOCAL")
	for _, m := range members {
		fmt.Printf("%-12s %-28s %-28s %-10s %t\n", m.Role, m.ID, m.Manager, m.Status, m.Local)
	}
}

func runReset(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	host := fs.String("host", "127.0.0.1:8090", "Admin host:port")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	parseOrExit(fs, args)

	ctx, cancel := signalContext(*timeout)
	defer cancel()

	n, err := NewClient(*host).Reset(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reset failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Reset %d member(s) on %s\n", n, *host)
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	hosts := fs.String("hosts", "", "Comma-separated admin host:port pairs")
	wait := fs.Duration("wait", 0, "Keep polling until consistent")
	timeout := fs.Duration("timeout", 5*time.Second, "Per-request timeout")
	parseOrExit(fs, args)

	hostList := splitHosts(*hosts)
	if len(hostList) < 2 {
		fmt.Fprintln(os.Stderr, "verify requires at least 2 hosts")
		os.Exit(1)
	}

	ctx, cancel := signalContext(*wait)
	defer cancel()

	clients := make([]*Client, 0, len(hostList))
	for _, h := range hostList {
		clients = append(clients, NewClient(h))
	}

	for {
		result, err := collectAndVerify(ctx, clients, *timeout)
		if err == nil && result.Consistent() {
			printVerifyResult(result)
			return
		}

		if *wait <= 0 || ctx.Err() != nil {
			if err != nil {
				fmt.Fprintf(os.Stderr, "Verification failed: %v\n", err)
			} else {
				printVerifyResult(result)
			}
			os.Exit(1)
		}

		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
}

func splitHosts(s string) []string {
	var out []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

func collectAndVerify(ctx context.Context, clients []*Client, timeout time.Duration) (*VerifyResult, error) {
	states := make(map[string]HostState, len(clients))
	for _, c := range clients {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		state, err := c.State(reqCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Host(), err)
		}
		states[c.Host()] = state
	}
	return Verify(states), nil
}

func printVerifyResult(r *VerifyResult) {
	fmt.Println("Manager lifecycle:")
	for _, host := range r.Hosts {
		fmt.Printf("  %-22s %-28s %s\n", host, r.Managers[host], r.Lifecycle[host])
	}
	fmt.Printf("Known members: %d\n", r.KnownMembers)
	for _, c := range r.Conflicts {
		fmt.Printf("  CONFLICT %s/%s: %v\n", c.Role, c.Member, c.Owners)
	}
	if r.Consistent() {
		fmt.Println("Cluster is consistent")
	} else {
		fmt.Printf("Cluster is NOT consistent: %d not ready, %d ownership conflict(s)\n", len(r.NotReady), len(r.Conflicts))
	}
}
