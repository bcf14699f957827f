package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
	"github.com/tendant/simple-knowledge/pkg/knowledge/api"
	"github.com/tendant/simple-knowledge/pkg/knowledge/config"
)

const usage = `Simple Knowledge Admin CLI

Moderation tool that talks directly to the configured database and storage.

USAGE:
  knowledge-admin <command> [args] [options]

COMMANDS:
  pending              List packages awaiting review, newest first
  approve <ref>        Approve a pending package (id or name)
  reject <ref>         Reject a pending package (id or name)
  stats                Count packages per review state
  reconcile            Repair archive locations and discard unreferenced archives
  list                 List packages with optional filtering
  token <subject>      Issue a moderator JWT signed with KNOWLEDGE_MODERATOR_JWT_SECRET

ENVIRONMENT VARIABLES:
  Uses the same KNOWLEDGE_* variables as knowledge-server
  (run knowledge-server -env-help for the full list).

  Configuration can be loaded from a .env file in the current directory.
  Command line environment variables override .env file values.

EXAMPLES:
  knowledge-admin pending
  knowledge-admin approve react --note="looks good"
  knowledge-admin reject 42 --note="duplicate of vue"
  knowledge-admin list --status=all --category=web-framework --limit=20
  knowledge-admin stats --json

OPTIONS:
  --note=<text>        Review note (approve/reject)
  --status=<status>    pending, approved, rejected or all (list, default: approved)
  --category=<name>    Filter by category (list)
  --framework=<name>   Filter by framework (list)
  --limit=<n>          Maximum results (list, default: 50)
  --offset=<n>         Pagination offset (list, default: 0)
  --json               Output as JSON
`

type options struct {
	args    []string
	note    string
	list    knowledge.ListRequest
	useJSON bool
}

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Print(usage + "\n")
		os.Exit(1)
	}

	command := os.Args[1]
	if command == "help" || command == "--help" || command == "-h" {
		fmt.Print(usage + "\n")
		os.Exit(0)
	}

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	opts := parseOptions(os.Args[2:])

	if command == "token" {
		handleToken(cfg, opts)
		return
	}

	// Keep service logs off stdout so --json output stays parseable.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx := context.Background()
	svc, cleanup, err := cfg.BuildService(ctx, logger, nil)
	if err != nil {
		log.Fatalf("Failed to build service: %v", err)
	}
	defer cleanup()

	switch command {
	case "pending":
		err = handlePending(ctx, svc, opts)
	case "approve", "reject":
		err = handleDecision(ctx, svc, command, opts)
	case "stats":
		err = handleStats(ctx, svc, opts)
	case "reconcile":
		err = handleReconcile(ctx, svc, opts)
	case "list":
		err = handleList(ctx, svc, opts)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage + "\n")
		os.Exit(1)
	}
	if err != nil {
		cleanup()
		log.Fatalf("%s failed: %v", command, err)
	}
}

func parseOptions(args []string) options {
	opts := options{}
	for _, arg := range args {
		if arg == "--json" {
			opts.useJSON = true
			continue
		}
		key, value := parseFlag(arg)
		switch key {
		case "":
			opts.args = append(opts.args, arg)
		case "note":
			opts.note = value
		case "status":
			opts.list.Status = value
		case "category":
			opts.list.Category = value
		case "framework":
			opts.list.Framework = value
		case "limit":
			if n, err := strconv.Atoi(value); err == nil {
				opts.list.Limit = n
			}
		case "offset":
			if n, err := strconv.Atoi(value); err == nil {
				opts.list.Offset = n
			}
		}
	}
	return opts
}

func parseFlag(arg string) (string, string) {
	if !strings.HasPrefix(arg, "--") {
		return "", ""
	}
	key, value, ok := strings.Cut(arg[2:], "=")
	if !ok {
		return key, "true"
	}
	return key, value
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printPackages(pkgs []*knowledge.Package) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tNAME\tCATEGORY\tFRAMEWORK\tSTATUS\tSIZE\tSCORE\tUPLOADED\n")
	for _, pkg := range pkgs {
		framework := pkg.Framework
		if framework == "" {
			framework = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			pkg.ID,
			truncate(pkg.Name, 30),
			pkg.Category,
			truncate(framework, 15),
			pkg.Status,
			pkg.FileSize,
			pkg.Rating().Score,
			pkg.UploadDate.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()
}

func handlePending(ctx context.Context, svc knowledge.Service, opts options) error {
	pkgs, err := svc.PendingReviews(ctx)
	if err != nil {
		return err
	}
	if opts.useJSON {
		return printJSON(pkgs)
	}
	printPackages(pkgs)
	fmt.Printf("\nPending: %d\n", len(pkgs))
	return nil
}

func handleDecision(ctx context.Context, svc knowledge.Service, command string, opts options) error {
	if len(opts.args) != 1 {
		return fmt.Errorf("usage: knowledge-admin %s <id|name> [--note=<text>]", command)
	}
	pkg, err := svc.Resolve(ctx, opts.args[0])
	if err != nil {
		return err
	}

	req := knowledge.ReviewRequest{ID: pkg.ID, Note: opts.note}
	if command == "approve" {
		pkg, err = svc.Approve(ctx, req)
	} else {
		pkg, err = svc.Reject(ctx, req)
	}
	if err != nil {
		return err
	}

	if opts.useJSON {
		return printJSON(pkg)
	}
	fmt.Printf("Package %s (%d) is now %s\n", pkg.Name, pkg.ID, pkg.Status)
	if pkg.ReviewNote != "" {
		fmt.Printf("Note: %s\n", pkg.ReviewNote)
	}
	return nil
}

func handleStats(ctx context.Context, svc knowledge.Service, opts options) error {
	stats, err := svc.ReviewStats(ctx)
	if err != nil {
		return err
	}
	if opts.useJSON {
		return printJSON(stats)
	}

	fmt.Println("=== Review Statistics ===")
	fmt.Printf("  %-10s: %d\n", "pending", stats.Pending)
	fmt.Printf("  %-10s: %d\n", "approved", stats.Approved)
	fmt.Printf("  %-10s: %d\n", "rejected", stats.Rejected)
	fmt.Printf("\nTotal: %d\n", stats.Total)
	return nil
}

func handleReconcile(ctx context.Context, svc knowledge.Service, opts options) error {
	report, err := svc.Reconcile(ctx)
	if err != nil {
		return err
	}
	if opts.useJSON {
		return printJSON(report)
	}

	fmt.Printf("Checked: %d\n", report.Checked)
	for _, group := range []struct {
		label string
		names []string
	}{
		{"Promoted", report.Promoted},
		{"Unstaged", report.Unstaged},
		{"Missing", report.Missing},
		{"Orphaned", report.Orphaned},
	} {
		if len(group.names) == 0 {
			continue
		}
		fmt.Printf("%s: %s\n", group.label, strings.Join(group.names, ", "))
	}
	return nil
}

func handleList(ctx context.Context, svc knowledge.Service, opts options) error {
	result, err := svc.List(ctx, opts.list)
	if err != nil {
		return err
	}
	if opts.useJSON {
		return printJSON(result)
	}

	printPackages(result.Items)
	fmt.Printf("\nTotal: %d", result.Total)
	if next := result.Offset + result.Count; next < result.Total {
		fmt.Printf(" (has more, use --offset=%d to continue)", next)
	}
	fmt.Println()
	return nil
}

func handleToken(cfg *config.ServerConfig, opts options) {
	if cfg.ModeratorJWTSecret == "" {
		log.Fatal("KNOWLEDGE_MODERATOR_JWT_SECRET is not set")
	}
	subject := "admin"
	if len(opts.args) > 0 {
		subject = opts.args[0]
	}
	token, err := api.IssueModeratorToken(cfg.ModeratorJWTSecret, subject)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "Issued moderator token for %s at %s\n", subject, time.Now().UTC().Format(time.RFC3339))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
