// ABOUTME: Entry point for olymp-desk, the olympiad registration and support bot
// ABOUTME: Subcommands: serve, init, export, version

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/olymp-desk/internal/access"
	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/config"
	"github.com/2389/olymp-desk/internal/desk"
	"github.com/2389/olymp-desk/internal/matrix"
	"github.com/2389/olymp-desk/internal/store"
	"github.com/2389/olymp-desk/internal/texts"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
        _                                    _           _
   ___ | |_   _ _ __ ___  _ __            __| | ___  ___| | __
  / _ \| | | | | '_ ' _ \| '_ \ _____   / _' |/ _ \/ __| |/ /
 | (_) | | |_| | | | | | | |_) |_____| | (_| |  __/\__ \   <
  \___/|_|\__, |_| |_| |_| .__/         \__,_|\___||___/_|\_\
          |___/          |_|
`

// getDataPath returns the olymp-desk data directory.
// Priority: XDG_DATA_HOME/olymp-desk > ~/.local/share/olymp-desk
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "olymp-desk")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: olymp-desk <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve            Connect to Matrix and run the desk")
		fmt.Println("  init             Create a new config file interactively")
		fmt.Println("  export [FILE]    Write the participant table as CSV (default results.csv, - for stdout)")
		fmt.Println("  version          Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "export":
		err = runExport(ctx, os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.Path()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	catalog, err := texts.Load(cfg.Desk.TextsPath)
	if err != nil {
		return fmt.Errorf("loading texts: %w", err)
	}

	roster, err := access.LoadRoster(ctx, st, actorIDs(cfg.Access.StaffIDs), chat.ActorID(cfg.Access.SuperuserID))
	if err != nil {
		return fmt.Errorf("loading roster: %w", err)
	}

	client, closeCrypto, err := matrix.Connect(ctx, cfg.Matrix, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeCrypto(); err != nil {
			logger.Warn("closing crypto store", "error", err)
		}
	}()

	transport, err := matrix.New(matrix.Options{
		Client:      client,
		Self:        client.UserID,
		Directory:   st,
		Classify:    desk.ActionKind,
		AlbumWindow: cfg.Desk.AlbumWindow,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	d, err := desk.New(ctx, desk.Options{
		Profiles:          st,
		Roster:            roster,
		Out:               transport,
		Texts:             catalog,
		AgreementPath:     cfg.Desk.AgreementPath,
		AlertHistory:      cfg.Desk.AlertHistory,
		BroadcastInterval: cfg.Desk.BroadcastRate,
		AlbumWindow:       cfg.Desk.AlbumWindow,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	defer d.Close()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Matrix:     %s as %s", cfg.Matrix.Homeserver, cfg.Matrix.UserID)
	if cfg.Matrix.Encryption {
		yellow.Print(" [e2ee]")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", describeDatabase(cfg.Database))
	green.Print("    ▶ ")
	fmt.Printf("Staff:      %d", len(roster.StaffIDs()))
	gray.Printf(" (superuser %d)\n", cfg.Access.SuperuserID)
	fmt.Println()

	logger.Info("starting olymp-desk",
		"config", configPath,
		"homeserver", cfg.Matrix.Homeserver,
		"driver", cfg.Database.Driver,
	)

	return transport.Run(ctx, client, d)
}

// runExport writes the same table staff receive from the export action.
func runExport(ctx context.Context, args []string) error {
	out := desk.ExportName
	switch len(args) {
	case 0:
	case 1:
		out = args[0]
	default:
		return fmt.Errorf("export takes at most one argument")
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	profiles, err := st.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("listing profiles: %w", err)
	}

	if out == "-" {
		return desk.WriteCSV(os.Stdout, profiles)
	}

	f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", out, err)
	}
	if err := desk.WriteCSV(f, profiles); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", out, err)
	}

	color.New(color.FgGreen).Printf("  ✓ %d participants written to %s\n", len(profiles), out)
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := store.NewPostgresStore(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return s, nil
	default:
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return s, nil
	}
}

func describeDatabase(cfg config.DatabaseConfig) string {
	if cfg.Driver == config.DriverPostgres {
		return "postgres"
	}
	return "sqlite " + cfg.Path
}

func actorIDs(ids []int64) []chat.ActorID {
	out := make([]chat.ActorID, len(ids))
	for i, id := range ids {
		out[i] = chat.ActorID(id)
	}
	return out
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("olymp-desk configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	defaultDataPath := getDataPath()

	outputFile := prompt(reader, "Config file path", config.Path())
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Matrix ---")
	homeserver := prompt(reader, "Homeserver URL", "https://matrix.org")
	userID := prompt(reader, "Bot user id", "@olymp-desk:matrix.org")
	deviceID := prompt(reader, "Device id (leave empty to look up)", "")
	encryption := isYes(prompt(reader, "Enable end-to-end encryption?", "yes"))

	fmt.Println("\n--- Database ---")
	driver := prompt(reader, "Driver (sqlite/postgres)", config.DriverSQLite)
	var dbPath, dbURL string
	if driver == config.DriverPostgres {
		dbURL = prompt(reader, "PostgreSQL URL (or set OLYMP_DATABASE_URL)", "${OLYMP_DATABASE_URL}")
	} else {
		dbPath = prompt(reader, "SQLite database path", filepath.Join(defaultDataPath, "desk.db"))
	}

	fmt.Println("\n--- Desk ---")
	agreement := prompt(reader, "Agreement PDF path", filepath.Join(defaultDataPath, "agreement.pdf"))
	superuser := prompt(reader, "Superuser actor id", "1")
	staff := prompt(reader, "Staff actor ids (comma separated)", "")

	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# olymp-desk configuration\n")
	cfg.WriteString("# Generated by olymp-desk init\n\n")

	cfg.WriteString("matrix:\n")
	cfg.WriteString(fmt.Sprintf("  homeserver: %q\n", homeserver))
	cfg.WriteString(fmt.Sprintf("  user_id: %q\n", userID))
	cfg.WriteString("  access_token: \"${OLYMP_MATRIX_TOKEN}\"\n")
	if deviceID != "" {
		cfg.WriteString(fmt.Sprintf("  device_id: %q\n", deviceID))
	}
	cfg.WriteString(fmt.Sprintf("  encryption: %t\n", encryption))
	if encryption {
		cfg.WriteString(fmt.Sprintf("  data_dir: %q\n", defaultDataPath))
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  driver: %q\n", driver))
	if dbPath != "" {
		cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	}
	if dbURL != "" {
		cfg.WriteString(fmt.Sprintf("  url: %q\n", dbURL))
	}
	cfg.WriteString("\n")

	cfg.WriteString("desk:\n")
	cfg.WriteString("  album_window: \"500ms\"\n")
	cfg.WriteString("  broadcast_rate: \"50ms\"\n")
	cfg.WriteString(fmt.Sprintf("  agreement_path: %q\n", agreement))
	cfg.WriteString("  alert_history: 10\n")
	cfg.WriteString("\n")

	cfg.WriteString("access:\n")
	cfg.WriteString(fmt.Sprintf("  superuser_id: %s\n", superuser))
	cfg.WriteString(fmt.Sprintf("  staff_ids: [%s]\n", staff))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(defaultDataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the desk:")
	fmt.Println("  export OLYMP_MATRIX_TOKEN=...")
	fmt.Println("  olymp-desk serve")

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
