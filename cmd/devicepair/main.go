// Command devicepair pairs this machine with a Gamma Timetable account and
// calls the backend as the paired device.
//
// Usage:
//
//	devicepair [-env .env] [-store file|postgres|redis] pair|status|logout|fetch PATH
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gammatimetable/devicepair"
	"github.com/gammatimetable/devicepair/cmd/internal"
	"github.com/gammatimetable/devicepair/stores/file"
	"github.com/gammatimetable/devicepair/stores/postgres"
	redisstore "github.com/gammatimetable/devicepair/stores/redis"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

var errUsage = errors.New("usage")

// loadEnvFile loads path into the environment. Variables already set take
// precedence over the file. A missing file is only an error when the path
// was given explicitly.
func loadEnvFile(path string, explicit bool) error {
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, os.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("%s: %w", path, err)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("devicepair", flag.ExitOnError)
	var envFile, storeKind string
	internal.EnvFlag(fs, &envFile)
	internal.StoreFlag(fs, &storeKind)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: devicepair [flags] pair|status|logout|fetch PATH\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	explicitEnv := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "env" || f.Name == "e" {
			explicitEnv = true
		}
	})
	if err := loadEnvFile(envFile, explicitEnv); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}

	cfg, err := internal.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, storeKind, cfg)
	if err != nil {
		logger.Error("failed to open credential store", "store", storeKind, "error", err)
		return 1
	}
	defer closeStore()

	client := devicepair.New(store,
		devicepair.WithLogger(logger),
		devicepair.WithMonitor(devicepair.NewLoggerMonitor(logger)),
		devicepair.WithUserAgent(cfg.UserAgent),
		devicepair.WithPollInterval(cfg.PollInterval),
		devicepair.WithMaxWait(cfg.MaxWait),
	)

	a := &app{client: client, cfg: cfg, out: os.Stdout}
	if err := a.execute(ctx, fs.Args()); err != nil {
		if errors.Is(err, errUsage) {
			fs.Usage()
			return 2
		}
		logger.Error("command failed", "error", err)
		return 1
	}
	return 0
}

func openStore(ctx context.Context, kind string, cfg *internal.Config) (devicepair.Storer, func(), error) {
	switch kind {
	case internal.StoreFile:
		return file.New(cfg.StorePath), func() {}, nil

	case internal.StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DATABASE_URL is required for the postgres store")
		}
		conn, err := pgx.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		closeConn := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			conn.Close(ctx)
		}
		return postgres.New(conn), closeConn, nil

	case internal.StoreRedis:
		rdb, err := redisstore.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return redisstore.New(rdb), func() { rdb.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", kind)
}

type app struct {
	client *devicepair.Client
	cfg    *internal.Config
	out    io.Writer
}

func (a *app) execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "pair":
		return a.pair(ctx)
	case "status":
		return a.status(ctx)
	case "logout":
		return a.logout(ctx)
	case "fetch":
		if len(args) != 2 {
			return errUsage
		}
		return a.fetch(ctx, args[1])
	}
	return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
}

func (a *app) pair(ctx context.Context) error {
	token, err := a.client.Pair(ctx, a.cfg.APIURL, a.cfg.WebURL, func(ctx context.Context, signInURL string) error {
		_, err := fmt.Fprintf(a.out, "Open this URL in a signed-in browser to link this device:\n\n  %s\n\nWaiting for the link...\n", signInURL)
		return err
	})
	if errors.Is(err, devicepair.ErrPairingTimedOut) {
		return errors.New("the code was not linked in time; run pair again")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Device linked. Token valid until %s.\n", token.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

func (a *app) status(ctx context.Context) error {
	st, err := a.client.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "state: %s\n", st.State)
	switch st.State {
	case devicepair.StateLinked, devicepair.StateExpired:
		fmt.Fprintf(a.out, "token expires: %s\n", st.Token.ExpiresAt.Format(time.RFC3339))
	case devicepair.StateRegistered:
		fmt.Fprintf(a.out, "code: %s (expires %s)\n", st.Info.Code, st.Info.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if err := a.client.ClearToken(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out.")
	return nil
}

func (a *app) fetch(ctx context.Context, path string) error {
	resp, err := a.client.AuthorizedFetch(ctx, a.cfg.APIURL, path, devicepair.FetchRequest{})
	if errors.Is(err, devicepair.ErrNotAuthenticated) {
		return errors.New("not paired; run pair first")
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if err := a.client.ClearToken(ctx); err != nil {
			return err
		}
		return errors.New("the backend rejected the device token; run pair again")
	}
	if _, err := io.Copy(a.out, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %s", path, resp.Status)
	}
	return nil
}
