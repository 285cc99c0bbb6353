package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/rlehmann/billsync/internal/config"
	"github.com/rlehmann/billsync/pkg/calendar"
	"github.com/rlehmann/billsync/pkg/oauth"
	"github.com/rlehmann/billsync/pkg/providers"
	"github.com/rlehmann/billsync/pkg/providers/google"
	"github.com/rlehmann/billsync/pkg/providers/outlook"
)

const usage = `usage: billsync <command> [options]

commands:
  connect <provider>              authorize a Google or Outlook account
  accounts                        list connected accounts
  disconnect <provider> <email>   revoke access and delete stored credentials
  test <provider> <email>         verify API connectivity
  push [options]                  enqueue bill events and process the sync queue
  pull <provider> <email>         list upcoming provider events
  export [options]                write bill events to an ICS file
`

func main() {
	log.SetFlags(0)
	log.SetPrefix("billsync: ")

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	app, err := newApp(cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	switch os.Args[1] {
	case "connect":
		err = app.connect(ctx, os.Args[2:])
	case "accounts":
		err = app.accounts()
	case "disconnect":
		err = app.disconnect(ctx, os.Args[2:])
	case "test":
		err = app.test(ctx, os.Args[2:])
	case "push":
		err = app.push(ctx, os.Args[2:])
	case "pull":
		err = app.pull(ctx, os.Args[2:])
	case "export":
		err = app.export(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

type app struct {
	cfg     *config.Config
	manager *oauth.Manager
}

func newApp(cfg *config.Config) (*app, error) {
	storage, err := oauth.NewCredentialStorage(cfg.CredentialsDir())
	if err != nil {
		return nil, err
	}

	manager := oauth.NewManager(storage, os.Getenv("BILLSYNC_PASSWORD"))
	if cfg.GoogleClientID != "" {
		if err := google.RegisterOAuth(manager, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.RedirectURL); err != nil {
			return nil, err
		}
	}
	if cfg.MicrosoftClientID != "" {
		if err := outlook.RegisterOAuth(manager, cfg.MicrosoftClientID, cfg.MicrosoftClientSecret, cfg.RedirectURL); err != nil {
			return nil, err
		}
	}

	return &app{cfg: cfg, manager: manager}, nil
}

func (a *app) provider(name string) (providers.Provider, error) {
	switch name {
	case calendar.ProviderGoogle:
		return google.New(a.manager, a.cfg.RedirectURL)
	case calendar.ProviderOutlook:
		return outlook.New(a.manager, a.cfg.RedirectURL)
	default:
		return nil, fmt.Errorf("unknown provider %q (want google or outlook)", name)
	}
}

// boundProvider returns a provider bound to a connected account.
func (a *app) boundProvider(ctx context.Context, name, email string) (providers.Provider, error) {
	p, err := a.provider(name)
	if err != nil {
		return nil, err
	}

	type accountBinder interface {
		UseAccount(ctx context.Context, user string) bool
	}
	if !p.(accountBinder).UseAccount(ctx, email) {
		return nil, fmt.Errorf("no usable credentials for %s on %s, run: billsync connect %s", email, name, name)
	}
	return p, nil
}

func (a *app) connect(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: billsync connect <provider>")
	}
	p, err := a.provider(args[0])
	if err != nil {
		return err
	}

	redirect, err := url.Parse(a.cfg.RedirectURL)
	if err != nil {
		return fmt.Errorf("invalid redirect URL: %w", err)
	}
	port, _ := strconv.Atoi(redirect.Port())

	server, err := oauth.NewCallbackServer(port)
	if err != nil {
		return err
	}
	server.Start()
	defer server.Stop()

	authURL, state, err := a.manager.InitiateAuthFlow(p.Name())
	if err != nil {
		return err
	}

	fmt.Println("Opening browser for authorization...")
	if err := openBrowser(authURL); err != nil {
		fmt.Printf("Could not open a browser, visit:\n\n  %s\n\n", authURL)
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.CallbackTimeoutSec)*time.Second)
	defer cancel()

	callback, err := server.WaitForCallback(waitCtx)
	if err != nil {
		return err
	}
	if callback.State != state {
		return fmt.Errorf("authorization response carried an unexpected state token")
	}

	result := p.Authenticate(ctx, callback.Code, callback.State)
	if !result.IsSuccess() {
		return fmt.Errorf("authorization failed: %s", result.ErrorMessage)
	}

	email := ""
	if result.UserInfo != nil {
		email = result.UserInfo.Email
	}
	fmt.Printf("Connected %s account %s\n", p.Name(), email)
	return nil
}

func (a *app) accounts() error {
	accounts := a.manager.ListConnectedAccounts()
	if len(accounts) == 0 {
		fmt.Println("No connected accounts.")
		return nil
	}
	for provider, infos := range accounts {
		for _, info := range infos {
			name := info.Name
			if name == "" {
				name = "-"
			}
			fmt.Printf("%-10s %-35s %s\n", provider, info.Email, name)
		}
	}
	return nil
}

func (a *app) disconnect(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: billsync disconnect <provider> <email>")
	}
	if !a.manager.RevokeAccess(ctx, args[0], args[1]) {
		return fmt.Errorf("failed to remove credentials for %s on %s", args[1], args[0])
	}
	fmt.Printf("Disconnected %s from %s\n", args[1], args[0])
	return nil
}

func (a *app) test(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: billsync test <provider> <email>")
	}
	p, err := a.boundProvider(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	result := p.TestConnection(ctx)
	fmt.Printf("Status:   %s\n", result.Status)
	fmt.Printf("Latency:  %dms\n", result.LatencyMS)
	if result.CalendarName != "" {
		fmt.Printf("Calendar: %s\n", result.CalendarName)
	}
	if result.Status != providers.ConnectionOK {
		return fmt.Errorf("connection test failed: %s", result.Message)
	}
	return nil
}

func (a *app) push(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	billsPath := fs.String("bills", "", "JSON file with bills to enqueue")
	providerName := fs.String("provider", calendar.ProviderGoogle, "target provider")
	email := fs.String("account", "", "connected account email")
	days := fs.Int("days", 365, "planning horizon in days")
	fs.Parse(args)

	store, err := calendar.NewSyncStore(a.cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := store.LoadSettings()
	if err != nil {
		return err
	}

	if *billsPath != "" {
		if err := enqueueBills(store, settings, *billsPath, *providerName, *days); err != nil {
			return err
		}
	}

	if *email == "" {
		return fmt.Errorf("push needs -account <email> to process the queue")
	}
	p, err := a.boundProvider(ctx, *providerName, *email)
	if err != nil {
		return err
	}
	return processQueue(ctx, store, p)
}

func enqueueBills(store *calendar.SyncStore, settings *calendar.SyncSettings, path, provider string, days int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var bills []struct {
		ID         int64   `json:"id"`
		Name       string  `json:"name"`
		Amount     float64 `json:"amount"`
		Category   string  `json:"category"`
		CategoryID int64   `json:"category_id"`
		DueDate    string  `json:"due_date"`
		Frequency  string  `json:"frequency"`
	}
	if err := json.Unmarshal(data, &bills); err != nil {
		return fmt.Errorf("invalid bills file: %w", err)
	}

	if days > settings.MaxSyncAgeDays {
		days = settings.MaxSyncAgeDays
	}
	now := time.Now()
	rng, err := calendar.NewDateRange(now, now.AddDate(0, 0, days))
	if err != nil {
		return err
	}

	queued := 0
	for _, b := range bills {
		if !settings.IsBillSyncEnabled(b.ID, b.CategoryID) {
			continue
		}
		due, err := time.Parse("2006-01-02", b.DueDate)
		if err != nil {
			return fmt.Errorf("bill %d has invalid due date %q", b.ID, b.DueDate)
		}

		bill := calendar.Bill{
			ID:         b.ID,
			Name:       b.Name,
			Amount:     b.Amount,
			Category:   b.Category,
			CategoryID: b.CategoryID,
			DueDate:    due,
			Frequency:  calendar.BillFrequency(b.Frequency),
		}
		events, err := calendar.BuildEvents(bill, settings.EventTemplate, rng)
		if err != nil {
			return err
		}

		for _, event := range events {
			payload, err := event.Encode()
			if err != nil {
				return err
			}
			op, err := calendar.NewSyncOperation(calendar.OpCreate, bill.ID, provider)
			if err != nil {
				return err
			}
			op.EventData = payload
			if _, err := store.Enqueue(op); err != nil {
				return err
			}
			queued++
		}
	}
	fmt.Printf("Queued %d operations\n", queued)
	return nil
}

// processQueue drains pending operations against the provider, recording
// bill-to-event mappings and bounded retries.
func processQueue(ctx context.Context, store *calendar.SyncStore, p providers.Provider) error {
	ops, err := store.PendingOperations(500)
	if err != nil {
		return err
	}

	applied, failed := 0, 0
	for _, q := range ops {
		if q.Op.Provider != p.Name() {
			continue
		}

		result, err := applyOperation(ctx, store, p, q.Op)
		if err != nil {
			return err
		}

		if result.IsSuccess() || result.Status == providers.StatusNotFound {
			if err := store.MarkDone(q.ID); err != nil {
				return err
			}
			applied++
			continue
		}

		q.Op.IncrementRetry(result.ErrorMessage)
		if !q.Op.CanRetry() {
			q.Status = calendar.OpStatusFailed
			failed++
		}
		if err := store.UpdateOperation(q); err != nil {
			return err
		}
		if result.Status == providers.StatusRateLimited {
			log.Printf("rate limited, stopping; retry after %d seconds", result.RetryAfter)
			break
		}
	}

	fmt.Printf("Applied %d operations, %d failed permanently\n", applied, failed)
	return nil
}

func applyOperation(ctx context.Context, store *calendar.SyncStore, p providers.Provider, op *calendar.SyncOperation) (*providers.EventResult, error) {
	mapping, err := store.GetMapping(op.BillID, p.Name())
	if err != nil {
		return nil, err
	}

	switch op.Type {
	case calendar.OpDelete:
		if mapping == nil {
			return &providers.EventResult{Status: providers.StatusSuccess}, nil
		}
		result, err := p.DeleteEvent(ctx, mapping.ExternalEventID, mapping.CalendarID)
		if err != nil {
			return nil, err
		}
		if result.IsSuccess() || result.Status == providers.StatusNotFound {
			if err := store.DeleteMapping(op.BillID, p.Name()); err != nil {
				return nil, err
			}
		}
		return result, nil

	case calendar.OpCreate, calendar.OpUpdate:
		event, err := calendar.DecodeEvent(op.EventData)
		if err != nil {
			return nil, err
		}

		var result *providers.EventResult
		if mapping != nil {
			result, err = p.UpdateEvent(ctx, mapping.ExternalEventID, event, mapping.CalendarID)
			if err != nil {
				return nil, err
			}
			// The remote copy is gone, recreate it
			if result.Status == providers.StatusNotFound {
				result, err = p.CreateEvent(ctx, event, mapping.CalendarID)
				if err != nil {
					return nil, err
				}
			}
		} else {
			result, err = p.CreateEvent(ctx, event, "")
			if err != nil {
				return nil, err
			}
		}

		if result.IsSuccess() {
			err := store.SaveMapping(&calendar.EventMapping{
				BillID:          op.BillID,
				Provider:        p.Name(),
				ExternalEventID: result.EventID,
				LastSynced:      time.Now(),
			})
			if err != nil {
				return nil, err
			}
		}
		return result, nil

	default:
		return nil, calendar.NewValidationError("unknown operation type", "operation_type")
	}
}

func (a *app) pull(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pull", flag.ExitOnError)
	days := fs.Int("days", 30, "lookahead in days")
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) != 2 {
		return fmt.Errorf("usage: billsync pull <provider> <email> [-days N]")
	}
	p, err := a.boundProvider(ctx, rest[0], rest[1])
	if err != nil {
		return err
	}

	now := time.Now()
	rng, err := calendar.NewDateRange(now, now.AddDate(0, 0, *days))
	if err != nil {
		return err
	}

	events := p.GetEvents(ctx, rng, "")
	if len(events) == 0 {
		fmt.Println("No events found.")
		return nil
	}
	for _, e := range events {
		when := e.Start.Format("2006-01-02")
		if !e.AllDay {
			when = e.Start.Format("2006-01-02 15:04")
		}
		fmt.Printf("%-16s %s\n", when, e.Title)
	}
	return nil
}

func (a *app) export(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	billsPath := fs.String("bills", "", "JSON file with bills")
	out := fs.String("out", "bills.ics", "output ICS file")
	days := fs.Int("days", 365, "planning horizon in days")
	fs.Parse(args)

	if *billsPath == "" {
		return fmt.Errorf("export needs -bills <file>")
	}

	store, err := calendar.NewSyncStore(a.cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := store.LoadSettings()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(*billsPath)
	if err != nil {
		return err
	}
	var bills []struct {
		ID         int64   `json:"id"`
		Name       string  `json:"name"`
		Amount     float64 `json:"amount"`
		Category   string  `json:"category"`
		CategoryID int64   `json:"category_id"`
		DueDate    string  `json:"due_date"`
		Frequency  string  `json:"frequency"`
	}
	if err := json.Unmarshal(data, &bills); err != nil {
		return fmt.Errorf("invalid bills file: %w", err)
	}

	now := time.Now()
	rng, err := calendar.NewDateRange(now, now.AddDate(0, 0, *days))
	if err != nil {
		return err
	}

	var events []*calendar.Event
	for _, b := range bills {
		due, err := time.Parse("2006-01-02", b.DueDate)
		if err != nil {
			return fmt.Errorf("bill %d has invalid due date %q", b.ID, b.DueDate)
		}
		bill := calendar.Bill{
			ID:         b.ID,
			Name:       b.Name,
			Amount:     b.Amount,
			Category:   b.Category,
			CategoryID: b.CategoryID,
			DueDate:    due,
			Frequency:  calendar.BillFrequency(b.Frequency),
		}
		billEvents, err := calendar.BuildEvents(bill, settings.EventTemplate, rng)
		if err != nil {
			return err
		}
		events = append(events, billEvents...)
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := calendar.WriteICS(f, events); err != nil {
		return err
	}
	fmt.Printf("Wrote %d events to %s\n", len(events), *out)
	return nil
}

// openBrowser opens a URL in the default browser
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}
