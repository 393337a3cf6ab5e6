// Command seed loads users, wallets, items and owner calendars from a YAML
// fixture into the booking database. With SEED_API_URL set, calendars are
// pushed through the running API on behalf of each item's owner instead, so
// that its owner checks apply.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"

	"gearshare/internal/availability"
	"gearshare/internal/client"
	"gearshare/internal/config"
	"gearshare/internal/database"
	"gearshare/internal/logging"
	"gearshare/internal/models"
)

type fixture struct {
	Users     []models.UserProfile  `yaml:"users"`
	Wallets   []models.Wallet       `yaml:"wallets"`
	Items     []models.ItemSnapshot `yaml:"items"`
	Calendars []calendarFixture     `yaml:"calendars"`
}

type calendarFixture struct {
	ItemID    int64                        `yaml:"item_id"`
	Intervals []availability.IntervalInput `yaml:"intervals"`
}

// calendarWriter stores an owner's calendar either directly or over the API.
type calendarWriter interface {
	SetCalendar(ctx context.Context, ownerID, itemID int64, intervals []availability.IntervalInput) error
}

type localCalendars struct {
	calendar *availability.Calendar
}

func (l localCalendars) SetCalendar(ctx context.Context, _, itemID int64, intervals []availability.IntervalInput) error {
	_, err := l.calendar.SetCalendar(ctx, itemID, intervals)
	return err
}

type apiCalendars struct {
	client *client.Client
}

func (a apiCalendars) SetCalendar(ctx context.Context, ownerID, itemID int64, intervals []availability.IntervalInput) error {
	_, err := a.client.SetCalendar(ctx, ownerID, itemID, intervals)
	return err
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	seedPath := os.Getenv("SEED_PATH")
	if seedPath == "" {
		seedPath = "configs/seed.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := baseLogger.With().Str("component", "seed").Logger()

	fx, err := loadFixture(seedPath)
	if err != nil {
		logger.Error().Err(err).Str("seed_path", seedPath).Msg("read seed")
		return err
	}

	db, err := database.NewDBWithOptions(cfg.Database.Path, &logger, database.Options{
		BusyTimeout: time.Duration(cfg.Database.BusyTimeout) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	var calendars calendarWriter = localCalendars{calendar: availability.NewCalendar(db, &logger)}
	if apiURL := os.Getenv("SEED_API_URL"); apiURL != "" {
		calendars = apiCalendars{client: client.New(apiURL, os.Getenv("SEED_API_KEY"), os.Getenv("SEED_API_EXTRA"))}
		logger.Info().Str("api_url", apiURL).Msg("Calendars go through the API")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return apply(ctx, db, calendars, fx, &logger)
}

func loadFixture(path string) (*fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fx fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &fx, nil
}

func apply(ctx context.Context, db *database.DB, calendars calendarWriter, fx *fixture, logger *zerolog.Logger) error {
	for i := range fx.Users {
		if err := db.UpsertUser(ctx, &fx.Users[i]); err != nil {
			return fmt.Errorf("user %d: %w", fx.Users[i].ID, err)
		}
	}
	for i := range fx.Wallets {
		if err := db.UpsertWallet(ctx, &fx.Wallets[i]); err != nil {
			return fmt.Errorf("wallet %s: %w", fx.Wallets[i].WalletID, err)
		}
	}
	for i := range fx.Items {
		if err := db.UpsertItem(ctx, &fx.Items[i]); err != nil {
			return fmt.Errorf("item %d: %w", fx.Items[i].ID, err)
		}
	}

	owners := make(map[int64]int64, len(fx.Items))
	for _, item := range fx.Items {
		owners[item.ID] = item.OwnerID
	}
	for _, c := range fx.Calendars {
		ownerID, ok := owners[c.ItemID]
		if !ok {
			item, err := db.GetItemSnapshot(ctx, c.ItemID)
			if err != nil {
				return fmt.Errorf("calendar of item %d: %w", c.ItemID, err)
			}
			ownerID = item.OwnerID
		}
		if err := calendars.SetCalendar(ctx, ownerID, c.ItemID, c.Intervals); err != nil {
			return fmt.Errorf("calendar of item %d: %w", c.ItemID, err)
		}
	}

	active, err := db.ListItems(ctx, "")
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	logger.Info().
		Int("users", len(fx.Users)).
		Int("wallets", len(fx.Wallets)).
		Int("items", len(fx.Items)).
		Int("calendars", len(fx.Calendars)).
		Int("active_items", len(active)).
		Msg("Seed applied")
	return nil
}
