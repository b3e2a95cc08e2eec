package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"road_anomaly_reconciler/internal/domain/notification"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMongo    = "mongo"
	StoreBackendMemory   = "memory"
)

// Classifier modes.
const (
	ClassifierModeBypass  = "bypass"  // always persist, classification is recorded only
	ClassifierModeEnforce = "enforce" // reports not matching the sensor pattern are discarded
)

// AppConfig holds all configuration for the application. It is loaded once
// and handed to components by value; nothing mutates it afterwards.
type AppConfig struct {
	LogLevel    string
	Environment string
	HTTPAddr    string

	Store      StoreConfig
	Classifier ClassifierConfig
	Decision   DecisionConfig
	Notify     NotifyConfig
	Twilio     TwilioConfig
	Telegram   TelegramConfig
	Media      MediaConfig
	Locality   LocalityConfig
}

type StoreConfig struct {
	Backend     string
	DatabaseURL string
	MongoURI    string
	MongoDB     string
	CallTimeout time.Duration
}

type ClassifierConfig struct {
	Mode                   string
	AccelRangeThreshold    float64
	AccelVarianceThreshold float64
	GyroVarianceThreshold  float64
}

// Enforced reports whether non-matching reports must be discarded.
func (c ClassifierConfig) Enforced() bool {
	return c.Mode == ClassifierModeEnforce
}

type DecisionConfig struct {
	MinimumReports     int
	ProximityMeters    float64
	NearbyPageSize     int
	RepairTimeDays     int
	ClockSkewTolerance time.Duration
	MediaURLTTL        time.Duration
	ListingMediaURLTTL time.Duration
}

// RepairWindow converts RepairTimeDays into a duration.
func (c DecisionConfig) RepairWindow() time.Duration {
	return time.Duration(c.RepairTimeDays) * 24 * time.Hour
}

type NotifyConfig struct {
	CronSpec            string
	LookbackDays        int
	ClusterRadiusMeters float64
	ClusterPageSize     int
	MinClusterSize      int
	CycleTimeout        time.Duration
	SendTimeout         time.Duration
	SendConcurrency     int
	DefaultChannel      notification.Channel
	Routes              map[string]notification.Channel // lower-cased locality -> channel
	ToNumber            string
	AttachMediaToAlerts bool
	MediaURLTTL         time.Duration
}

// Lookback converts LookbackDays into a duration.
func (c NotifyConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// ChannelFor returns the routed channel of a locality or the default channel.
func (c NotifyConfig) ChannelFor(locality string) notification.Channel {
	if ch, ok := c.Routes[strings.ToLower(strings.TrimSpace(locality))]; ok {
		return ch
	}
	return c.DefaultChannel
}

type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	FromNumber   string
	WhatsAppFrom string
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
}

// Enabled reports whether Twilio credentials are present.
func (c TwilioConfig) Enabled() bool {
	return c.AccountSID != "" && c.AuthToken != ""
}

type TelegramConfig struct {
	Token       string
	AlertChatID int64
}

func (c TelegramConfig) Enabled() bool {
	return c.Token != "" && c.AlertChatID != 0
}

type MediaConfig struct {
	Bucket          string
	CredentialsFile string
	CredentialsJSON string
}

type LocalityConfig struct {
	Default string
	Bounds  []LocalityBound
}

// LocalityBound is a named lat/lon rectangle used to assign localities.
type LocalityBound struct {
	Name   string
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.LogLevel = strings.ToLower(envString("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(envString("ENVIRONMENT", "development"))
	cfg.HTTPAddr = envString("HTTP_ADDR", ":8080")

	// Store
	cfg.Store.Backend = strings.ToLower(envString("STORE_BACKEND", StoreBackendPostgres))
	cfg.Store.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.Store.MongoURI = os.Getenv("MONGO_URI")
	cfg.Store.MongoDB = envString("MONGO_DB", "road_anomalies")
	switch cfg.Store.Backend {
	case StoreBackendPostgres:
		if cfg.Store.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
	case StoreBackendMongo:
		if cfg.Store.MongoURI == "" {
			return nil, fmt.Errorf("MONGO_URI is not set")
		}
	case StoreBackendMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q", cfg.Store.Backend)
	}
	if cfg.Store.CallTimeout, err = envDuration("STORE_CALL_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	// Classifier
	cfg.Classifier.Mode = strings.ToLower(envString("CLASSIFIER_MODE", ClassifierModeBypass))
	if cfg.Classifier.Mode != ClassifierModeBypass && cfg.Classifier.Mode != ClassifierModeEnforce {
		return nil, fmt.Errorf("invalid CLASSIFIER_MODE %q", cfg.Classifier.Mode)
	}
	if cfg.Classifier.AccelRangeThreshold, err = envFloat("ACCEL_RANGE_THRESHOLD", 2.0); err != nil {
		return nil, err
	}
	if cfg.Classifier.AccelVarianceThreshold, err = envFloat("ACCEL_VARIANCE_THRESHOLD", 0.5); err != nil {
		return nil, err
	}
	if cfg.Classifier.GyroVarianceThreshold, err = envFloat("GYRO_VARIANCE_THRESHOLD", 0.1); err != nil {
		return nil, err
	}

	// Decision engine
	if cfg.Decision.MinimumReports, err = envInt("MINIMUM_REPORTS", 2); err != nil {
		return nil, err
	}
	if cfg.Decision.ProximityMeters, err = envFloat("PROXIMITY_METERS", 10); err != nil {
		return nil, err
	}
	if cfg.Decision.NearbyPageSize, err = envInt("NEARBY_PAGE_SIZE", 20); err != nil {
		return nil, err
	}
	if cfg.Decision.RepairTimeDays, err = envInt("REPAIR_TIME_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.Decision.ClockSkewTolerance, err = envDuration("CLOCK_SKEW_TOLERANCE", 2*time.Minute); err != nil {
		return nil, err
	}
	mediaTTL, err := envInt("MEDIA_URL_TTL_MINUTES", 10)
	if err != nil {
		return nil, err
	}
	cfg.Decision.MediaURLTTL = time.Duration(mediaTTL) * time.Minute
	listingTTL, err := envInt("LISTING_MEDIA_URL_TTL_MINUTES", 60)
	if err != nil {
		return nil, err
	}
	cfg.Decision.ListingMediaURLTTL = time.Duration(listingTTL) * time.Minute
	if cfg.Decision.MinimumReports < 1 {
		return nil, fmt.Errorf("MINIMUM_REPORTS must be at least 1")
	}
	if cfg.Decision.ProximityMeters <= 0 {
		return nil, fmt.Errorf("PROXIMITY_METERS must be positive")
	}
	// A proximity query returns at most NearbyPageSize neighbours, so a larger
	// threshold could never be reached.
	if cfg.Decision.NearbyPageSize < cfg.Decision.MinimumReports-1 {
		return nil, fmt.Errorf("NEARBY_PAGE_SIZE (%d) must be at least MINIMUM_REPORTS-1 (%d)",
			cfg.Decision.NearbyPageSize, cfg.Decision.MinimumReports-1)
	}

	// Notification scheduler
	cfg.Notify.CronSpec = envString("NOTIFY_CRON_SPEC", "@every 10m")
	if cfg.Notify.LookbackDays, err = envInt("NOTIFY_LOOKBACK_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.Notify.ClusterRadiusMeters, err = envFloat("NOTIFY_CLUSTER_RADIUS_METERS", 50); err != nil {
		return nil, err
	}
	if cfg.Notify.ClusterPageSize, err = envInt("NOTIFY_CLUSTER_PAGE_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.Notify.MinClusterSize, err = envInt("NOTIFY_MIN_CLUSTER_SIZE", 2); err != nil {
		return nil, err
	}
	if cfg.Notify.CycleTimeout, err = envDuration("NOTIFY_CYCLE_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Notify.SendTimeout, err = envDuration("NOTIFY_SEND_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Notify.SendConcurrency, err = envInt("NOTIFY_SEND_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.Notify.DefaultChannel, err = notification.ParseChannel(envString("NOTIFY_DEFAULT_CHANNEL", string(notification.ChannelSMS))); err != nil {
		return nil, fmt.Errorf("invalid NOTIFY_DEFAULT_CHANNEL: %w", err)
	}
	if cfg.Notify.Routes, err = ParseRoutes(envString("NOTIFY_ROUTES", "delhi:sms,gurgaon:sms,noida:whatsapp")); err != nil {
		return nil, fmt.Errorf("invalid NOTIFY_ROUTES: %w", err)
	}
	cfg.Notify.ToNumber = os.Getenv("NOTIFY_TO_NUMBER")
	if cfg.Notify.AttachMediaToAlerts, err = envBool("NOTIFY_ATTACH_MEDIA", true); err != nil {
		return nil, err
	}
	cfg.Notify.MediaURLTTL = cfg.Decision.ListingMediaURLTTL

	// Twilio
	cfg.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	cfg.Twilio.AuthToken = strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN"))
	cfg.Twilio.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER"))
	cfg.Twilio.WhatsAppFrom = strings.TrimSpace(os.Getenv("TWILIO_WHATSAPP_FROM"))
	cfg.Twilio.BaseURL = envString("TWILIO_BASE_URL", "https://api.twilio.com/2010-04-01")
	if cfg.Twilio.Timeout, err = envDuration("TWILIO_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Twilio.MaxRetries, err = envInt("TWILIO_MAX_RETRIES", 3); err != nil {
		return nil, err
	}

	// Telegram
	cfg.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")
	if chatIDStr := os.Getenv("TELEGRAM_ALERT_CHAT_ID"); chatIDStr != "" {
		cfg.Telegram.AlertChatID, err = strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_ALERT_CHAT_ID: %w", err)
		}
	}

	cfg.Media.Bucket = os.Getenv("MEDIA_BUCKET")
	cfg.Media.CredentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	cfg.Media.CredentialsJSON = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")

	// Locality assignment
	cfg.Locality.Default = envString("DEFAULT_LOCALITY", "unassigned")
	if cfg.Locality.Bounds, err = ParseLocalityBounds(os.Getenv("LOCALITY_BOUNDS")); err != nil {
		return nil, fmt.Errorf("invalid LOCALITY_BOUNDS: %w", err)
	}

	if err := cfg.validateChannels(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateChannels makes sure every channel that can be selected has a configured sender.
func (c *AppConfig) validateChannels() error {
	used := map[notification.Channel]bool{c.Notify.DefaultChannel: true}
	for _, ch := range c.Notify.Routes {
		used[ch] = true
	}
	for ch := range used {
		switch ch {
		case notification.ChannelSMS, notification.ChannelWhatsApp:
			if !c.Twilio.Enabled() {
				return fmt.Errorf("channel %s is routed but TWILIO_ACCOUNT_SID/TWILIO_AUTH_TOKEN are not set", ch)
			}
			if c.Notify.ToNumber == "" {
				return fmt.Errorf("channel %s is routed but NOTIFY_TO_NUMBER is not set", ch)
			}
		case notification.ChannelTelegram:
			if !c.Telegram.Enabled() {
				return fmt.Errorf("channel telegram is routed but TELEGRAM_TOKEN/TELEGRAM_ALERT_CHAT_ID are not set")
			}
		}
	}
	return nil
}

// ParseRoutes parses "locality:channel,locality:channel".
func ParseRoutes(raw string) (map[string]notification.Channel, error) {
	routes := make(map[string]notification.Channel)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, chStr, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("route %q is not locality:channel", part)
		}
		ch, err := notification.ParseChannel(chStr)
		if err != nil {
			return nil, err
		}
		routes[strings.ToLower(strings.TrimSpace(name))] = ch
	}
	return routes, nil
}

// ParseLocalityBounds parses "name:minLat,minLon,maxLat,maxLon;name:...".
func ParseLocalityBounds(raw string) ([]LocalityBound, error) {
	var bounds []LocalityBound
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, coords, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("bound %q is not name:minLat,minLon,maxLat,maxLon", part)
		}
		fields := strings.Split(coords, ",")
		if len(fields) != 4 {
			return nil, fmt.Errorf("bound %q needs 4 coordinates, got %d", name, len(fields))
		}
		var v [4]float64
		for i, f := range fields {
			n, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("bound %q: %w", name, err)
			}
			v[i] = n
		}
		if v[0] > v[2] || v[1] > v[3] {
			return nil, fmt.Errorf("bound %q has min greater than max", name)
		}
		bounds = append(bounds, LocalityBound{
			Name:   strings.ToLower(strings.TrimSpace(name)),
			MinLat: v[0], MinLon: v[1], MaxLat: v[2], MaxLon: v[3],
		})
	}
	return bounds, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
