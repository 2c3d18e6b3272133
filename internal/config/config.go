package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// BBox represents a geographic bounding box
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	IsSet                          bool
}

// Contains checks if a point is within the bounding box
func (b *BBox) Contains(lat, lon float64) bool {
	if b == nil || !b.IsSet {
		return true
	}
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// String formats the box the way ParseBBox reads it
func (b *BBox) String() string {
	if b == nil || !b.IsSet {
		return ""
	}
	return fmt.Sprintf("%g,%g,%g,%g", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// JapanBounds is the default ingest window: lat 20..46, lon 122..154
func JapanBounds() *BBox {
	return &BBox{MinLon: 122, MinLat: 20, MaxLon: 154, MaxLat: 46, IsSet: true}
}

// ParseBBox parses a bbox string in format "minlon,minlat,maxlon,maxlat".
// The literal "none" disables bounds filtering.
func ParseBBox(s string) (*BBox, error) {
	if s == "" || s == "none" {
		return &BBox{IsSet: false}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values: minlon,minlat,maxlon,maxlat")
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	bbox := &BBox{
		MinLon: coords[0],
		MinLat: coords[1],
		MaxLon: coords[2],
		MaxLat: coords[3],
		IsSet:  true,
	}

	if bbox.MinLon > bbox.MaxLon {
		return nil, fmt.Errorf("minlon (%f) must be <= maxlon (%f)", bbox.MinLon, bbox.MaxLon)
	}
	if bbox.MinLat > bbox.MaxLat {
		return nil, fmt.Errorf("minlat (%f) must be <= maxlat (%f)", bbox.MinLat, bbox.MaxLat)
	}

	return bbox, nil
}

// Config holds the global configuration shared by all commands
type Config struct {
	// Ingest settings
	Origin string // dataset origin, scopes the replace-on-import batch
	Bounds *BBox  // nodes outside are dropped

	// Database settings
	DatabaseURL string // overrides the discrete fields when set
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string
	DBSchema    string
	DBMaxConns  int

	// Serving settings
	ListenAddr   string
	DefaultLimit int
	MaxLimit     int
	CacheMaxAge  time.Duration
	CORSOrigins  []string

	// Egress document attributes
	Copyright   string
	Attribution string
	License     string
	SourceTag   string // value of the source tag on served ways

	// Tile expiry settings
	ExpireOutput  string
	ExpireMinZoom int
	ExpireMaxZoom int

	// Logging and metrics
	Verbose         bool
	LogFile         string        // Path to log file (empty = no file logging)
	MetricsInterval time.Duration // Interval for system metrics logging
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Bounds:          JapanBounds(),
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "footprints",
		DBUser:          "postgres",
		DBSchema:        "public",
		DBMaxConns:      10,
		ListenAddr:      ":8000",
		DefaultLimit:    1000,
		MaxLimit:        10000,
		CacheMaxAge:     5 * time.Minute,
		CORSOrigins:     []string{"*"},
		Copyright:       "Building footprints contributors",
		Attribution:     "https://www.mlit.go.jp/plateau/",
		License:         "CC-BY-4.0",
		SourceTag:       "footprints",
		ExpireMinZoom:   10,
		ExpireMaxZoom:   16,
		MetricsInterval: 30 * time.Second,
	}
}

// LoadEnv reads an optional .env file and applies environment overrides.
// Values already present in the environment win over the file.
func (c *Config) LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	setString(&c.DBHost, "FOOTPRINTS_DB_HOST")
	setString(&c.DBName, "FOOTPRINTS_DB_NAME")
	setString(&c.DBUser, "FOOTPRINTS_DB_USER")
	setString(&c.DBPassword, "FOOTPRINTS_DB_PASSWORD")
	setString(&c.DBSchema, "FOOTPRINTS_DB_SCHEMA")
	setString(&c.ListenAddr, "FOOTPRINTS_LISTEN")
	setString(&c.Origin, "FOOTPRINTS_ORIGIN")
	setString(&c.LogFile, "FOOTPRINTS_LOG_FILE")
	setString(&c.SourceTag, "FOOTPRINTS_SOURCE_TAG")

	if err := setInt(&c.DBPort, "FOOTPRINTS_DB_PORT"); err != nil {
		return err
	}
	if err := setInt(&c.DBMaxConns, "FOOTPRINTS_DB_MAX_CONNS"); err != nil {
		return err
	}
	if v := os.Getenv("FOOTPRINTS_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("FOOTPRINTS_BOUNDS"); v != "" {
		b, err := ParseBBox(v)
		if err != nil {
			return fmt.Errorf("FOOTPRINTS_BOUNDS: %w", err)
		}
		c.Bounds = b
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Validate checks settings shared by every command
func (c *Config) Validate() error {
	if c.DBMaxConns < 1 {
		return fmt.Errorf("db max connections must be at least 1")
	}
	if c.DefaultLimit < 1 || c.MaxLimit < c.DefaultLimit {
		return fmt.Errorf("limits must satisfy 1 <= default (%d) <= max (%d)", c.DefaultLimit, c.MaxLimit)
	}
	if c.ExpireMinZoom < 0 || c.ExpireMaxZoom > 20 || c.ExpireMinZoom > c.ExpireMaxZoom {
		return fmt.Errorf("expire zoom range %d-%d is invalid", c.ExpireMinZoom, c.ExpireMaxZoom)
	}
	return nil
}

// ValidateImport checks settings needed by an import run
func (c *Config) ValidateImport() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	if strings.ContainsAny(c.Origin, "%\\") {
		return fmt.Errorf("origin %q contains reserved characters", c.Origin)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
