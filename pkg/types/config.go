package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "catalog-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// MaxRetries bounds retries on 429/503 responses (default 5).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// CatalogConfig holds settings for the catalog search and metacard endpoints.
type CatalogConfig struct {
	HTTPConfig `yaml:",inline"`

	// Endpoint is the base URL of the catalog (e.g. "https://catalog.local:8993").
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// SearchPath is the path of the search endpoint relative to Endpoint.
	SearchPath string `json:"search_path" yaml:"search_path"`

	// MetacardPath is the path of the single-record endpoint relative to Endpoint.
	MetacardPath string `json:"metacard_path" yaml:"metacard_path"`

	// Sources lists the default federated sources for new queries.
	Sources []string `json:"sources" yaml:"sources"`

	// PageSize is the default per-source page size (default 250).
	PageSize int `json:"page_size" yaml:"page_size"`

	// Username and Password authenticate with basic auth when set.
	// They are normally loaded from .secrets/ rather than the config file.
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// AggregatorConfig holds settings for workspace result aggregation.
type AggregatorConfig struct {
	// Debounce is the batch window for recomputing an aggregate (default 16ms).
	Debounce time.Duration `json:"debounce" yaml:"debounce"`
}

// ClusterConfig holds the fixed density-clustering constants.
type ClusterConfig struct {
	// Radius is the neighborhood radius in viewport pixels (default 40).
	Radius float64 `json:"radius" yaml:"radius"`

	// MinPoints is the minimum neighborhood size, including the point itself,
	// for a point to seed a cluster (default 2).
	MinPoints int `json:"min_points" yaml:"min_points"`
}

// RefreshConfig holds settings for refresh propagation.
type RefreshConfig struct {
	// Concurrency bounds parallel fetches within one refresh (default 8).
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// StoreConfig holds settings for local persistence.
type StoreConfig struct {
	// Dir is the directory holding catalog.db (default ".catalog").
	Dir string `json:"dir" yaml:"dir"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error (default info).
	Level string `json:"level" yaml:"level"`

	// Development switches to human-readable console output.
	Development bool `json:"development" yaml:"development"`
}

// EngineConfig groups all component configurations.
type EngineConfig struct {
	Catalog    CatalogConfig    `json:"catalog" yaml:"catalog"`
	Aggregator AggregatorConfig `json:"aggregator" yaml:"aggregator"`
	Cluster    ClusterConfig    `json:"cluster" yaml:"cluster"`
	Refresh    RefreshConfig    `json:"refresh" yaml:"refresh"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// DefaultEngineConfig returns the configuration used when no file overrides it.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Catalog: CatalogConfig{
			HTTPConfig: HTTPConfig{
				Timeout:    30 * time.Second,
				UserAgent:  "catalog-engine/0.1",
				MaxRetries: 5,
			},
			SearchPath:   "/search/catalog/internal/cql",
			MetacardPath: "/search/catalog/internal/metacard",
			Sources:      []string{"local"},
			PageSize:     250,
		},
		Aggregator: AggregatorConfig{Debounce: 16 * time.Millisecond},
		Cluster:    ClusterConfig{Radius: 40, MinPoints: 2},
		Refresh:    RefreshConfig{Concurrency: 8},
		Store:      StoreConfig{Dir: ".catalog"},
		Log:        LogConfig{Level: "info"},
	}
}
