package sim

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"flexmarket/internal/baseline"
)

// Duration is a time.Duration that unmarshals from yaml strings like "1h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("sim: parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// BuyerConfig describes one flexibility buyer in the simulation.
type BuyerConfig struct {
	ID               string  `yaml:"id"`
	DemandProfile    string  `yaml:"demand_profile"`
	WillingnessToPay float64 `yaml:"willingness_to_pay"`
}

// AssetConfig describes one asset in a bidder's portfolio. MPID defaults to
// the asset id when empty.
type AssetConfig struct {
	ID   string `yaml:"id"`
	MPID string `yaml:"mpid"`
}

// BidderConfig describes one adaptive bidder in the simulation.
type BidderConfig struct {
	ID              string  `yaml:"id"`
	Alpha           float64 `yaml:"alpha"`
	Beta            float64 `yaml:"beta"`
	Gamma           float64 `yaml:"gamma"`
	MemoryDepth     int     `yaml:"memory_depth"`
	W1              float64 `yaml:"w1"`
	W2              float64 `yaml:"w2"`
	W3              float64 `yaml:"w3"`
	BaselineProfile string  `yaml:"baseline_profile"`
	// OfferShare caps the offered power at this fraction of the
	// bidder's baseline consumption.
	OfferShare float64 `yaml:"offer_share"`
	// Assets lists the portfolio assets the bidder is metered through.
	// Empty means a single asset metered under the bidder's id.
	Assets []AssetConfig `yaml:"assets"`
}

// RemunerationConfig holds the market reward parameters.
type RemunerationConfig struct {
	Alpha     float64 `yaml:"alpha"`
	Beta      float64 `yaml:"beta"`
	Threshold float64 `yaml:"threshold"`
}

// Config defines a full market simulation run.
type Config struct {
	Start            time.Time          `yaml:"start"`
	SlotStep         Duration           `yaml:"slot_step"`
	Slots            int                `yaml:"slots"`
	ClearingInterval int                `yaml:"clearing_interval"`
	ReferenceWindow  int                `yaml:"reference_window"`
	Remuneration     RemunerationConfig `yaml:"remuneration"`
	Buyers           []BuyerConfig      `yaml:"buyers"`
	Bidders          []BidderConfig     `yaml:"bidders"`
	NoiseAmplitude   float64            `yaml:"noise_amplitude"`
	Seed             int64              `yaml:"seed"`
	LedgerDSN        string             `yaml:"ledger_dsn"`
	Currency         string             `yaml:"currency"`
	ListenAddr       string             `yaml:"listen_addr"`
	ReportDir        string             `yaml:"report_dir"`
}

// LoadConfig loads the simulation config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		Start:            time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		SlotStep:         Duration(time.Hour),
		Slots:            24,
		ClearingInterval: 1,
		ReferenceWindow:  7,
		Remuneration:     RemunerationConfig{Alpha: 0.5, Beta: 0.1, Threshold: 0.1},
		NoiseAmplitude:   0.1,
		Seed:             getenvInt64Default("FLEXMARKET_SEED", 1),
		LedgerDSN:        os.Getenv("FLEXMARKET_LEDGER_DSN"),
		Currency:         getenvDefault("FLEXMARKET_CURRENCY", "EUR"),
		ListenAddr:       getenvDefault("FLEXMARKET_LISTEN_ADDR", ":8080"),
		ReportDir:        getenvDefault("FLEXMARKET_REPORT_DIR", filepath.FromSlash("var/reports")),
	}

	if path := os.Getenv("FLEXMARKET_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.LedgerDSN == "" {
		cfg.LedgerDSN = os.Getenv("FLEXMARKET_LEDGER_DSN")
	}
	return cfg, cfg.Validate()
}

// Validate checks the config for values the runner cannot work with.
func (c Config) Validate() error {
	if c.SlotStep <= 0 {
		return fmt.Errorf("sim: slot step must be positive, got %s", c.SlotStep.Std())
	}
	if c.Slots <= 0 {
		return fmt.Errorf("sim: slot count must be positive, got %d", c.Slots)
	}
	if c.ClearingInterval <= 0 {
		return fmt.Errorf("sim: clearing interval must be positive, got %d", c.ClearingInterval)
	}
	if c.ReferenceWindow <= 0 {
		return fmt.Errorf("sim: reference window must be positive, got %d", c.ReferenceWindow)
	}
	if len(c.Buyers) == 0 {
		return fmt.Errorf("sim: at least one buyer required")
	}
	if len(c.Bidders) == 0 {
		return fmt.Errorf("sim: at least one bidder required")
	}
	for _, b := range c.Buyers {
		if b.ID == "" {
			return fmt.Errorf("sim: buyer with empty id")
		}
		if _, ok := baseline.Profiles[b.DemandProfile]; !ok {
			return fmt.Errorf("sim: buyer %s: unknown demand profile %q", b.ID, b.DemandProfile)
		}
		if b.WillingnessToPay <= 0 {
			return fmt.Errorf("sim: buyer %s: willingness to pay must be positive", b.ID)
		}
	}
	for _, b := range c.Bidders {
		if b.ID == "" {
			return fmt.Errorf("sim: bidder with empty id")
		}
		if _, ok := baseline.Profiles[b.BaselineProfile]; !ok {
			return fmt.Errorf("sim: bidder %s: unknown baseline profile %q", b.ID, b.BaselineProfile)
		}
		if b.OfferShare < 0 || b.OfferShare > 1 {
			return fmt.Errorf("sim: bidder %s: offer share must be in [0,1]", b.ID)
		}
		for _, a := range b.Assets {
			if a.ID == "" {
				return fmt.Errorf("sim: bidder %s: asset with empty id", b.ID)
			}
		}
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt64Default(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
