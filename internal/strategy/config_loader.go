package strategy

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"bot-trading-core/pkg/db"
)

// BotConfig is one bot definition in the YAML seed file.
type BotConfig struct {
	ID               int64          `yaml:"id"`
	Name             string         `yaml:"name"`
	Description      string         `yaml:"description"`
	StrategyType     string         `yaml:"strategy_type"`
	StrategyConfig   map[string]any `yaml:"strategy_config"`
	MaxDrawdownLimit float64        `yaml:"max_drawdown_limit"`
	MonthlyFee       float64        `yaml:"monthly_fee"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Bots []BotConfig `yaml:"bots"`
}

// LoadConfig reads bot definitions from a YAML file.
func LoadConfig(path string) ([]BotConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, b := range file.Bots {
		if b.ID <= 0 {
			return nil, fmt.Errorf("bot #%d (%s): id must be positive", i, b.Name)
		}
		if b.StrategyType == "" {
			file.Bots[i].StrategyType = TypeRSITrend
		}
		if b.MaxDrawdownLimit == 0 {
			file.Bots[i].MaxDrawdownLimit = 20
		}
	}
	return file.Bots, nil
}

// SyncConfigToDB upserts bot definitions into the database. Unknown
// strategy types are rejected here rather than at trade time.
func SyncConfigToDB(ctx context.Context, database *db.Database, reg *Registry, configs []BotConfig) error {
	known := make(map[string]bool)
	for _, t := range reg.Types() {
		known[t] = true
	}
	for _, cfg := range configs {
		if !known[cfg.StrategyType] {
			return fmt.Errorf("bot %d (%s): unknown strategy type %q", cfg.ID, cfg.Name, cfg.StrategyType)
		}
		err := database.UpsertBot(ctx, db.Bot{
			ID:               cfg.ID,
			Name:             cfg.Name,
			Description:      cfg.Description,
			StrategyType:     cfg.StrategyType,
			StrategyConfig:   cfg.StrategyConfig,
			MaxDrawdownLimit: decimal.NewFromFloat(cfg.MaxDrawdownLimit),
			MonthlyFee:       decimal.NewFromFloat(cfg.MonthlyFee),
		})
		if err != nil {
			return fmt.Errorf("failed to upsert bot %s: %w", cfg.Name, err)
		}
	}
	return nil
}
