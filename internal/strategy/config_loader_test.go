package strategy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bot-trading-core/pkg/db"
)

const botsYAML = `
bots:
  - id: 1
    name: RSI Trend
    strategy_type: rsi_trend
    strategy_config:
      pair: ETH_USDT
      rsi_buy: 30
      allocation: 500
    monthly_fee: 9.9
  - id: 2
    name: Default Bot
`

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bots.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	bots, err := LoadConfig(writeYAML(t, botsYAML))
	require.NoError(t, err)
	require.Len(t, bots, 2)

	assert.Equal(t, "ETH_USDT", bots[0].StrategyConfig["pair"])
	assert.Equal(t, 30.0, Params(bots[0].StrategyConfig).Float("rsi_buy", 0))
	assert.Equal(t, 20.0, bots[0].MaxDrawdownLimit)

	assert.Equal(t, TypeRSITrend, bots[1].StrategyType)
	assert.Equal(t, 20.0, bots[1].MaxDrawdownLimit)
}

func TestLoadConfigRejectsMissingID(t *testing.T) {
	_, err := LoadConfig(writeYAML(t, "bots:\n  - name: nameless\n"))
	assert.ErrorContains(t, err, "id must be positive")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSyncConfigToDB(t *testing.T) {
	ctx := context.Background()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	bots, err := LoadConfig(writeYAML(t, botsYAML))
	require.NoError(t, err)
	require.NoError(t, SyncConfigToDB(ctx, database, DefaultRegistry(), bots))

	b, err := database.GetBot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "RSI Trend", b.Name)
	assert.Equal(t, "9.9", b.MonthlyFee.String())
	assert.Equal(t, "ETH_USDT", b.StrategyConfig["pair"])
	assert.Equal(t, db.BotActive, b.Status)

	bad := []BotConfig{{ID: 3, Name: "x", StrategyType: "martingale"}}
	assert.ErrorContains(t, SyncConfigToDB(ctx, database, DefaultRegistry(), bad), "unknown strategy type")
}
