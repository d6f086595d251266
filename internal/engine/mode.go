package engine

import (
	"context"
	"strconv"

	"bot-trading-core/pkg/cache"
)

// TradingMode resolves the live-trading flag: the runtime override in the
// store wins, otherwise def applies.
func TradingMode(ctx context.Context, store cache.Store, def bool) (bool, error) {
	v, ok, err := cache.GetString(ctx, store, cache.LiveTradingKey)
	if err != nil {
		return false, err
	}
	if !ok {
		return def, nil
	}
	live, err := strconv.ParseBool(v)
	if err != nil {
		return def, nil
	}
	return live, nil
}

// killSwitched reports whether a bot is paused by its kill switch.
func killSwitched(ctx context.Context, store cache.Store, botID int64) (bool, error) {
	v, ok, err := cache.GetString(ctx, store, cache.KillSwitchKey(botID))
	if err != nil || !ok {
		return false, err
	}
	return v != "" && v != "0", nil
}
