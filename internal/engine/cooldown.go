package engine

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"bot-trading-core/internal/monitor"
	"bot-trading-core/internal/strategy"
	"bot-trading-core/pkg/cache"
	"bot-trading-core/pkg/exchanges/common"
)

// GenerateSignal runs the bot's strategy behind its cooldowns. A global
// signal_interval separates any two trades; on top of it cooldown_same
// gates re-entering the last side and cooldown_opposite gates flipping.
// Only an emitted signal stamps the clock.
func (r *Runner) GenerateSignal(ctx context.Context, b *loadedBot) strategy.Result {
	interval := int64(b.params.Int("signal_interval", defaultSignalInterval))
	now := r.now().Unix()

	last, hasLast, err := r.lastTrade(ctx, b.bot.ID)
	if err != nil {
		return strategy.Failed(err)
	}
	if hasLast && interval > 0 && now-last < interval {
		return strategy.None()
	}

	timer := monitor.NewTimer(r.metrics.ObserveStrategy)
	res := b.strat.Generate(ctx, b.pair)
	timer.Stop()
	if res.Outcome == strategy.OutcomeError {
		r.log.Warn("strategy failed", zap.Int64("bot_id", b.bot.ID), zap.String("pair", b.pair),
			zap.String("strategy", b.strat.Type()), zap.Error(res.Err))
		return res
	}
	if !res.HasSignal() {
		return res
	}

	lastSide, hasSide, err := cache.GetString(ctx, r.store, cache.LastSideKey(b.bot.ID))
	if err != nil {
		return strategy.Failed(err)
	}
	if hasLast && hasSide {
		elapsed := now - last
		same := int64(b.params.Int("cooldown_same", int(interval)))
		opposite := int64(b.params.Int("cooldown_opposite", int(interval/3)))
		if common.Side(lastSide) == res.Signal.Side && elapsed < same {
			return strategy.None()
		}
		if common.Side(lastSide) != res.Signal.Side && elapsed < opposite {
			return strategy.None()
		}
	}

	if err := r.store.Set(ctx, cache.LastTradeTimeKey(b.bot.ID), []byte(strconv.FormatInt(now, 10))); err != nil {
		return strategy.Failed(err)
	}
	if err := r.store.Set(ctx, cache.LastSideKey(b.bot.ID), []byte(res.Signal.Side)); err != nil {
		return strategy.Failed(err)
	}
	r.metrics.IncrementSignals()
	return res
}

func (r *Runner) lastTrade(ctx context.Context, botID int64) (int64, bool, error) {
	v, ok, err := cache.GetString(ctx, r.store, cache.LastTradeTimeKey(botID))
	if err != nil || !ok {
		return 0, false, err
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return ts, true, nil
}
