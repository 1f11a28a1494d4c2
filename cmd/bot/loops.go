package main

import (
	"context"
	"time"
)

// monitorLoop evaluates exit conditions for every active trade on a
// fixed interval and resets the daily P&L counter at the New York day
// boundary.
func (b *Bot) monitorLoop(ctx context.Context) error {
	interval := b.config.Rules.MonitorInterval.Std()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	loc := b.config.Location()
	currentDay := tradingDay(time.Now(), loc)

	b.runMonitorCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			b.logger.Println("Monitor loop stopped")
			return nil
		case now := <-ticker.C:
			if day := tradingDay(now, loc); day != currentDay {
				b.logger.Printf("New trading day %s, resetting daily P&L", day)
				b.manager.ResetDailyPnL()
				currentDay = day
			}
			b.runMonitorCycle(ctx)
		}
	}
}

func (b *Bot) runMonitorCycle(ctx context.Context) {
	if !b.config.IsWithinTradingHours(time.Now()) {
		return
	}
	b.manager.MonitorAll(ctx)
}

// scanLoop looks for new entry opportunities during trading hours.
func (b *Bot) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.config.GetScanInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Println("Scan loop stopped")
			return nil
		case now := <-ticker.C:
			if !b.config.IsWithinTradingHours(now) {
				continue
			}
			b.runScanCycle(ctx)
		}
	}
}

func (b *Bot) runScanCycle(ctx context.Context) {
	results := b.scanner.Scan(ctx)
	for _, res := range results {
		if res.TradeID != "" {
			b.logger.Printf("Opened trade %s on %s: %s", shortID(res.TradeID), res.Symbol, res.Decision)
		}
	}
}

// tradingDay formats a timestamp as a calendar date in the exchange
// timezone.
func tradingDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
