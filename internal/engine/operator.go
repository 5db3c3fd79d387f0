package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"spot-trend-bot/internal/alerts"
	"spot-trend-bot/internal/state"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID int64     `json:"update_id"`
	Time     time.Time `json:"time"`
	Action   string    `json:"action"`
	Command  string    `json:"command"`
	UserID   int64     `json:"user_id"`
	Username string    `json:"username,omitempty"`
	ChatID   int64     `json:"chat_id"`
	Detail   string    `json:"detail,omitempty"`
}

// StartOperator launches the Telegram command loop when configured. It
// is the administrative surface of the bot: pausing entries, inspecting
// state, clearing cooldowns and forcing closes.
func (e *Engine) StartOperator(ctx context.Context) {
	if e.cfg == nil || e.alerts == nil {
		return
	}
	if !e.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(e.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		e.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := e.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(e.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range e.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go e.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (e *Engine) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := e.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := e.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			e.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if e.operatorWarned {
			e.log.Info("telegram operator recovered")
			e.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				e.saveOperatorOffset(ctx, offset)
			}
			e.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (e *Engine) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := e.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := e.alerts.Send(ctx, resp); err != nil {
		e.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	return cmd, fields[1:], true
}

func (e *Engine) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return e.operatorStatus(ctx), nil
	case "pause":
		before := e.TradingEnabled(ctx)
		if err := e.SetTradingEnabled(ctx, false); err != nil {
			return "", err
		}
		e.auditOperatorEvent(ctx, meta, "pause", fmt.Sprintf("enabled %t -> false", before))
		if before {
			return "trading paused", nil
		}
		return "trading already paused", nil
	case "resume":
		before := e.TradingEnabled(ctx)
		if err := e.SetTradingEnabled(ctx, true); err != nil {
			return "", err
		}
		e.auditOperatorEvent(ctx, meta, "resume", fmt.Sprintf("enabled %t -> true", before))
		if !before {
			return "trading resumed", nil
		}
		return "trading already active", nil
	case "cooldowns":
		return e.cooldownStatus(), nil
	case "cooldown_clear":
		if len(args) == 0 {
			e.ClearCooldowns()
			e.auditOperatorEvent(ctx, meta, "cooldown_clear", "all")
			return "all cooldowns cleared", nil
		}
		symbol := strings.ToUpper(args[0])
		if !e.RemoveCooldown(symbol) {
			return fmt.Sprintf("no active cooldown for %s", symbol), nil
		}
		e.auditOperatorEvent(ctx, meta, "cooldown_clear", symbol)
		return fmt.Sprintf("cooldown cleared for %s", symbol), nil
	case "close":
		if len(args) == 0 {
			return "", fmt.Errorf("usage: /close SYMBOL")
		}
		symbol := strings.ToUpper(args[0])
		closed, err := e.CloseSymbol(ctx, symbol)
		if err != nil {
			return "", err
		}
		e.auditOperatorEvent(ctx, meta, "close", fmt.Sprintf("%s closed=%d", symbol, closed))
		if closed == 0 {
			return fmt.Sprintf("no open position for %s", symbol), nil
		}
		return fmt.Sprintf("closed %d position(s) for %s", closed, symbol), nil
	case "stop":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: /stop POSITION_ID PRICE")
		}
		positionID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid position id %q", args[0])
		}
		price, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return "", fmt.Errorf("invalid price %q", args[1])
		}
		if err := e.OverrideStopLoss(ctx, positionID, price); err != nil {
			return "", err
		}
		e.auditOperatorEvent(ctx, meta, "stop_override", fmt.Sprintf("position %d stop %.8f", positionID, price))
		return fmt.Sprintf("stop for position %d set to %.8f", positionID, price), nil
	case "help":
		return operatorHelpText(), nil
	default:
		return operatorHelpText(), nil
	}
}

func (e *Engine) operatorStatus(ctx context.Context) string {
	lines := []string{
		fmt.Sprintf("running: %t", e.IsRunning()),
		fmt.Sprintf("trading_enabled: %t", e.TradingEnabled(ctx)),
		fmt.Sprintf("mode: %s", e.cfg.Strategy.Mode),
	}
	if symbols, source, err := e.TradableSymbols(ctx); err == nil {
		lines = append(lines, fmt.Sprintf("symbols (%s): %s", source, strings.Join(symbols, " ")))
	}
	open, err := e.store.OpenPositions(ctx)
	if err != nil {
		lines = append(lines, "positions: unavailable")
	} else if len(open) == 0 {
		lines = append(lines, "positions: none")
	} else {
		for _, pos := range open {
			lines = append(lines, fmt.Sprintf("position %s qty %.8f entry %.8f stop %.8f target %.8f (%.2f%%)",
				pos.Symbol, pos.Quantity, pos.EntryPrice, pos.StopLossPrice, pos.TakeProfitPrice, pos.UnrealizedGainPct()))
		}
	}
	if snap, ok, err := state.LoadEngineSnapshot(ctx, e.store); err == nil && ok {
		lines = append(lines, fmt.Sprintf("last_iteration: %s (%dms, %d fetch failures)",
			snap.LastIteration.Format(time.RFC3339), snap.LastDurationMS, snap.FetchFailures))
	}
	return strings.Join(lines, "\n")
}

func (e *Engine) cooldownStatus() string {
	entries := e.Cooldowns()
	if len(entries) == 0 {
		return "no active cooldowns"
	}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		remaining := e.cooldowns.Duration(entry.Reason) - time.Since(entry.ClosedAt)
		lines = append(lines, fmt.Sprintf("%s: %s, %s remaining",
			entry.Symbol, entry.Reason, remaining.Round(time.Second)))
	}
	return strings.Join(lines, "\n")
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - current bot status",
		"/pause - stop opening new positions",
		"/resume - resume opening new positions",
		"/cooldowns - list active cooldowns",
		"/cooldown_clear [symbol] - clear one or all cooldowns",
		"/close SYMBOL - force-close open positions for a symbol",
		"/stop POSITION_ID PRICE - override a position's stop price",
	}, "\n")
}

func (e *Engine) logOperatorError(err error) {
	if e.operatorWarned {
		return
	}
	e.operatorWarned = true
	e.log.Warn("telegram operator failed", zap.Error(err))
}

func (e *Engine) loadOperatorOffset(ctx context.Context) int64 {
	raw, ok, err := e.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (e *Engine) saveOperatorOffset(ctx context.Context, offset int64) {
	_ = e.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (e *Engine) auditOperatorEvent(ctx context.Context, meta operatorMeta, action, detail string) {
	event := operatorAuditEvent{
		UpdateID: meta.UpdateID,
		Time:     time.Now().UTC(),
		Action:   action,
		Command:  meta.Raw,
		UserID:   meta.UserID,
		Username: meta.Username,
		ChatID:   meta.ChatID,
		Detail:   detail,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	_ = e.store.Set(ctx, key, string(payload))
}
