package market

import (
	"strconv"
	"time"
)

// parseKlineRow converts one raw kline row into a Candle. Rows with
// missing or non-numeric fields are reported invalid and dropped by the
// caller.
func parseKlineRow(row []any, symbol, interval string) (Candle, bool) {
	if len(row) < 7 {
		return Candle{}, false
	}
	openMS, ok := int64FromAny(row[0])
	if !ok {
		return Candle{}, false
	}
	open, ok1 := floatFromAny(row[1])
	high, ok2 := floatFromAny(row[2])
	low, ok3 := floatFromAny(row[3])
	closePx, ok4 := floatFromAny(row[4])
	volume, ok5 := floatFromAny(row[5])
	closeMS, ok6 := int64FromAny(row[6])
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
		return Candle{}, false
	}
	return Candle{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  time.UnixMilli(openMS).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    volume,
		CloseTime: time.UnixMilli(closeMS).UTC(),
	}, true
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	default:
		return 0, false
	}
}

func int64FromAny(v any) (int64, bool) {
	switch val := v.(type) {
	case float64:
		return int64(val), true
	case int64:
		return val, true
	case int:
		return int64(val), true
	case string:
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
