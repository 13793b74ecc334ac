package market

import "fmt"

var intervals = map[int]string{
	1:    "1m",
	5:    "5m",
	15:   "15m",
	30:   "30m",
	60:   "1h",
	240:  "4h",
	1440: "1d",
}

// Interval maps a bar length in minutes to the exchange interval code.
func Interval(minutes int) (string, error) {
	code, ok := intervals[minutes]
	if !ok {
		return "", fmt.Errorf("unsupported kline interval: %d minutes", minutes)
	}
	return code, nil
}

