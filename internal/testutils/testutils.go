package testutils

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SBSLine builds a well-formed MSG,3 airborne position line (without line terminator)
func SBSLine(hexIdent string, lat, lon float64, ts time.Time) string {
	date := ts.UTC().Format("2006/01/02")
	clock := ts.UTC().Format("15:04:05.000")
	return fmt.Sprintf("MSG,3,1,1,%s,1,%s,%s,%s,%s,TEST123,36000,450,180,%s,%s,0,1234,0,0,0,0",
		hexIdent, date, clock, date, clock,
		strconv.FormatFloat(lat, 'f', -1, 64),
		strconv.FormatFloat(lon, 'f', -1, 64),
	)
}

// StatusLine builds an STA status line for hexIdent
func StatusLine(hexIdent string, ts time.Time) string {
	date := ts.UTC().Format("2006/01/02")
	clock := ts.UTC().Format("15:04:05.000")
	return fmt.Sprintf("STA,,1,1,%s,1,%s,%s,%s,%s,RM", hexIdent, date, clock, date, clock)
}

// Feed joins lines the way the aggregator sends them
func Feed(lines ...string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
