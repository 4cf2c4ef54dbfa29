package flight

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// RoundMultiplier rounds m half away from zero to two decimals.
func RoundMultiplier(m float64) float64 {
	return decimal.NewFromFloat(m).Round(2).InexactFloat64()
}

// FormatMultiplier renders m for display: two decimals below 100x, one decimal
// up to 10,000x and a K suffix beyond that.
func FormatMultiplier(m float64) string {
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return "0.00x"
	}
	d := decimal.NewFromFloat(m)
	switch {
	case m >= 10000:
		return d.Div(decimal.NewFromInt(1000)).StringFixed(1) + "Kx"
	case m >= 100:
		return d.StringFixed(1) + "x"
	default:
		return d.StringFixed(2) + "x"
	}
}

// FormatRoundLabel normalises a round identifier to FLIGHT-NNNNN.
func FormatRoundLabel(id string) string {
	if id == "" {
		return "FLIGHT-00000"
	}
	if strings.HasPrefix(id, "FLIGHT-") {
		return id
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, id)
	if len(digits) < 5 {
		digits = strings.Repeat("0", 5-len(digits)) + digits
	}
	return "FLIGHT-" + digits
}

// Status returns the flight status label shown next to a result.
func Status(m float64) string {
	switch {
	case m >= 100:
		return "LEGENDARY"
	case m >= 50:
		return "EPIC"
	case m >= 10:
		return "EXCELLENT"
	case m >= 5:
		return "GREAT"
	case m >= 2:
		return "COMPLETED"
	case m >= 1.5:
		return "SHORT"
	default:
		return "CRASHED"
	}
}

// FormatDuration renders d with its two most significant units.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours%24)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// TimeAgo renders the distance between t and now ("12s ago", "3h ago").
func TimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return "Unknown"
	}
	diff := now.Sub(t)
	switch {
	case diff < 5*time.Second:
		return "Just now"
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff/time.Second))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff/time.Minute))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff/time.Hour))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff/(24*time.Hour)))
	default:
		return t.Format("Jan 2, 2006")
	}
}
