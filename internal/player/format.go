package player

import (
	"fmt"
	"math"
)

// FormatTime renders seconds as M:SS. There is no hour component, so an
// hour reads 60:00.
func FormatTime(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
