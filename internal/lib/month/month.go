package month

import (
	"time"
)

// Due сообщает, положено ли подписке очередное месячное начисление.
// До начала подписки начислений нет; после первого начисления
// следующее положено не раньше, чем через календарный месяц.
func Due(startDate time.Time, lastDistribution *time.Time, now time.Time) bool {
	if now.Before(startDate) {
		return false
	}
	if lastDistribution == nil {
		return true
	}
	return !now.Before(lastDistribution.AddDate(0, 1, 0))
}
