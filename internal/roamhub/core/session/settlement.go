package session

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
)

// settle aggregates a session's meter samples into its settlement record.
// ConsumedEnergy is the sum of deltas between consecutive absolute
// readings. A decreasing reading is a data-quality problem in the source:
// its contribution is clamped to zero and the record is flagged for review
// instead of failing the whole settlement.
func settle(s *model.ChargingSession, end time.Time) model.ChargeDetailRecord {
	var consumedWh int64
	anomaly := false

	for i := 1; i < len(s.Samples); i++ {
		delta := s.Samples[i].MeterWh - s.Samples[i-1].MeterWh
		if delta < 0 {
			anomaly = true
			continue
		}
		consumedWh += delta
	}

	cdr := model.ChargeDetailRecord{
		SessionID:         s.ID,
		Evse:              s.Evse,
		Start:             s.StartedAt,
		End:               end,
		ConsumedEnergyKWh: float64(consumedWh) / 1000,
		MeterAnomaly:      anomaly,
	}
	if res, ok := s.Reservation(); ok && res.HasProvider {
		cdr.Provider = res.Provider
		cdr.HasProvider = true
	}
	return cdr
}

// newID returns a random UUIDv4-formatted identifier for sessions and
// reservations.
func newID(prefix string) string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	buf[6] = (buf[6] & 0x0f) | 0x40
	buf[8] = (buf[8] & 0x3f) | 0x80
	return prefix + "-" + hex.EncodeToString(buf[:])
}
