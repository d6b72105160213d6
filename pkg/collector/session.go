package collector

import (
	"time"

	"github.com/google/uuid"

	"github.com/csaunders4z/market-voice-sub000/pkg/aggregate"
)

// Session is one complete run of the engine over a symbol set. Created per
// run and discarded after its report is consumed; no state survives into
// the next session.
type Session struct {
	ID        uuid.UUID         `json:"id"`
	Symbols   []string          `json:"symbols"`
	Config    Config            `json:"config"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at"`
	Report    *aggregate.Report `json:"report"`
}
