package ingest

import (
	"fmt"
	"log"
	"time"

	"github.com/lox/aqiforecast/internal/store"
)

// ReplayPayloads re-parses stored Open-Meteo responses fetched at or after
// since and upserts their observations. Each payload is parsed relative to its
// own fetch time, so hours that were still in the future are skipped again.
func ReplayPayloads(st *store.Store, since time.Time) (stored, rejected int, err error) {
	payloads, err := st.ListRawPayloads(SourceOpenMeteo, since)
	if err != nil {
		return 0, 0, err
	}

	for _, p := range payloads {
		body, err := st.GetRawPayload(p.ID)
		if err != nil {
			return stored, rejected, fmt.Errorf("load payload %d: %w", p.ID, err)
		}
		obs, _, err := parseAirQuality(body, p.FetchedAt)
		if err != nil {
			return stored, rejected, fmt.Errorf("parse payload %d: %w", p.ID, err)
		}
		n, r, err := storeObservations(st, obs, SourceOpenMeteo)
		if err != nil {
			return stored, rejected, fmt.Errorf("payload %d: %w", p.ID, err)
		}
		stored += n
		rejected += r
	}

	log.Printf("ingest: replayed %d payloads (%d stored, %d rejected)", len(payloads), stored, rejected)
	return stored, rejected, nil
}
