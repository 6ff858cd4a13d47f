package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/starfederation/datastar-go/datastar"
)

// StreamSession pushes the flow snapshot as datastar signals until the client leaves.
// Unchanged snapshots are not resent.
func (h *Handlers) StreamSession(w http.ResponseWriter, r *http.Request) {
	f := h.flow(r)
	sse := datastar.NewSSE(w, r)

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	var last []byte
	for {
		snap := f.Snapshot()
		raw, err := json.Marshal(snap)
		if err != nil {
			h.logger.Error().Err(err).Msg("marshal session snapshot")
			return
		}
		if string(raw) != string(last) {
			if err := sse.MarshalAndPatchSignals(snap); err != nil {
				h.logger.Debug().Err(err).Str("session_id", f.ID()).Msg("session stream closed")
				return
			}
			last = raw
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
