package promotion

import (
	"hash/fnv"

	"github.com/vortex-ai/feedback-engine/internal/storage/models"
)

// Route picks the model version for a session under the current traffic
// split. Assignment is sticky: the same session always hashes to the same
// side of the split, so a user never flips between models mid-conversation.
func Route(routing *models.Routing, sessionID string) string {
	if routing.CandidateVersion == "" {
		return routing.ProductionVersion
	}
	if routing.ProductionVersion == "" {
		return routing.CandidateVersion
	}

	h := fnv.New32a()
	h.Write([]byte(sessionID))
	slot := float64(h.Sum32()%10000) / 10000

	if slot < routing.TrafficFraction {
		return routing.CandidateVersion
	}
	return routing.ProductionVersion
}
