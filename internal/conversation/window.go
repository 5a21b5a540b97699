package conversation

import "magnus/internal/domain"

// windowTurns is two complete user/assistant exchanges.
const windowTurns = 4

// ComputeWindow returns the context boundary for the next outbound request.
//
// With history disabled the boundary is always 0 and no marker is shown. With history enabled
// the window keeps the last two exchanges: an odd-length transcript (reply still pending) moves
// the boundary one turn earlier, and every excluded turn inside the window moves it two earlier.
func ComputeWindow(turns []domain.Turn, historyEnabled bool) domain.Window {
	if !historyEnabled {
		return domain.Window{}
	}

	n := len(turns)
	boundary := max(0, n-windowTurns)
	if n%2 == 1 {
		boundary--
	}
	boundary = max(0, boundary)

	for _, turn := range turns[boundary:] {
		if turn.ExcludeFromContext {
			boundary -= 2
		}
	}

	return domain.Window{Boundary: max(0, boundary), Visible: n > 0}
}

// ContextHistory returns the turns sent to the backend with the next request.
// Excluded turns are display-only and never part of the payload.
func ContextHistory(turns []domain.Turn, window domain.Window, historyEnabled bool) []domain.Turn {
	if !historyEnabled || window.Boundary >= len(turns) {
		return nil
	}

	history := make([]domain.Turn, 0, len(turns)-window.Boundary)
	for _, turn := range turns[window.Boundary:] {
		if turn.ExcludeFromContext {
			continue
		}
		history = append(history, turn)
	}
	return history
}
