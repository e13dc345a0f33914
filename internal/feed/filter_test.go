package feed

import (
	"testing"

	"race-lifecycle-orchestrator/internal/models"
)

func TestSelect(t *testing.T) {
	sessions := []models.Session{
		{SessionKey: 1, SessionType: "Race", Year: 2025},
		{SessionKey: 2, SessionType: "Qualifying", Year: 2025},
		{SessionKey: 3, SessionType: "race", Year: 2025},
		{SessionKey: 4, SessionType: "Race", Year: 2024},
		{SessionKey: 5, SessionType: "Sprint", Year: 2025},
	}

	got := Select(sessions, "Race", 2025)
	if len(got) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(got))
	}
	if got[0].SessionKey != 1 || got[1].SessionKey != 3 {
		t.Fatalf("expected feed order preserved, got keys %d, %d", got[0].SessionKey, got[1].SessionKey)
	}
}

func TestSelectCaseInsensitiveType(t *testing.T) {
	sessions := []models.Session{
		{SessionKey: 1, SessionType: "RACE", Year: 2025},
	}
	if got := Select(sessions, "race", 2025); len(got) != 1 {
		t.Fatalf("expected case-insensitive match, got %d sessions", len(got))
	}
}

func TestSelectNoMatchIsEmptyNotNilError(t *testing.T) {
	sessions := []models.Session{
		{SessionKey: 1, SessionType: "Race", Year: 2024},
	}
	got := Select(sessions, "Race", 2025)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty slice, got %v", got)
	}
}
