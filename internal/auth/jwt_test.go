package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rushilcs/data-viewer/internal/models"
)

func TestGenerateValidateRoundTrip(t *testing.T) {
	s := NewJWTService("secret", "data-viewer")
	id := models.Identity{UserID: uuid.New(), OrgID: uuid.New(), Role: models.RolePublisher, Email: "p@example.com"}
	token, err := s.Generate(id, time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	claims, err := s.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := claims.Identity(); got != id {
		t.Fatalf("identity: want=%+v got=%+v", id, got)
	}
}

func TestValidateRejects(t *testing.T) {
	s := NewJWTService("secret", "data-viewer")
	good := models.Identity{UserID: uuid.New(), OrgID: uuid.New(), Role: models.RoleViewer}

	expired, _ := s.Generate(good, -time.Minute)
	wrongSecret, _ := NewJWTService("other", "data-viewer").Generate(good, time.Hour)
	wrongIssuer, _ := NewJWTService("secret", "elsewhere").Generate(good, time.Hour)
	noOrg, _ := s.Generate(models.Identity{UserID: uuid.New(), Role: models.RoleViewer}, time.Hour)
	badRole, _ := s.Generate(models.Identity{UserID: uuid.New(), OrgID: uuid.New(), Role: "root"}, time.Hour)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong secret": wrongSecret,
		"wrong issuer": wrongIssuer,
		"no org":       noOrg,
		"bad role":     badRole,
		"garbage":      "abc",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Validate(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("want ErrInvalidToken, got %v", err)
			}
		})
	}
}
