package core_test

import (
	"strings"
	"testing"

	"rua/internal/core"
	"rua/pkg/domain"
)

func TestCreateChildRejectsDuplicateDNIAfterTrimming(t *testing.T) {
	f := newFixture(t)
	first := f.child("50123", domain.ChildDisponible)

	for _, dni := range []string{" 50123", "50123 ", "\t50123\n"} {
		_, _, err := f.svc.CreateChild(f.ctx, core.ChildInput{DNI: dni, FirstName: "Otro", LastName: "Apellido"})
		e := expectKind(t, err, domain.KindValidation)
		if !strings.Contains(e.Error(), "DNI 50123 is already registered") {
			t.Fatalf("unexpected rejection for %q: %v", dni, e)
		}
	}
	children, err := f.svc.ListChildren(f.ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(children) != 1 || children[0].ID != first.ID {
		t.Fatalf("expected only the first child, got %+v", children)
	}
}

func TestCreateChildStoresTrimmedDNI(t *testing.T) {
	f := newFixture(t)
	c, _, err := f.svc.CreateChild(f.ctx, core.ChildInput{DNI: "  50456 ", FirstName: " Ana ", LastName: "Sosa"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.DNI != "50456" || c.FirstName != "Ana" {
		t.Fatalf("expected trimmed fields, got %+v", c)
	}
	_, _, err = f.svc.CreateChild(f.ctx, core.ChildInput{DNI: "50456", FirstName: "Otra", LastName: "Sosa"})
	expectKind(t, err, domain.KindValidation)
}

func TestCreateChildRejectsBlankDNI(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.CreateChild(f.ctx, core.ChildInput{DNI: "   ", FirstName: "Ana", LastName: "Sosa"})
	expectKind(t, err, domain.KindValidation)
}
