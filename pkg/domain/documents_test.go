package domain

import (
	"encoding/json"
	"testing"
)

func TestDocumentSlotBarePathAppendBecomesList(t *testing.T) {
	slot, err := ParseDocumentSlot("uploads/7/dictamen.pdf")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !slot.IsBarePath() {
		t.Fatalf("expected bare path slot, got %+v", slot)
	}
	encoded, err := slot.Encode()
	if err != nil || encoded != "uploads/7/dictamen.pdf" {
		t.Fatalf("expected bare path to round-trip, got %q (%v)", encoded, err)
	}

	appended := slot.Append(UploadEntry{Path: "uploads/7/dictamen-2.pdf", UploadedAt: "2024-05-02 10:00"})
	encoded, err = appended.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if encoded == "" || encoded[0] != '[' {
		t.Fatalf("expected JSON list after append, got %q", encoded)
	}
	back, err := ParseDocumentSlot(encoded)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(back.Entries) != 2 {
		t.Fatalf("expected two entries, got %+v", back.Entries)
	}
	if back.Entries[0].Path != "uploads/7/dictamen.pdf" || back.Entries[1].Path != "uploads/7/dictamen-2.pdf" {
		t.Fatalf("entries out of order: %+v", back.Entries)
	}
	if back.Entries[1].UploadedAt != "2024-05-02 10:00" {
		t.Fatalf("expected upload date preserved, got %+v", back.Entries[1])
	}
	if len(slot.Entries) != 1 {
		t.Fatalf("append must not mutate the receiver")
	}
}

func TestDocumentSlotEmptyForms(t *testing.T) {
	for _, raw := range []string{"", "   ", "null", "[]"} {
		slot, err := ParseDocumentSlot(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if !slot.Empty() {
			t.Fatalf("expected %q to be empty", raw)
		}
	}
	if _, err := ParseDocumentSlot("[not json"); err == nil {
		t.Fatalf("expected malformed list to fail")
	}
}

func TestDocumentSlotJSONAcceptsBothRepresentations(t *testing.T) {
	var project struct {
		Documents map[DocumentField]DocumentSlot `json:"documents"`
	}
	payload := `{"documents":{
		"doc_dictamen":"a/b.pdf",
		"doc_sentencia_guarda":"[{\"ruta\":\"c.pdf\",\"fecha\":\"2024-01-01\"}]",
		"doc_informe_evaluacion":[{"ruta":"d.pdf","fecha":"2024-02-02"},{"ruta":"e.pdf"}],
		"doc_sentencia_adopcion":null
	}}`
	if err := json.Unmarshal([]byte(payload), &project); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := project.Documents[DocDictamen]; !got.IsBarePath() || got.Entries[0].Path != "a/b.pdf" {
		t.Fatalf("unexpected bare slot %+v", got)
	}
	if got := project.Documents[DocSentenciaGuarda]; len(got.Entries) != 1 || got.Entries[0].UploadedAt != "2024-01-01" {
		t.Fatalf("unexpected encoded-list slot %+v", got)
	}
	if got := project.Documents[DocInformeEvaluacion]; len(got.Entries) != 2 {
		t.Fatalf("unexpected raw-list slot %+v", got)
	}
	if !project.Documents[DocSentenciaAdopcion].Empty() {
		t.Fatalf("expected null slot to be empty")
	}

	out, err := json.Marshal(project.Documents[DocDictamen])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `"a/b.pdf"` {
		t.Fatalf("expected bare path string, got %s", out)
	}
}

func TestDocumentFieldsAreFixed(t *testing.T) {
	if len(DocumentFields) != 9 {
		t.Fatalf("expected nine document slots, got %d", len(DocumentFields))
	}
	seen := map[DocumentField]bool{}
	for _, f := range DocumentFields {
		if seen[f] || !f.Valid() {
			t.Fatalf("duplicate or invalid field %s", f)
		}
		seen[f] = true
	}
	if DocumentField("doc_unknown").Valid() {
		t.Fatalf("unexpected valid field")
	}
}
