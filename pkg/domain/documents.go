package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DocumentField names one of the fixed document slots of a project.
type DocumentField string

// Document slots carried over during unification.
const (
	DocConvivencia        DocumentField = "doc_proyecto_convivencia_o_estado_civil"
	DocInformeEvaluacion  DocumentField = "doc_informe_evaluacion"
	DocDictamen           DocumentField = "doc_dictamen"
	DocInformeVinculacion DocumentField = "doc_informe_vinculacion"
	DocSentenciaGuarda    DocumentField = "doc_sentencia_guarda"
	DocInformeSeguimiento DocumentField = "doc_informe_seguimiento_guarda"
	DocSentenciaAdopcion  DocumentField = "doc_sentencia_adopcion"
	DocResolucionOficio   DocumentField = "doc_resolucion_oficio"
	DocInformeEntrevistas DocumentField = "doc_informe_entrevistas"
)

// DocumentFields lists the slots in the order unification visits them.
var DocumentFields = []DocumentField{
	DocConvivencia, DocInformeEvaluacion, DocDictamen, DocInformeVinculacion,
	DocSentenciaGuarda, DocInformeSeguimiento, DocSentenciaAdopcion,
	DocResolucionOficio, DocInformeEntrevistas,
}

// Valid reports whether f is one of the fixed slots.
func (f DocumentField) Valid() bool {
	for _, v := range DocumentFields {
		if v == f {
			return true
		}
	}
	return false
}

// UploadEntry is one stored file of a document slot.
type UploadEntry struct {
	Path       string `json:"ruta"`
	UploadedAt string `json:"fecha,omitempty"`
}

// DocumentSlot is the normalised view of a document field. Legacy rows store
// a bare path; newer rows store a JSON list of upload entries. Both decode to
// the same entry list and a single undated entry encodes back to a bare path.
type DocumentSlot struct {
	Entries []UploadEntry
}

// ParseDocumentSlot decodes a stored field value in either representation.
func ParseDocumentSlot(raw string) (DocumentSlot, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return DocumentSlot{}, nil
	}
	if !strings.HasPrefix(trimmed, "[") {
		return DocumentSlot{Entries: []UploadEntry{{Path: trimmed}}}, nil
	}
	var entries []UploadEntry
	if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
		return DocumentSlot{}, fmt.Errorf("decode document list: %w", err)
	}
	out := make([]UploadEntry, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Path) == "" {
			continue
		}
		out = append(out, e)
	}
	return DocumentSlot{Entries: out}, nil
}

// SingleDocument builds a slot holding one bare path.
func SingleDocument(path string) DocumentSlot {
	return DocumentSlot{Entries: []UploadEntry{{Path: path}}}
}

// Empty reports whether the slot holds no uploads.
func (d DocumentSlot) Empty() bool {
	return len(d.Entries) == 0
}

// IsBarePath reports whether the slot encodes as a legacy single path.
func (d DocumentSlot) IsBarePath() bool {
	return len(d.Entries) == 1 && d.Entries[0].UploadedAt == ""
}

// Latest returns the most recent upload, if any.
func (d DocumentSlot) Latest() (UploadEntry, bool) {
	if len(d.Entries) == 0 {
		return UploadEntry{}, false
	}
	return d.Entries[len(d.Entries)-1], true
}

// Append returns a copy of the slot with entry added after the existing uploads.
func (d DocumentSlot) Append(entry UploadEntry) DocumentSlot {
	out := d.Clone()
	out.Entries = append(out.Entries, entry)
	return out
}

// Clone returns a deep copy of the slot.
func (d DocumentSlot) Clone() DocumentSlot {
	if d.Entries == nil {
		return DocumentSlot{}
	}
	entries := make([]UploadEntry, len(d.Entries))
	copy(entries, d.Entries)
	return DocumentSlot{Entries: entries}
}

// Encode renders the slot in its stored representation.
func (d DocumentSlot) Encode() (string, error) {
	switch {
	case d.Empty():
		return "", nil
	case d.IsBarePath():
		return d.Entries[0].Path, nil
	}
	raw, err := json.Marshal(d.Entries)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// String implements fmt.Stringer using the stored representation.
func (d DocumentSlot) String() string {
	s, err := d.Encode()
	if err != nil {
		return ""
	}
	return s
}

// MarshalJSON writes the stored representation as a JSON string.
func (d DocumentSlot) MarshalJSON() ([]byte, error) {
	encoded, err := d.Encode()
	if err != nil {
		return nil, err
	}
	return json.Marshal(encoded)
}

// UnmarshalJSON accepts null, a bare path, an encoded list, or a raw JSON list.
func (d *DocumentSlot) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*d = DocumentSlot{}
		return nil
	}
	if trimmed[0] == '[' {
		parsed, err := ParseDocumentSlot(string(trimmed))
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}
	var raw string
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return fmt.Errorf("decode document slot: %w", err)
	}
	parsed, err := ParseDocumentSlot(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// CloneDocuments deep-copies a project's document map.
func CloneDocuments(in map[DocumentField]DocumentSlot) map[DocumentField]DocumentSlot {
	if in == nil {
		return nil
	}
	out := make(map[DocumentField]DocumentSlot, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}
