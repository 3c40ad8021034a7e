// Package buckets encodes the in-memory registry snapshot into the keyed JSON
// buckets and append-only row sets written by the durable SQL stores.
package buckets

import (
	"encoding/json"
	"fmt"

	"rua/internal/infra/persistence/memory"
	"rua/pkg/domain"
)

// Names lists the snapshot buckets in write order.
var Names = []string{"children", "projects", "folders", "interviews", "observations", "staff", "pending_merges", "sequences"}

func target(s *memory.Snapshot, bucket string) (any, bool) {
	switch bucket {
	case "children":
		return &s.Children, true
	case "projects":
		return &s.Projects, true
	case "folders":
		return &s.Folders, true
	case "interviews":
		return &s.Interviews, true
	case "observations":
		return &s.Observations, true
	case "staff":
		return &s.Staff, true
	case "pending_merges":
		return &s.PendingMerges, true
	case "sequences":
		return &s.Sequences, true
	}
	return nil, false
}

// Encode marshals every bucket of the snapshot.
func Encode(s memory.Snapshot) (map[string][]byte, error) {
	out := make(map[string][]byte, len(Names))
	for _, name := range Names {
		ptr, _ := target(&s, name)
		data, err := json.Marshal(ptr)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// Decode unmarshals one stored bucket into the snapshot. Unknown buckets are
// ignored so that older binaries can read newer databases.
func Decode(s *memory.Snapshot, bucket string, payload []byte) error {
	ptr, ok := target(s, bucket)
	if !ok {
		return nil
	}
	if err := json.Unmarshal(payload, ptr); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}

// Cursor counts the append-only rows already flushed to durable storage.
type Cursor struct {
	ProjectHistory int
	ChildHistory   int
	AuditEvents    int
}

// CursorFor positions a cursor after every row of the snapshot.
func CursorFor(s memory.Snapshot) Cursor {
	return Cursor{
		ProjectHistory: len(s.ProjectHistory),
		ChildHistory:   len(s.ChildHistory),
		AuditEvents:    len(s.AuditEvents),
	}
}

// Pending holds rows appended since a cursor was taken.
type Pending struct {
	ProjectHistory []domain.ProjectHistoryEntry
	ChildHistory   []domain.ChildHistoryEntry
	AuditEvents    []domain.AuditEvent
}

// Pending returns rows the snapshot holds beyond the cursor.
func (c Cursor) Pending(s memory.Snapshot) Pending {
	return Pending{
		ProjectHistory: tail(s.ProjectHistory, c.ProjectHistory),
		ChildHistory:   tail(s.ChildHistory, c.ChildHistory),
		AuditEvents:    tail(s.AuditEvents, c.AuditEvents),
	}
}

func tail[T any](rows []T, from int) []T {
	if from >= len(rows) {
		return nil
	}
	return rows[from:]
}
