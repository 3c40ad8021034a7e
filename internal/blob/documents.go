package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// DocumentKey returns a fresh, collision-free key for a document stored under
// a project's field directory. The original file name is kept as a suffix so
// downloads retain a recognisable name.
func DocumentKey(projectID int64, field, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "documento"
	}
	return fmt.Sprintf("proyectos/%d/%s/%s_%s", projectID, field, uuid.NewString(), base)
}

// Copy duplicates the blob at src into dst, keeping content type and metadata.
func Copy(ctx context.Context, store Store, src, dst string) (Info, error) {
	info, rc, err := store.Get(ctx, src)
	if err != nil {
		return Info{}, fmt.Errorf("read %s: %w", src, err)
	}
	defer func() { _ = rc.Close() }()
	out, err := store.Put(ctx, dst, rc, PutOptions{ContentType: info.ContentType, Metadata: info.Metadata})
	if err != nil {
		return Info{}, fmt.Errorf("write %s: %w", dst, err)
	}
	return out, nil
}

// DeleteAll removes every key, continuing past failures and returning them joined.
func DeleteAll(ctx context.Context, store Store, keys []string) error {
	var errs []error
	for _, key := range keys {
		if _, err := store.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
