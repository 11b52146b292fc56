package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/gecwatch/gecwatch/idgen"
	"github.com/gecwatch/gecwatch/internal/store"
)

// StoreNotifier persists events as notification rows the operator UI
// reads later.
type StoreNotifier struct {
	store *store.Store
	newID idgen.Generator
	now   func() time.Time
}

// NewStoreNotifier creates a StoreNotifier.
func NewStoreNotifier(st *store.Store) *StoreNotifier {
	return &StoreNotifier{
		store: st,
		newID: idgen.Notification,
		now:   time.Now,
	}
}

func (s *StoreNotifier) Notify(ctx context.Context, ev *Event) error {
	n := &store.Notification{
		ID:           s.newID(),
		OwnerID:      ev.OwnerID,
		Kind:         ev.Kind,
		Title:        ev.Title(),
		Message:      ev.Message(),
		Link:         ev.Link,
		MetadataJSON: ev.MetadataJSON(),
		CreatedAt:    s.now().UnixMilli(),
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("notify: insert notification: %w", err)
	}
	return nil
}
