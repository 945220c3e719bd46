package journal

import (
	"context"
	"log/slog"
	"slices"

	"skein/internal/feed"
	"skein/internal/logging"
	"skein/internal/story"
)

// Hook returns a feed change hook that records every commit delta under the
// session carried by ctx (see logging.WithSession). Record failures are
// logged and otherwise ignored so a broken journal never blocks a commit.
func (s *Store) Hook(ctx context.Context, logger *slog.Logger) feed.ChangeHook {
	sessionID, _ := logging.SessionFromContext(ctx)
	logger = logging.NewComponentLogger(logging.WithContext(ctx, logger), "journal")
	return func(f *feed.Feed, st *story.Story, added, removed []string) {
		change := Change{
			FeedURL:   f.URL,
			StoryID:   st.ID,
			Title:     st.Title,
			Added:     slices.Clone(added),
			Removed:   slices.Clone(removed),
			SessionID: sessionID,
		}
		if _, err := s.Record(ctx, change); err != nil {
			logging.WarnWithContext(logger, "journal write failed", "journal_record",
				logging.FeedURL(f.URL),
				logging.String("story_id", st.ID),
				logging.String(logging.FieldErrorHint, "check journal_path permissions or delete a corrupt journal"),
				logging.String(logging.FieldImpact, "state change not recorded in history"),
				logging.Error(err),
			)
		}
	}
}
