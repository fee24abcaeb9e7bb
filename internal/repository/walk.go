package repository

import (
	"context"
	"iter"

	"github.com/weiawesome/site-journal/internal/domain"
)

// Walk yields every message of a chat in (timestamp, id) order, reading
// pageSize rows at a time. The sequence is lazy and may be ranged over again
// to restart from the beginning. A failed page read is yielded once as the
// error and ends the walk.
func Walk(ctx context.Context, repo ChatRepository, chatID string, pageSize int) iter.Seq2[*domain.Message, error] {
	return func(yield func(*domain.Message, error) bool) {
		q := domain.PageQuery{Limit: pageSize, Direction: domain.Forward}
		for {
			page, err := repo.ListMessages(ctx, chatID, q)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, m := range page.Messages {
				if !yield(m, nil) {
					return
				}
			}
			if !page.HasMore || len(page.Messages) == 0 {
				return
			}
			q.Cursor = page.Messages[len(page.Messages)-1].Position()
		}
	}
}
