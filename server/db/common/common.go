// Package common contains utility methods used by all adapters.
package common

import (
	"sort"
	"time"

	t "github.com/bazaarline/chat/server/store/types"
)

// QueryLimit returns the number of records a query may return given the caller's options
// and the adapter-wide maximum.
func QueryLimit(opts *t.QueryOpt, maxResults int) int {
	limit := maxResults
	if opts != nil && opts.Limit > 0 && opts.Limit < limit {
		limit = opts.Limit
	}
	return limit
}

// QueryBefore returns the upper bound of a history query. Zero time means no bound.
func QueryBefore(opts *t.QueryOpt) time.Time {
	if opts != nil && opts.Before != nil {
		return *opts.Before
	}
	return time.Time{}
}

// ReverseMessages reverses the slice in place. Adapters fetch the newest messages
// first to apply the limit, then return them oldest first.
func ReverseMessages(msgs []t.Message) []t.Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}

// MessageLess defines history order: by sent time, ties broken by message id.
func MessageLess(a, b *t.Message) bool {
	if a.SentAt.Equal(b.SentAt) {
		return a.Id.Compare(b.Id) < 0
	}
	return a.SentAt.Before(b.SentAt)
}

// SortSummaries orders conversation summaries by the time of the last update, most
// recent first, and trims the result at limit.
func SortSummaries(summaries []t.ConversationSummary, limit int) []t.ConversationSummary {
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].LastUpdated.Equal(summaries[j].LastUpdated) {
			return summaries[i].Id.Compare(summaries[j].Id) < 0
		}
		return summaries[i].LastUpdated.After(summaries[j].LastUpdated)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries
}
