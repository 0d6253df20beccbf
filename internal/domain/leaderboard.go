package domain

// RankUnranked is the wire representation for "beyond the published
// window": rank 0 means the user is not in the current top-K.
const RankUnranked uint32 = 0

// LeaderboardEntry is one row of the published ranking. Ranks are dense:
// equal totals share a rank and the next rank increments by one.
// UserID is the string form of the user's uuid; it crosses the cache and
// RPC codecs as-is.
type LeaderboardEntry struct {
	Rank        uint32 `msgpack:"rank"`
	UserID      string `msgpack:"user_id"`
	Username    string `msgpack:"username"`
	TotalClicks uint64 `msgpack:"total_clicks"`
}

// TopKSnapshot is the versioned top-K published to the hot cache. Readers
// always consume the most recent version; writers with a lower version are
// discarded.
type TopKSnapshot struct {
	Version     uint64             `msgpack:"version"`
	PublishedAt int64              `msgpack:"published_at"`
	Entries     []LeaderboardEntry `msgpack:"entries"`
}
