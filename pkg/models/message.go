package models

type Message struct {
	ID      string `json:"id"`
	Thread  string `json:"thread"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
	// TS is the append timestamp (ns); Seq disambiguates messages sharing a
	// nanosecond. (TS, Seq) is strictly increasing within a thread.
	TS  int64  `json:"ts"`
	Seq uint64 `json:"seq"`
	// Seen is monotonic: once true it never regresses. Only a recipient may
	// flip it; SeenTS records when (ns).
	Seen   bool  `json:"seen,omitempty"`
	SeenTS int64 `json:"seen_ts,omitempty"`
	// Cursor is the opaque resume token for listing messages after this one.
	Cursor string `json:"cursor,omitempty"`
}
