package models

// RefKind names the origin context a thread is scoped to. A thread always
// references exactly one marketplace item or one community post, never both.
type RefKind string

const (
	RefMarketplaceItem RefKind = "marketplace_item"
	RefCommunityPost   RefKind = "community_post"
)

// Valid reports whether k is a known reference kind.
func (k RefKind) Valid() bool {
	return k == RefMarketplaceItem || k == RefCommunityPost
}

// Reference identifies the item or post a conversation is about.
type Reference struct {
	Kind RefKind `json:"kind"`
	ID   string  `json:"id"`
}

type Thread struct {
	ID  string    `json:"id"`
	Ref Reference `json:"ref"`
	// Created timestamp (ns). Threads are immutable after creation.
	CreatedTS int64 `json:"created_ts"`
}

// Participant links a thread to a user. The directory creates two rows per
// thread (the dyadic case); the store places no upper bound on the set.
type Participant struct {
	Thread   string `json:"thread"`
	User     string `json:"user"`
	JoinedTS int64  `json:"joined_ts"`
}
