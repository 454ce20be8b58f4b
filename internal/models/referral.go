package models

import "time"

// MaxLevels is the depth of the commission network.
const MaxLevels = 5

// ReferralEdge links a member to one of its ancestors. A descendant has at
// most one edge per level and edges are never rewritten.
type ReferralEdge struct {
	DescendantID string    `json:"descendant_id"`
	AncestorID   string    `json:"ancestor_id"`
	Level        int       `json:"level"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChainLink is one hop of a resolved upline chain.
type ChainLink struct {
	AncestorID string `json:"ancestor_id"`
	Level      int    `json:"level"`
}

// DownlineMember is a member found below an ancestor in the edge table.
type DownlineMember struct {
	MemberID           string       `json:"member_id"`
	Name               string       `json:"name"`
	Level              int          `json:"level"`
	Status             MemberStatus `json:"status"`
	DirectRecruitCount int          `json:"direct_recruit_count"`
	JoinedAt           time.Time    `json:"joined_at"`
}
