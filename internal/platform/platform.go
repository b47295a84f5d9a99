// Package platform abstracts the hosting chat platform: the dispatcher and
// session engine only ever see InboundMessage and Outbound.
package platform

import "context"

type SegmentType string

const (
	SegmentText  SegmentType = "text"
	SegmentImage SegmentType = "image"
	SegmentAt    SegmentType = "at"
	SegmentReply SegmentType = "reply"
)

// Segment is one component of a rich message. Image segments carry either
// inline bytes (decoded from embedded base64) or a URL to fetch.
type Segment struct {
	Type      SegmentType
	Text      string
	ImageData []byte
	ImageURL  string
	AtID      string
	ReplyID   string
}

// InboundMessage is the platform-independent view of a received message.
type InboundMessage struct {
	MessageID string
	SelfID    string
	SenderID  string
	// GroupID is empty for direct messages.
	GroupID  string
	Segments []Segment
	// Reply is the resolved quoted message, when the platform delivers one.
	Reply *InboundMessage
}

// Text concatenates the plain-text segments.
func (m *InboundMessage) Text() string {
	var out string
	for _, seg := range m.Segments {
		if seg.Type == SegmentText {
			out += seg.Text
		}
	}
	return out
}

// SessionID isolates interactive sessions per user, and per user-in-group.
func (m *InboundMessage) SessionID() string {
	if m.GroupID != "" {
		return m.GroupID + "-" + m.SenderID
	}
	return m.SenderID
}

// Target identifies where outbound messages go.
type Target struct {
	GroupID string
	UserID  string
}

func (m *InboundMessage) Target() Target {
	return Target{GroupID: m.GroupID, UserID: m.SenderID}
}

// ForwardNode is one entry of a forward-bundled message, attributed to the
// bot's display identity.
type ForwardNode struct {
	Name   string
	UserID string
	Image  []byte
}

// Outbound is the sink for everything the bot sends. Sends that produce a
// recordable message id return it so prompts can be recalled later; an empty
// id means the platform gave none.
type Outbound interface {
	SendText(ctx context.Context, target Target, text string) (messageID string, err error)
	SendImages(ctx context.Context, target Target, images [][]byte) (messageID string, err error)
	SendFile(ctx context.Context, target Target, data []byte, filename string) error
	SendForwardBundle(ctx context.Context, target Target, nodes []ForwardNode) error
	Recall(ctx context.Context, messageID string) error
	// SupportsForward reports whether forward bundling works for the target
	// (group contexts only on most platforms).
	SupportsForward(target Target) bool
}

// RoleLookup resolves a member's native role in a group: "owner", "admin"
// or "member".
type RoleLookup interface {
	MemberRole(ctx context.Context, groupID, userID string) (string, error)
}
