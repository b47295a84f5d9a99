package platform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// OneBotOptions configures the adapter. WSURL is the event stream endpoint,
// HTTPURL the action endpoint.
type OneBotOptions struct {
	WSURL       string
	HTTPURL     string
	AccessToken string
	BotName     string
	// FileBase64 selects inline base64 file handoff instead of a temp file.
	FileBase64 bool
	Logger     *slog.Logger
}

// OneBot implements Outbound and RoleLookup against a OneBot v11 endpoint,
// and feeds inbound events to a handler via Run.
type OneBot struct {
	api        *onebotAPI
	wsURL      string
	token      string
	botName    string
	fileBase64 bool
	logger     *slog.Logger

	// selfID is the bot's own account id, learned from inbound events.
	selfID atomic.Value
}

func NewOneBot(opts OneBotOptions) (*OneBot, error) {
	if strings.TrimSpace(opts.WSURL) == "" {
		return nil, fmt.Errorf("missing onebot.ws_url")
	}
	if strings.TrimSpace(opts.HTTPURL) == "" {
		return nil, fmt.Errorf("missing onebot.http_url")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OneBot{
		api:        newOnebotAPI(&http.Client{Timeout: 60 * time.Second}, opts.HTTPURL, opts.AccessToken),
		wsURL:      strings.TrimSpace(opts.WSURL),
		token:      strings.TrimSpace(opts.AccessToken),
		botName:    opts.BotName,
		fileBase64: opts.FileBase64,
		logger:     logger,
	}, nil
}

func (b *OneBot) BotName() string { return b.botName }

// SelfID returns the bot's own account id, or "" before any event arrived.
func (b *OneBot) SelfID() string {
	id, _ := b.selfID.Load().(string)
	return id
}

// AvatarURL builds the fetchable avatar URL for a numeric user id.
func (b *OneBot) AvatarURL(userID string) string {
	return fmt.Sprintf("http://q4.qlogo.cn/g?b=qq&nk=%s&s=640", userID)
}

type onebotEvent struct {
	PostType    string          `json:"post_type"`
	MessageType string          `json:"message_type"`
	MessageID   json.Number     `json:"message_id"`
	UserID      json.Number     `json:"user_id"`
	GroupID     json.Number     `json:"group_id"`
	SelfID      json.Number     `json:"self_id"`
	Message     []onebotSegment `json:"message"`
}

// Run connects to the event stream and invokes handle for every message
// event until ctx is done. Each event is handled on its own goroutine so a
// slow handler never stalls the read loop: other users' commands and
// follow-up inputs for waiting sessions must keep flowing while one command
// does remote work. Connection drops reconnect with a fixed backoff.
func (b *OneBot) Run(ctx context.Context, handle func(*InboundMessage)) error {
	for {
		if err := ctx.Err(); err != nil {
			b.logger.Info("onebot_stop", "reason", "context_canceled")
			return nil
		}
		if err := b.readLoop(ctx, handle); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				b.logger.Info("onebot_stop", "reason", "context_canceled")
				return nil
			}
			b.logger.Warn("onebot_stream_error", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			b.logger.Info("onebot_stop", "reason", "context_canceled")
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (b *OneBot) readLoop(ctx context.Context, handle func(*InboundMessage)) error {
	header := http.Header{}
	if b.token != "" {
		header.Set("Authorization", "Bearer "+b.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.wsURL, header)
	if err != nil {
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer func() { _ = conn.Close() }()
	b.logger.Info("onebot_connected", "ws_url", b.wsURL)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var event onebotEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			b.logger.Debug("onebot_event_skip", "error", err.Error())
			continue
		}
		if event.PostType != "message" {
			continue
		}
		if id := event.SelfID.String(); id != "" && id != "0" {
			b.selfID.Store(id)
		}
		// Reply resolution does an HTTP round-trip, so it runs off the
		// read goroutine too.
		go func() {
			if msg := b.inboundFromEvent(ctx, &event); msg != nil {
				handle(msg)
			}
		}()
	}
}

func (b *OneBot) inboundFromEvent(ctx context.Context, event *onebotEvent) *InboundMessage {
	msg := &InboundMessage{
		MessageID: event.MessageID.String(),
		SelfID:    event.SelfID.String(),
		SenderID:  event.UserID.String(),
		Segments:  decodeSegments(event.Message),
	}
	if event.MessageType == "group" {
		msg.GroupID = event.GroupID.String()
	}
	for _, seg := range msg.Segments {
		if seg.Type == SegmentReply && seg.ReplyID != "" {
			quoted, err := b.api.getMessage(ctx, seg.ReplyID)
			if err != nil {
				b.logger.Debug("onebot_reply_fetch_error", "message_id", seg.ReplyID, "error", err.Error())
				break
			}
			msg.Reply = &InboundMessage{
				MessageID: quoted.MessageID.String(),
				SenderID:  quoted.UserID.String(),
				GroupID:   msg.GroupID,
				Segments:  decodeSegments(quoted.Message),
			}
			break
		}
	}
	return msg
}

func decodeSegments(raw []onebotSegment) []Segment {
	out := make([]Segment, 0, len(raw))
	for _, seg := range raw {
		switch seg.Type {
		case "text":
			out = append(out, Segment{Type: SegmentText, Text: seg.Data["text"]})
		case "image":
			s := Segment{Type: SegmentImage, ImageURL: seg.Data["url"]}
			if file := seg.Data["file"]; strings.HasPrefix(file, "base64://") {
				if data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(file, "base64://")); err == nil {
					s.ImageData = data
				}
			}
			out = append(out, s)
		case "at":
			out = append(out, Segment{Type: SegmentAt, AtID: seg.Data["qq"]})
		case "reply":
			out = append(out, Segment{Type: SegmentReply, ReplyID: seg.Data["id"]})
		}
	}
	return out
}

// Outbound implementation.

func (b *OneBot) SendText(ctx context.Context, target Target, text string) (string, error) {
	return b.api.sendMessage(ctx, target, []onebotSegment{textSegment(text)})
}

func (b *OneBot) SendImages(ctx context.Context, target Target, images [][]byte) (string, error) {
	segments := make([]onebotSegment, 0, len(images))
	for _, img := range images {
		segments = append(segments, imageSegment(img))
	}
	return b.api.sendMessage(ctx, target, segments)
}

// SendFile uploads to the group file area. Direct chats have no file area on
// this platform. The payload is handed over inline as base64 or through a
// temp file, per FileBase64.
func (b *OneBot) SendFile(ctx context.Context, target Target, data []byte, filename string) error {
	if target.GroupID == "" {
		return fmt.Errorf("file delivery requires a group context")
	}
	if b.fileBase64 {
		payload := "base64://" + base64.StdEncoding.EncodeToString(data)
		return b.api.uploadGroupFile(ctx, target.GroupID, payload, filename)
	}
	tmp, err := os.CreateTemp("", "memebot-*"+filepath.Ext(filename))
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return b.api.uploadGroupFile(ctx, target.GroupID, tmpPath, filename)
}

func (b *OneBot) SendForwardBundle(ctx context.Context, target Target, nodes []ForwardNode) error {
	if target.GroupID == "" {
		return fmt.Errorf("forward bundles require a group context")
	}
	return b.api.sendGroupForward(ctx, target.GroupID, nodes)
}

func (b *OneBot) Recall(ctx context.Context, messageID string) error {
	return b.api.deleteMessage(ctx, messageID)
}

func (b *OneBot) SupportsForward(target Target) bool {
	return target.GroupID != ""
}

// MemberRole implements RoleLookup.
func (b *OneBot) MemberRole(ctx context.Context, groupID, userID string) (string, error) {
	info, err := b.api.getGroupMemberInfo(ctx, groupID, userID)
	if err != nil {
		return "", err
	}
	return info.Role, nil
}
