// Package session runs the interactive generation workflow: one worker per
// session id collects missing texts and images, then generates and delivers
// the result. At most one session per id is ever active.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"memebot/internal/argparse"
	"memebot/internal/catalog"
	"memebot/internal/delivery"
	"memebot/internal/memeapi"
	"memebot/internal/platform"
)

// ErrSessionActive means the session id already has a worker running.
var ErrSessionActive = errors.New("session already active")

// UsageRecorder persists one usage entry per successful generation.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, memeKey, userID, groupID string) error
}

// Options tune the interactive workflow. CancelKeyword includes the command
// prefix ("/取消" with the default prefix).
type Options struct {
	InteractiveEnabled bool
	Timeout            time.Duration
	CancelKeyword      string
	RecallPrompts      bool
	RepromptEnabled    bool
	RepromptThreshold  int
}

func DefaultOptions() Options {
	return Options{
		InteractiveEnabled: true,
		Timeout:            60 * time.Second,
		CancelKeyword:      "/取消",
		RecallPrompts:      false,
		RepromptEnabled:    true,
		RepromptThreshold:  2,
	}
}

type status int

const (
	statusWaiting status = iota
	statusGenerating
)

// Session is the state for one in-flight generation. Texts, Images and
// Options are only touched by the owning worker goroutine; the gate is the
// sole cross-goroutine handoff and is guarded by the engine mutex.
type Session struct {
	ID string
	// TaskID tells apart successive sessions of the same id in logs.
	TaskID  string
	Texts   []string
	Images  [][]byte
	Options map[string]any
	Params  catalog.MemeParams

	status       status
	invalidCount int
	gate         chan *platform.InboundMessage
}

// Engine owns the active-session set and the prompt-recall bookkeeping.
type Engine struct {
	opts     Options
	out      platform.Outbound
	api      *memeapi.Client
	planner  *delivery.Planner
	resolver *argparse.Resolver
	recorder UsageRecorder
	logger   *slog.Logger

	mu      sync.Mutex
	active  map[string]*Session
	recalls map[string][]string
}

func NewEngine(opts Options, out platform.Outbound, api *memeapi.Client, planner *delivery.Planner, resolver *argparse.Resolver, recorder UsageRecorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		opts:     opts,
		out:      out,
		api:      api,
		planner:  planner,
		resolver: resolver,
		recorder: recorder,
		logger:   logger,
		active:   make(map[string]*Session),
		recalls:  make(map[string][]string),
	}
}

// Acquire registers a new session for id. The existence check and the
// insert are one atomic step so two concurrent triggers cannot both win.
func (e *Engine) Acquire(id string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[id]; ok {
		return nil, ErrSessionActive
	}
	s := &Session{ID: id, TaskID: uuid.NewString(), Options: make(map[string]any)}
	e.active[id] = s
	return s, nil
}

// Release removes the session and recalls its recorded prompts. Safe to
// call exactly once per acquired session.
func (e *Engine) Release(ctx context.Context, s *Session) {
	e.mu.Lock()
	delete(e.active, s.ID)
	ids := e.recalls[s.ID]
	delete(e.recalls, s.ID)
	e.mu.Unlock()

	for _, msgID := range ids {
		go func(id string) {
			time.Sleep(500 * time.Millisecond)
			if err := e.out.Recall(context.WithoutCancel(ctx), id); err != nil {
				e.logger.Warn("prompt_recall_failed", "message_id", id, "error", err)
			}
		}(msgID)
	}
}

// Route hands a follow-up message to the session waiting on this id. It
// reports false when no session is waiting, which includes sessions that
// are mid-generation or already gone, so the caller can fall back to
// normal dispatch.
func (e *Engine) Route(msg *platform.InboundMessage) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.active[msg.SessionID()]
	if !ok || s.gate == nil {
		return false
	}
	s.gate <- msg
	s.gate = nil
	return true
}

// arm opens a fresh one-shot gate for the next wait cycle.
func (e *Engine) arm(s *Session) chan *platform.InboundMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan *platform.InboundMessage, 1)
	s.gate = ch
	return ch
}

// disarm closes the current cycle. A message routed between the timeout
// firing and disarm still sits in the buffered channel and is dropped with
// the channel itself.
func (e *Engine) disarm(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s.gate = nil
}

// WaitNext blocks for the next message routed to s, for at most timeout.
// The gate is armed for exactly one cycle; a message arriving after the
// timeout is not consumed here and falls back to normal dispatch.
func (e *Engine) WaitNext(ctx context.Context, s *Session, timeout time.Duration) (*platform.InboundMessage, bool) {
	ch := e.arm(s)
	defer e.disarm(s)
	select {
	case msg := <-ch:
		return msg, true
	case <-time.After(timeout):
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// sendAndRecord sends a prompt and, when recalls are enabled, remembers its
// message id for cleanup.
func (e *Engine) sendAndRecord(ctx context.Context, target platform.Target, sessionID, text string) {
	msgID, err := e.out.SendText(ctx, target, text)
	if err != nil {
		e.logger.Error("prompt_send_failed", "session_id", sessionID, "error", err)
		return
	}
	if !e.opts.RecallPrompts || msgID == "" {
		return
	}
	e.mu.Lock()
	e.recalls[sessionID] = append(e.recalls[sessionID], msgID)
	e.mu.Unlock()
}

// StartGeneration resolves the trigger's arguments, registers the session
// and hands it to a background worker. It returns quickly; the worker owns
// the rest of the lifecycle.
func (e *Engine) StartGeneration(ctx context.Context, msg *platform.InboundMessage, meme *catalog.MemeInfo, rawText, trigger string, shortcutTexts []string, shortcutNames []string, shortcutOptions map[string]any) {
	sessionID := msg.SessionID()
	target := msg.Target()

	s, err := e.Acquire(sessionID)
	if err != nil {
		e.sendAndRecord(ctx, target, sessionID, "您上一个表情正在制作中，请稍等片刻~")
		return
	}

	resolved, err := e.resolver.Resolve(ctx, msg, meme, rawText, trigger, shortcutTexts, shortcutNames, shortcutOptions)
	if err != nil {
		e.Release(ctx, s)
		var parseErr *argparse.ArgParseError
		if errors.As(err, &parseErr) {
			e.sendAndRecord(ctx, target, sessionID, parseErr.Message)
			return
		}
		e.logger.Error("session_start_failed", "meme_key", meme.Key, "session_id", sessionID, "error", err)
		e.sendAndRecord(ctx, target, sessionID, "开启表情制作任务失败了...")
		return
	}

	s.Texts = resolved.Texts
	s.Images = resolved.Images
	s.Options = resolved.Options
	s.Params = meme.Params
	if len(s.Texts) == 0 && len(meme.Params.DefaultTexts) > 0 {
		s.Texts = append([]string(nil), meme.Params.DefaultTexts...)
	}

	go e.run(ctx, s, msg, meme)
}

// run is the session worker. Cleanup is unconditional: whatever path ends
// the session, prompts are recalled and the id is freed exactly once.
func (e *Engine) run(ctx context.Context, s *Session, msg *platform.InboundMessage, meme *catalog.MemeInfo) {
	target := msg.Target()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("session_worker_panic", "meme_key", meme.Key, "session_id", s.ID, "task_id", s.TaskID, "panic", r)
			e.sendAndRecord(ctx, target, s.ID, "表情制作失败了，呜呜...")
		}
		e.Release(ctx, s)
		e.logger.Debug("session_finished", "session_id", s.ID, "task_id", s.TaskID)
	}()

	if !e.satisfied(s) {
		if !e.opts.InteractiveEnabled {
			e.sendAndRecord(ctx, target, s.ID, fmt.Sprintf("参数不足：%s。（提示：可在后台配置中开启交互功能）", e.missing(s)))
			return
		}
		if !e.collect(ctx, s, target) {
			return
		}
	}

	if err := e.generate(ctx, s, msg, meme); err != nil {
		e.logger.Error("generation_failed", "meme_key", meme.Key, "session_id", s.ID, "error", err)
		e.sendAndRecord(ctx, target, s.ID, "制作表情的最后一步失败了，呜呜...")
	}
}

func (e *Engine) satisfied(s *Session) bool {
	return len(s.Texts) >= s.Params.MinTexts && len(s.Images) >= s.Params.MinImages
}

func (e *Engine) missing(s *Session) string {
	var parts []string
	if d := s.Params.MinTexts - len(s.Texts); d > 0 {
		parts = append(parts, fmt.Sprintf("需要 %d 段文字", d))
	}
	if d := s.Params.MinImages - len(s.Images); d > 0 {
		parts = append(parts, fmt.Sprintf("需要 %d 张图片", d))
	}
	return strings.Join(parts, "、")
}

func (e *Engine) stillMissing(s *Session) string {
	var parts []string
	if d := s.Params.MinTexts - len(s.Texts); d > 0 {
		parts = append(parts, fmt.Sprintf("还差 %d 段文字", d))
	}
	if d := s.Params.MinImages - len(s.Images); d > 0 {
		parts = append(parts, fmt.Sprintf("还差 %d 张图片", d))
	}
	return strings.Join(parts, "、")
}

// collect is the interactive wait loop. It returns true when the minimums
// are met and generation should proceed.
func (e *Engine) collect(ctx context.Context, s *Session, target platform.Target) bool {
	prompt := fmt.Sprintf("参数不足，请继续发送%s。%d秒内无操作将自动取消。\n（可发送“%s”来随时终止）",
		e.missing(s), int(e.opts.Timeout.Seconds()), e.opts.CancelKeyword)
	e.sendAndRecord(ctx, target, s.ID, prompt)

	for !e.satisfied(s) {
		next, ok := e.WaitNext(ctx, s, e.opts.Timeout)
		if !ok {
			e.out.SendText(context.WithoutCancel(ctx), target, "输入超时或交互时间过长，制作已取消")
			return false
		}

		text := strings.TrimSpace(next.Text())
		if text == e.opts.CancelKeyword {
			e.out.SendText(ctx, target, "操作已取消。")
			return false
		}

		needsText := len(s.Texts) < s.Params.MinTexts
		needsImage := len(s.Images) < s.Params.MinImages
		images, err := e.resolver.CollectImages(ctx, next)
		if err != nil {
			e.logger.Warn("followup_image_collect_failed", "session_id", s.ID, "error", err)
			images = nil
		}

		if (needsText && text != "") || (needsImage && len(images) > 0) {
			s.invalidCount = 0
			if needsText && text != "" {
				s.Texts = append(s.Texts, strings.Fields(text)...)
			}
			if needsImage && len(images) > 0 {
				s.Images = append(s.Images, images...)
			}
			if e.satisfied(s) {
				e.sendAndRecord(ctx, target, s.ID, "参数已集齐，开始制作...")
				return true
			}
			e.sendAndRecord(ctx, target, s.ID, e.stillMissing(s)+"。")
			continue
		}

		s.invalidCount++
		if e.opts.RepromptEnabled && s.invalidCount >= e.opts.RepromptThreshold {
			nudge := ""
			if !needsText && text != "" {
				nudge = "文字已经够啦，请发送我需要的图片哦~"
			} else if !needsImage && len(images) > 0 {
				nudge = "图片已经够啦，我现在需要的是文字~"
			}
			if nudge != "" {
				e.sendAndRecord(ctx, target, s.ID, nudge)
				s.invalidCount = 0
			}
		}
	}
	return true
}

func (e *Engine) generate(ctx context.Context, s *Session, msg *platform.InboundMessage, meme *catalog.MemeInfo) error {
	s.status = statusGenerating

	texts := s.Texts
	if len(texts) > s.Params.MaxTexts {
		texts = texts[:s.Params.MaxTexts]
	}
	images := s.Images
	if len(images) > s.Params.MaxImages {
		images = images[:s.Params.MaxImages]
	}

	ids, err := e.api.UploadImages(ctx, images)
	if err != nil {
		return err
	}
	refs := make([]memeapi.ImageRef, len(ids))
	for i, id := range ids {
		refs[i] = memeapi.ImageRef{ID: id, Name: fmt.Sprintf("img%d", i)}
	}

	result, err := e.api.GenerateMeme(ctx, meme.Key, memeapi.GeneratePayload{
		Texts:   texts,
		Images:  refs,
		Options: s.Options,
	})
	if err != nil {
		return err
	}

	if err := e.recorder.RecordUsage(ctx, meme.Key, msg.SenderID, msg.GroupID); err != nil {
		e.logger.Warn("usage_record_failed", "meme_key", meme.Key, "error", err)
	}
	return e.planner.Deliver(ctx, e.out, msg.Target(), [][]byte{result})
}
