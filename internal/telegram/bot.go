// Package telegram is the chat front-end: it turns links into jobs, shows
// progress by editing one status message and delivers the finished file.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/anatolykoptev/go_media/internal/engine"
	"github.com/anatolykoptev/go_media/internal/engine/analytics"
	"github.com/anatolykoptev/go_media/internal/toolutil"
)

const (
	pendingTTL  = 10 * time.Minute
	infoTimeout = 15 * time.Second
	barLength   = 10
)

// Sender is the subset of *tgbotapi.BotAPI the bot needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// pending is a link waiting for the user to pick a quality.
type pending struct {
	url     string
	userID  int64
	created time.Time
}

// Bot handles updates. Each update runs in its own goroutine; watching a
// job never blocks other chats.
type Bot struct {
	api     Sender
	svc     *engine.Service
	blobs   engine.BlobStore
	limiter *engine.UserLimiter
	history analytics.Store

	mu      sync.Mutex
	pending map[string]pending
	wg      sync.WaitGroup
}

// New builds a Bot. history may be nil.
func New(api Sender, svc *engine.Service, blobs engine.BlobStore, history analytics.Store) *Bot {
	return &Bot{
		api:     api,
		svc:     svc,
		blobs:   blobs,
		limiter: engine.NewUserLimiter(svc.Config().RateLimitPerMinute),
		history: history,
		pending: make(map[string]pending),
	}
}

// Run dispatches updates until ctx is done or the channel closes, then
// waits for in-flight handlers.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleUpdate(ctx, u)
			}()
		}
	}
}

// HandleUpdate processes one update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.From != nil:
		if u.Message.IsCommand() {
			b.handleCommand(ctx, u.Message)
			return
		}
		b.handleLink(ctx, u.Message)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.reply(msg.Chat.ID, textStart)
	case "help":
		b.reply(msg.Chat.ID, textHelp)
	case "stats":
		b.reply(msg.Chat.ID, b.statsText(ctx, msg.From.ID))
	default:
		b.reply(msg.Chat.ID, textUnknownCommand)
	}
}

func (b *Bot) statsText(ctx context.Context, userID int64) string {
	st := b.svc.Stats(ctx)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Active downloads: %d/%d\nWaiting: %d/%d\nCached files: %d\n",
		st.ActiveJobs, st.MaxConcurrent, st.QueueDepth, st.QueueCapacity, st.CacheEntries)
	if b.history != nil {
		sum, err := b.history.UserSummary(ctx, userID)
		if err != nil {
			slog.Debug("telegram: user summary failed", slog.Any("error", err))
		} else {
			fmt.Fprintf(&sb, "\nYour downloads: %d (%d failed), %s delivered",
				sum.Completed, sum.Failed, toolutil.HumanBytes(sum.Bytes))
		}
	}
	return sb.String()
}

func (b *Bot) handleLink(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	link := engine.ExtractURL(msg.Text)
	if link == "" {
		b.reply(chatID, textSendLink)
		return
	}
	if !b.limiter.Allow(msg.From.ID) {
		b.reply(chatID, textRateLimited)
		return
	}
	if err := engine.ValidateURL(link); err != nil {
		b.reply(chatID, textUnsupported)
		return
	}

	header := "Choose quality:"
	ictx, cancel := context.WithTimeout(ctx, infoTimeout)
	info, err := b.svc.Info(ictx, link)
	cancel()
	switch {
	case err == nil:
		header = infoHeader(info)
	case engine.Classify(err) == engine.KindNoMedia:
		b.reply(chatID, engine.UserMessage(engine.KindNoMedia))
		return
	default:
		slog.Debug("telegram: info unavailable", slog.String("url", link), slog.Any("error", err))
	}

	token := b.remember(link, msg.From.ID)
	out := tgbotapi.NewMessage(chatID, header)
	out.ReplyToMessageID = msg.MessageID
	out.ReplyMarkup = qualityKeyboard(token)
	if _, err := b.api.Send(out); err != nil {
		slog.Warn("telegram: send keyboard failed", slog.Any("error", err))
	}
}

func infoHeader(info *engine.ProbeInfo) string {
	var sb strings.Builder
	if info.Title != "" {
		sb.WriteString(info.Title + "\n")
	}
	if info.Duration > 0 {
		sb.WriteString("Duration: " + toolutil.FormatDuration(info.Duration) + "\n")
	}
	sb.WriteString("Choose quality:")
	return sb.String()
}

func (b *Bot) remember(url string, userID int64) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, p := range b.pending {
		if now.Sub(p.created) > pendingTTL {
			delete(b.pending, k)
		}
	}
	b.pending[token] = pending{url: url, userID: userID, created: now}
	return token
}

// take claims a pending link. Only the user who sent it may claim it.
func (b *Bot) take(token string, userID int64) (pending, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[token]
	if !ok || p.userID != userID {
		return pending{}, false
	}
	delete(b.pending, token)
	if time.Since(p.created) > pendingTTL {
		return pending{}, false
	}
	return p, true
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		slog.Debug("telegram: callback ack failed", slog.Any("error", err))
	}
	if cb.Message == nil || cb.From == nil {
		return
	}
	chatID, msgID := cb.Message.Chat.ID, cb.Message.MessageID

	q, f, token, ok := parseChoice(cb.Data)
	if !ok {
		return
	}
	p, ok := b.take(token, cb.From.ID)
	if !ok {
		b.edit(chatID, msgID, textExpired)
		return
	}

	b.edit(chatID, msgID, "⏳ Preparing...")
	sub, err := b.svc.Submit(ctx, engine.Request{
		URL:     p.url,
		Quality: q,
		Format:  f,
		UserID:  cb.From.ID,
		ChatID:  chatID,
	})
	switch {
	case errors.Is(err, engine.ErrQueueFull):
		b.edit(chatID, msgID, engine.UserMessage(engine.KindQueueFull))
		return
	case err != nil:
		slog.Warn("telegram: submit failed", slog.String("url", p.url), slog.Any("error", err))
		b.edit(chatID, msgID, engine.UserMessage(engine.Classify(err)))
		return
	}

	if sub.Cached {
		b.deliver(ctx, chatID, msgID, sub.Entry.Result())
		return
	}
	if sub.Queued {
		b.edit(chatID, msgID, "🕒 Waiting for a free worker...")
	}
	b.follow(ctx, chatID, msgID, sub.Job.ID)
}

// follow mirrors job events into the status message until the watch ends.
// Leaving it early never cancels the job.
func (b *Bot) follow(ctx context.Context, chatID int64, msgID int, jobID string) {
	for ev := range b.svc.Watch(ctx, jobID) {
		switch ev.Kind {
		case engine.EventProgress:
			b.edit(chatID, msgID, progressText(ev.Job))
		case engine.EventCompleted:
			b.deliver(ctx, chatID, msgID, ev.Job.Result)
		case engine.EventFailed:
			b.edit(chatID, msgID, "❌ "+failureText(ev.Job))
		case engine.EventTimeout:
			b.edit(chatID, msgID, textWatchTimeout)
		}
	}
}

func progressText(j *engine.Job) string {
	switch j.Status {
	case engine.StatusUploading:
		return "📤 Uploading..."
	case engine.StatusQueued:
		return "🕒 Waiting for a free worker..."
	}
	return fmt.Sprintf("📥 Downloading %s %d%%", toolutil.ProgressBar(j.Progress, barLength), j.Progress)
}

func failureText(j *engine.Job) string {
	if j.ErrorKind == engine.KindSizeExceeded && j.Error != "" {
		return engine.UserMessage(j.ErrorKind) + " (" + j.Error + ")"
	}
	return engine.UserMessage(j.ErrorKind)
}

// deliver streams the artifact from blob storage into the chat and removes
// the status message.
func (b *Bot) deliver(ctx context.Context, chatID int64, statusID int, res *engine.Result) {
	if res == nil {
		b.edit(chatID, statusID, engine.UserMessage(engine.KindExtractionFailed))
		return
	}
	rc, _, err := b.blobs.Get(ctx, res.BlobKey)
	if err != nil {
		slog.Warn("telegram: blob fetch failed", slog.String("blob", res.BlobKey), slog.Any("error", err))
		b.edit(chatID, statusID, engine.UserMessage(engine.KindStaleBlob))
		return
	}
	defer rc.Close()

	file := tgbotapi.FileReader{Name: path.Base(res.BlobKey), Reader: rc}
	if _, err := b.api.Send(mediaMessage(chatID, file, res)); err != nil {
		slog.Warn("telegram: delivery failed", slog.String("blob", res.BlobKey), slog.Any("error", err))
		b.edit(chatID, statusID, textDeliveryFailed)
		return
	}
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, statusID)); err != nil {
		slog.Debug("telegram: delete status failed", slog.Any("error", err))
	}
}

func mediaMessage(chatID int64, file tgbotapi.FileReader, res *engine.Result) tgbotapi.Chattable {
	caption := res.Title
	ct := engine.ContentType(res.Ext)
	switch {
	case strings.HasPrefix(ct, "video/"):
		v := tgbotapi.NewVideo(chatID, file)
		v.Caption = caption
		v.Duration = int(res.Duration)
		v.SupportsStreaming = true
		return v
	case strings.HasPrefix(ct, "audio/"):
		a := tgbotapi.NewAudio(chatID, file)
		a.Title = caption
		a.Duration = int(res.Duration)
		return a
	}
	d := tgbotapi.NewDocument(chatID, file)
	d.Caption = caption
	return d
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		slog.Warn("telegram: send failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

// edit replaces the text of a status message. "message is not modified"
// errors are expected when progress repeats.
func (b *Bot) edit(chatID int64, msgID int, text string) {
	if _, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, msgID, text)); err != nil {
		slog.Debug("telegram: edit failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}
