package fetch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/abelbrown/chatfeed/internal/logging"
	"github.com/abelbrown/chatfeed/internal/model"
	"github.com/abelbrown/chatfeed/internal/otel"
	"github.com/abelbrown/chatfeed/internal/store"
)

// updateSource is the slice of the bot API the ingester needs.
type updateSource interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// TelegramIngester long-polls the Bot API and writes every channel post and
// group message it sees into the local store, where StoreGateway serves it.
type TelegramIngester struct {
	api    updateSource
	store  *store.Store
	events *otel.Logger
	selfID int64

	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
	// RetryDelay is how long Run waits after a failed GetUpdates.
	RetryDelay time.Duration

	offset int
}

// NewTelegramIngester connects to the Bot API with token.
func NewTelegramIngester(token string, st *store.Store, events *otel.Logger, selfID int64) (*TelegramIngester, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	logging.Info("telegram authorized", "account", api.Self.UserName)
	return newIngester(api, st, events, selfID), nil
}

func newIngester(api updateSource, st *store.Store, events *otel.Logger, selfID int64) *TelegramIngester {
	return &TelegramIngester{
		api:         api,
		store:       st,
		events:      events,
		selfID:      selfID,
		PollTimeout: 30,
		RetryDelay:  5 * time.Second,
	}
}

// Run polls until ctx is cancelled.
func (t *TelegramIngester) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		cfg := tgbotapi.NewUpdate(t.offset)
		cfg.Timeout = t.PollTimeout

		updates, err := t.api.GetUpdates(cfg)
		if err != nil {
			logging.Warn("telegram getUpdates failed", "error", err)
			t.events.Error(otel.KindIngestError, "ingest", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(t.RetryDelay):
			}
			continue
		}

		if _, err := t.Ingest(updates); err != nil {
			logging.Error("telegram ingest failed", "error", err)
			t.events.Error(otel.KindIngestError, "ingest", err)
		}
	}
}

// Ingest stores the messages carried by updates and advances the offset once
// they are saved. On error the offset stays put so the batch is fetched again.
// Returns the number of items that were not stored before.
func (t *TelegramIngester) Ingest(updates []tgbotapi.Update) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	seen := make(map[string]bool)
	var sources []model.Source
	var items []model.Item
	next := t.offset

	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}

		for _, msg := range []*tgbotapi.Message{u.Message, u.EditedMessage, u.ChannelPost, u.EditedChannelPost} {
			if msg == nil || msg.Chat == nil {
				continue
			}
			src := SourceFromChat(msg.Chat, t.selfID)
			if src.Kind == "" {
				continue
			}
			if !seen[src.ID] {
				seen[src.ID] = true
				sources = append(sources, src)
			}
			if it, ok := ItemFromMessage(msg); ok {
				items = append(items, it)
			}
		}
	}

	if err := t.store.UpsertSources(sources); err != nil {
		return 0, fmt.Errorf("upsert sources: %w", err)
	}
	added, err := t.store.SaveItems(items)
	if err != nil {
		return 0, fmt.Errorf("save items: %w", err)
	}
	t.offset = next

	t.events.Emit(otel.Event{
		Level: otel.LevelInfo,
		Kind:  otel.KindIngestBatch,
		Comp:  "ingest",
		Count: added,
		Extra: map[string]any{"updates": len(updates), "sources": len(sources)},
	})
	logging.Debug("telegram batch ingested", "updates", len(updates), "new", added)
	return added, nil
}

// Offset returns the next update ID to request.
func (t *TelegramIngester) Offset() int {
	return t.offset
}

// SourceFromChat maps a chat to a feed source. Private chats map to the zero
// kind and are skipped by the ingester.
func SourceFromChat(chat *tgbotapi.Chat, selfID int64) model.Source {
	src := model.Source{
		ID:    strconv.FormatInt(chat.ID, 10),
		Title: chat.Title,
		Self:  selfID != 0 && chat.ID == selfID,
	}
	if src.Title == "" {
		src.Title = chat.UserName
	}

	switch chat.Type {
	case "channel":
		src.Kind = model.KindChannel
	case "supergroup":
		src.Kind = model.KindGroup
	case "group":
		src.Kind = model.KindBasicGroup
	}
	return src
}

// ItemFromMessage converts a message to a feed item. Service messages with
// neither text nor a supported attachment are rejected.
func ItemFromMessage(msg *tgbotapi.Message) (model.Item, bool) {
	if msg == nil || msg.Chat == nil {
		return model.Item{}, false
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	item := model.Item{
		SourceID: strconv.FormatInt(msg.Chat.ID, 10),
		ItemID:   strconv.Itoa(msg.MessageID),
		Date:     int64(msg.Date),
		GroupID:  msg.MediaGroupID,
		HasText:  text != "",
		Text:     text,
		Media:    mediaFromMessage(msg),
	}

	if !item.HasText && item.Media == nil {
		return model.Item{}, false
	}
	return item, true
}

func mediaFromMessage(msg *tgbotapi.Message) *model.Media {
	switch {
	case len(msg.Photo) > 0:
		// sizes are ascending; keep the largest
		p := msg.Photo[len(msg.Photo)-1]
		return &model.Media{Kind: model.MediaPhoto, FileID: p.FileID, Width: p.Width, Height: p.Height}
	case msg.Video != nil:
		v := msg.Video
		return &model.Media{Kind: model.MediaVideo, FileID: v.FileID, Width: v.Width, Height: v.Height, Duration: v.Duration}
	case msg.Audio != nil:
		return &model.Media{Kind: model.MediaAudio, FileID: msg.Audio.FileID, Duration: msg.Audio.Duration}
	case msg.Document != nil:
		return &model.Media{Kind: model.MediaDocument, FileID: msg.Document.FileID}
	default:
		return nil
	}
}
