package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"ipuwatch/internal/render"
	"ipuwatch/internal/source"
	"ipuwatch/internal/storage"
	kit "ipuwatch/internal/transport"
	"ipuwatch/internal/watch"
	"ipuwatch/pkg/logx"
)

const welcomeText = "✨ Welcome to IPU Updates Bot!\n\n" +
	"Choose which notifications you want to receive.\n" +
	"Tap an option below to enable or disable it."

func (s *Service) handleMessage(ctx context.Context, m *kit.Message) {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	cmd := strings.ToLower(strings.Fields(text)[0])
	// Strip the "@botname" suffix used in groups.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}

	log := s.log.With(logx.Int64("chat_id", m.ChatID), logx.String("cmd", cmd))
	to := kit.ChatTarget{ChatID: m.ChatID}

	switch cmd {
	case "/start":
		s.cmdStart(ctx, log, to, m)
	case "/stop", "/unsubscribe":
		s.cmdStop(ctx, log, to)
	case "/results":
		s.cmdListing(ctx, log, to, source.KindResult)
	case "/datesheet":
		s.cmdListing(ctx, log, to, source.KindDatesheet)
	case "/circular":
		s.cmdListing(ctx, log, to, source.KindCircular)
	case "/status":
		s.cmdStatus(ctx, log, to)
	}
}

func (s *Service) cmdStart(ctx context.Context, log logx.Logger, to kit.ChatTarget, m *kit.Message) {
	err := s.store.UpsertSubscriber(ctx, storage.Subscriber{
		ChatID:       m.ChatID,
		Username:     m.FromUsername,
		FirstName:    m.FromName,
		SubscribedAt: time.Now(),
	})
	if err != nil {
		log.Error("subscribe failed", logx.Err(err))
		s.replyError(ctx, to)
		return
	}
	log.Info("subscriber opted in")

	sub, err := s.store.GetSubscriber(ctx, m.ChatID)
	if err != nil {
		log.Error("load subscriber failed", logx.Err(err))
		s.replyError(ctx, to)
		return
	}
	s.sendText(ctx, log, to, welcomeText, prefsKeyboard(sub.Prefs))
}

func (s *Service) cmdStop(ctx context.Context, log logx.Logger, to kit.ChatTarget) {
	if err := s.store.SetSubscriberActive(ctx, to.ChatID, false); err != nil {
		log.Error("unsubscribe failed", logx.Err(err))
		s.replyError(ctx, to)
		return
	}
	log.Info("subscriber opted out")
	s.sendText(ctx, log, to, "❌ You have been unsubscribed. Use /start to subscribe again.", nil)
}

func (s *Service) cmdListing(ctx context.Context, log logx.Logger, to kit.ChatTarget, kind source.Kind) {
	p, ok := s.registry.Get(kind)
	if !ok {
		s.replyError(ctx, to)
		return
	}

	items, err := watch.BuildPreview(ctx, s.fetcher, p)
	if err != nil || len(items) == 0 {
		if err != nil && !errors.Is(err, watch.ErrUnavailable) {
			log.Warn("listing fetch failed", logx.Err(err))
		}
		s.sendText(ctx, log, to,
			"❌ Could not fetch updates at the moment. Please try again later.", nil)
		return
	}

	s.sendHTML(ctx, log, to, render.Listing(p, items, time.Now()), nil)
}

func (s *Service) cmdStatus(ctx context.Context, log logx.Logger, to kit.ChatTarget) {
	states := make(map[source.Kind]*storage.SourceState, 3)
	for _, kind := range source.Kinds() {
		st, err := s.store.GetSourceState(ctx, kind)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				log.Warn("status read failed", logx.String("source", string(kind)), logx.Err(err))
			}
			continue
		}
		states[kind] = &st
	}
	s.sendHTML(ctx, log, to, render.Status(states, time.Now()), nil)
}

func (s *Service) handleCallback(ctx context.Context, cb *kit.Callback) {
	log := s.log.With(logx.Int64("chat_id", cb.ChatID), logx.String("cb", cb.Data))

	kind, ok := parseToggle(cb.Data)
	if !ok {
		_ = s.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	sub, err := s.store.GetSubscriber(ctx, cb.ChatID)
	if err != nil {
		log.Warn("callback for unknown subscriber", logx.Err(err))
		_ = s.adapter.AnswerCallback(ctx, cb.ID, "Use /start first")
		return
	}

	enabled := !sub.Prefs.Wants(kind)
	if err := s.store.SetSubscriberPref(ctx, cb.ChatID, kind, enabled); err != nil {
		log.Error("preference update failed", logx.Err(err))
		_ = s.adapter.AnswerCallback(ctx, cb.ID, "Something went wrong")
		return
	}
	log.Info("preference toggled",
		logx.String("topic", string(kind)),
		logx.Bool("enabled", enabled))

	sub, err = s.store.GetSubscriber(ctx, cb.ChatID)
	if err != nil {
		_ = s.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	err = s.adapter.EditText(ctx, ref, welcomeText+prefsSummary(sub.Prefs), &kit.SendOptions{
		ReplyMarkupAdapter: prefsKeyboard(sub.Prefs),
	})
	if err != nil {
		log.Warn("keyboard refresh failed", logx.Err(err))
	}
	_ = s.adapter.AnswerCallback(ctx, cb.ID, "")
}

func prefsSummary(p storage.Preferences) string {
	var enabled []string
	for _, kind := range source.Kinds() {
		if !p.Wants(kind) {
			continue
		}
		if prof, ok := source.ProfileFor(kind); ok {
			enabled = append(enabled, prof.Icon+" "+prof.Title)
		}
	}
	if len(enabled) == 0 {
		return "\n\n⚠️ No notifications enabled. Enable at least one!"
	}
	return "\n\n✅ You'll receive: " + strings.Join(enabled, ", ")
}

func (s *Service) sendText(ctx context.Context, log logx.Logger, to kit.ChatTarget, text string, markup any) {
	_, err := s.adapter.SendText(ctx, to, text, &kit.SendOptions{ReplyMarkupAdapter: markup})
	if err != nil {
		log.Warn("reply failed", logx.Err(err))
	}
}

func (s *Service) sendHTML(ctx context.Context, log logx.Logger, to kit.ChatTarget, body string, markup any) {
	_, err := s.adapter.SendText(ctx, to, body, &kit.SendOptions{
		ParseMode:          kit.ParseModeHTML,
		ReplyMarkupAdapter: markup,
	})
	if err != nil {
		log.Warn("reply failed", logx.Err(err))
	}
}

func (s *Service) replyError(ctx context.Context, to kit.ChatTarget) {
	_, _ = s.adapter.SendText(ctx, to, "❌ An error occurred. Please try again later.", nil)
}
