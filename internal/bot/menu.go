package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"archviz-studio/internal/canvas"
	"archviz-studio/internal/prompt"
	"archviz-studio/internal/workflow"
)

const callbackPrefix = "wf"

func (h *Handler) sendMenu(chatID, userID int64) error {
	tab := h.tabs.Get(chatID, userID)
	_, err := h.tg.SendTextWithKeyboard(chatID, menuText(tab), menuKeyboard(userID, tab))
	return err
}

// handleCallback serves the inline menu. Data is "wf:<owner>:<action>[:<arg>]";
// ratios travel as "16x9" because ':' is the separator.
func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil || q.From == nil || q.Message.Chat == nil {
		return nil
	}
	data := strings.TrimSpace(q.Data)
	if !strings.HasPrefix(data, callbackPrefix+":") {
		return nil
	}

	parts := strings.Split(data, ":")
	if len(parts) < 3 {
		return nil
	}
	ownerID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil
	}
	if ownerID != q.From.ID {
		_ = h.tg.AnswerCallback(q.ID, "This menu belongs to someone else.", true)
		return nil
	}

	action := parts[2]
	arg := ""
	if len(parts) > 3 {
		arg = parts[3]
	}
	chatID := q.Message.Chat.ID

	switch action {
	case "go":
		_ = h.tg.AnswerCallback(q.ID, "Rendering...", false)
		return h.generate(ctx, chatID, ownerID)
	case "reset":
		h.tabs.Reset(chatID, ownerID)
	case "kind":
		kind, err := prompt.ParseKind(arg)
		if err != nil {
			_ = h.tg.AnswerCallback(q.ID, "Unknown workflow.", true)
			return nil
		}
		h.tabs.SwitchKind(chatID, ownerID, kind)
	case "ratio", "style", "count":
		err := h.configure(chatID, ownerID, func(o *prompt.Options) error {
			switch action {
			case "ratio":
				return setRatio(o, arg)
			case "style":
				return setStyle(o, arg)
			}
			n, err := strconv.Atoi(arg)
			if err != nil || n < 1 || n > prompt.MaxCount {
				return fmt.Errorf("count must be 1-%d", prompt.MaxCount)
			}
			o.Count = n
			return nil
		})
		if err != nil {
			_ = h.tg.AnswerCallback(q.ID, callbackErrorText(err), true)
			return nil
		}
	default:
		_ = h.tg.AnswerCallback(q.ID, "", false)
		return nil
	}

	_ = h.tg.AnswerCallback(q.ID, "OK", false)

	tab := h.tabs.Get(chatID, ownerID)
	if err := h.tg.EditTextWithKeyboard(chatID, q.Message.MessageID, menuText(tab), menuKeyboard(ownerID, tab)); err != nil {
		h.logger.Debug("menu edit failed, sending new", "err", err)
		_, err = h.tg.SendTextWithKeyboard(chatID, menuText(tab), menuKeyboard(ownerID, tab))
		return err
	}
	return nil
}

func callbackErrorText(err error) string {
	if errors.Is(err, workflow.ErrInvalidTransition) {
		return "Still rendering."
	}
	return err.Error()
}

func menuText(tab workflow.Tab) string {
	preset := prompt.ResolvePreset(tab.Options)

	ratio := "auto"
	if preset.AspectRatio.Valid() {
		ratio = preset.AspectRatio.String()
	}
	style := "Default"
	if preset.StyleName != "" {
		style = preset.StyleName
	}

	var b strings.Builder
	b.WriteString(preset.Template.Title + "\n\n")
	b.WriteString(fmt.Sprintf("State: %s\n", tab.State))
	b.WriteString(fmt.Sprintf("Ratio: %s, images: %d\n", ratio, preset.Count))
	b.WriteString(fmt.Sprintf("Style: %s\n", style))
	if notes := strings.TrimSpace(tab.Options.Notes); notes != "" {
		b.WriteString("Notes: " + truncateLine(notes, 80) + "\n")
	}

	tpl := preset.Template
	var inputs []string
	if tpl.NeedsSource || !tab.Source.IsZero() {
		inputs = append(inputs, "photo "+mark(!tab.Source.IsZero()))
	}
	if tpl.NeedsMask {
		inputs = append(inputs, "mask "+mark(!tab.Mask.IsZero()))
	}
	if tpl.NeedsReference {
		inputs = append(inputs, "reference "+mark(!tab.Reference.IsZero()))
	}
	if len(inputs) > 0 {
		b.WriteString("Inputs: " + strings.Join(inputs, ", ") + "\n")
	}
	if tab.LastError != "" {
		b.WriteString("Last error: " + truncateLine(tab.LastError, 120) + "\n")
	}

	b.WriteString("\n")
	if missing := tab.Missing(); len(missing) > 0 {
		b.WriteString(missingHint(tab.Options.Kind, missing[0]))
	} else {
		b.WriteString("Ready. Press Render or send /go.")
	}
	return b.String()
}

func menuKeyboard(ownerID int64, tab workflow.Tab) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	var row []tgbotapi.InlineKeyboardButton
	for _, k := range prompt.Kinds() {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(selected(string(k), k == tab.Options.Kind), cb(ownerID, "kind", string(k))))
		if len(row) == 4 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	ratioRow := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData(selected("auto", !tab.Options.AspectRatio.Valid()), cb(ownerID, "ratio", "auto")),
	}
	for _, r := range canvas.AspectRatios() {
		ratioRow = append(ratioRow, tgbotapi.NewInlineKeyboardButtonData(
			selected(r.String(), r == tab.Options.AspectRatio),
			cb(ownerID, "ratio", strings.ReplaceAll(r.String(), ":", "x")),
		))
	}
	rows = append(rows, ratioRow)

	row = nil
	for _, s := range prompt.Styles() {
		key := s.Key
		if key == "" {
			key = "default"
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(selected(s.Name, s.Key == tab.Options.Style), cb(ownerID, "style", key)))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	var countRow []tgbotapi.InlineKeyboardButton
	count := prompt.ResolvePreset(tab.Options).Count
	for n := 1; n <= prompt.MaxCount; n++ {
		countRow = append(countRow, tgbotapi.NewInlineKeyboardButtonData(selected(fmt.Sprintf("x%d", n), n == count), cb(ownerID, "count", strconv.Itoa(n))))
	}
	rows = append(rows, countRow,
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("Render", cb(ownerID, "go")),
			tgbotapi.NewInlineKeyboardButtonData("Reset", cb(ownerID, "reset")),
		},
	)

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func cb(ownerID int64, parts ...string) string {
	return fmt.Sprintf("%s:%d:%s", callbackPrefix, ownerID, strings.Join(parts, ":"))
}

func selected(label string, on bool) string {
	if on {
		return "✅ " + label
	}
	return label
}

func mark(ok bool) string {
	if ok {
		return "✅"
	}
	return "—"
}

func truncateLine(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
