// Package bot is the Telegram front end. Each chat member gets one workflow
// tab; photos fill its inputs, commands and the inline menu configure it,
// and /go renders through the studio service.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"archviz-studio/internal/canvas"
	"archviz-studio/internal/history"
	"archviz-studio/internal/mediagroup"
	"archviz-studio/internal/prompt"
	"archviz-studio/internal/studio"
	"archviz-studio/internal/workflow"
)

// Messenger is the subset of the Telegram client the bot talks to.
type Messenger interface {
	SendText(chatID int64, text string) error
	SendTextWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) (int, error)
	EditTextWithKeyboard(chatID int64, messageID int, text string, kb tgbotapi.InlineKeyboardMarkup) error
	AnswerCallback(callbackID, text string, alert bool) error
	SendImage(chatID int64, img canvas.EncodedImage, caption string) error
	SendTyping(chatID int64)
	DownloadImage(ctx context.Context, fileID string) (canvas.EncodedImage, error)
}

type Renderer interface {
	Render(ctx context.Context, req studio.RenderRequest) (studio.RenderResult, error)
	DescribePrompt(ctx context.Context, apiKey string, img canvas.EncodedImage, kind prompt.Kind) (string, error)
}

type Options struct {
	Telegram Messenger
	Studio   Renderer
	Tabs     *workflow.Store
	History  *history.Store
	Logger   *slog.Logger
}

type Handler struct {
	tg         Messenger
	studio     Renderer
	tabs       *workflow.Store
	history    *history.Store
	logger     *slog.Logger
	aggregator *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tabs := opts.Tabs
	if tabs == nil {
		tabs = workflow.NewStore(prompt.KindExterior)
	}
	hist := opts.History
	if hist == nil {
		hist = history.NewStore(history.Options{})
	}

	return &Handler{
		tg:      opts.Telegram,
		studio:  opts.Studio,
		tabs:    tabs,
		history: hist,
		logger:  logger,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func sessionID(chatID, userID int64) string {
	return fmt.Sprintf("tg:%d:%d", chatID, userID)
}

func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, userID, msg)
	}

	if fileID := imageFileID(msg); fileID != "" {
		return h.handlePhoto(ctx, chatID, userID, msg, fileID)
	}

	if msg.Text != "" {
		return h.handleText(chatID, userID, msg.Text)
	}

	return nil
}

// HandleMediaGroup assigns album items to roles by position and renders
// straight away when nothing is missing.
func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	if err := h.processAlbum(ctx, group); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error("media group processing failed", "err", err, "chat_id", group.ChatID)
	}
}

func (h *Handler) handleCommand(ctx context.Context, chatID, userID int64, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		return h.tg.SendText(chatID, helpText)
	case "menu", "status":
		return h.sendMenu(chatID, userID)
	case "mode":
		if args == "" {
			return h.sendMenu(chatID, userID)
		}
		kind, err := prompt.ParseKind(args)
		if err != nil {
			return h.tg.SendText(chatID, "Unknown workflow. Choose one of: "+kindList())
		}
		h.tabs.SwitchKind(chatID, userID, kind)
		return h.sendMenu(chatID, userID)
	case "ratio":
		if err := h.configure(chatID, userID, func(o *prompt.Options) error { return setRatio(o, args) }); err != nil {
			return h.replyError(chatID, err)
		}
		return h.sendMenu(chatID, userID)
	case "style":
		if err := h.configure(chatID, userID, func(o *prompt.Options) error { return setStyle(o, args) }); err != nil {
			return h.replyError(chatID, err)
		}
		return h.sendMenu(chatID, userID)
	case "go", "render":
		if args != "" {
			if err := h.configure(chatID, userID, func(o *prompt.Options) error {
				*o = prompt.ParseArgs(args, *o)
				return nil
			}); err != nil {
				return h.replyError(chatID, err)
			}
		}
		return h.generate(ctx, chatID, userID)
	case "describe":
		return h.describe(ctx, chatID, userID)
	case "last":
		return h.sendLast(chatID, userID)
	case "reset":
		h.tabs.Reset(chatID, userID)
		h.history.Clear(sessionID(chatID, userID))
		return h.tg.SendText(chatID, "Workflow reset. Send a photo or describe a scene.")
	default:
		return h.tg.SendText(chatID, "Unknown command. Use /help.")
	}
}

func (h *Handler) handleText(chatID, userID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	err := h.configure(chatID, userID, func(o *prompt.Options) error {
		*o = prompt.ParseArgs(text, *o)
		return nil
	})
	if err != nil {
		return h.replyError(chatID, err)
	}
	return h.sendMenu(chatID, userID)
}

func (h *Handler) handlePhoto(ctx context.Context, chatID, userID int64, msg *tgbotapi.Message, fileID string) error {
	if msg.MediaGroupID != "" && h.aggregator != nil {
		h.aggregator.Add(mediagroup.Item{
			ChatID:       chatID,
			UserID:       userID,
			MediaGroupID: msg.MediaGroupID,
			Caption:      msg.Caption,
			FileID:       fileID,
		})
		return nil
	}

	img, err := h.tg.DownloadImage(ctx, fileID)
	if err != nil {
		h.logger.Error("photo download failed", "err", err)
		return h.tg.SendText(chatID, "Could not download the photo. Please send it again.")
	}

	role, rest := roleFromCaption(msg.Caption)
	_, err = h.tabs.Apply(chatID, userID, func(t *workflow.Tab) error {
		if role == "" {
			role = nextRole(*t)
		}
		if err := t.Upload(role, img); err != nil {
			return err
		}
		if rest == "" {
			return nil
		}
		return t.Configure(func(o *prompt.Options) { *o = prompt.ParseArgs(rest, *o) })
	})
	if err != nil {
		return h.replyError(chatID, err)
	}

	h.logger.Debug("image uploaded", "chat_id", chatID, "role", role, "media_type", img.MediaType)
	return h.sendMenu(chatID, userID)
}

func (h *Handler) processAlbum(ctx context.Context, group mediagroup.Group) error {
	chatID, userID := group.ChatID, group.UserID
	h.tg.SendTyping(chatID)

	images := make([]canvas.EncodedImage, len(group.FileIDs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, fileID := range group.FileIDs {
		i, fileID := i, fileID
		eg.Go(func() error {
			img, err := h.tg.DownloadImage(egCtx, fileID)
			if err != nil {
				return err
			}
			images[i] = img
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		h.logger.Error("album download failed", "err", err)
		return h.tg.SendText(chatID, "Could not download the album. Please send it again.")
	}

	caption := strings.TrimSpace(group.Caption)
	tab, err := h.tabs.Apply(chatID, userID, func(t *workflow.Tab) error {
		if caption != "" {
			if err := t.Configure(func(o *prompt.Options) { *o = prompt.ParseArgs(caption, *o) }); err != nil {
				return err
			}
		}
		roles := albumRoles(t.Options.Kind, len(images))
		for i, role := range roles {
			if err := t.Upload(role, images[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return h.replyError(chatID, err)
	}

	if len(tab.Missing()) > 0 {
		return h.sendMenu(chatID, userID)
	}
	return h.generate(ctx, chatID, userID)
}

func (h *Handler) generate(ctx context.Context, chatID, userID int64) error {
	tab, err := h.tabs.Apply(chatID, userID, func(t *workflow.Tab) error { return t.Start() })
	if err != nil {
		var missing *workflow.MissingInputError
		switch {
		case errors.As(err, &missing):
			return h.tg.SendText(chatID, missingHint(tab.Options.Kind, missing.Input))
		case tab.State == workflow.StateGenerating:
			return h.tg.SendText(chatID, "Still rendering, the result is on its way.")
		case tab.State == workflow.StateEmpty:
			return h.tg.SendText(chatID, "Send a photo or describe a scene first.")
		}
		return err
	}

	preset := prompt.ResolvePreset(tab.Options)
	h.tg.SendTyping(chatID)
	_ = h.tg.SendText(chatID, fmt.Sprintf("Rendering %d %s image(s)...", preset.Count, strings.ToLower(preset.Template.Title)))

	res, err := h.studio.Render(ctx, studio.RenderRequest{
		Session:   sessionID(chatID, userID),
		Options:   tab.Options,
		Source:    tab.Source,
		Mask:      tab.Mask,
		Reference: tab.Reference,
	})
	if err != nil {
		if _, ferr := h.tabs.Apply(chatID, userID, func(t *workflow.Tab) error { return t.Fail(err) }); ferr != nil {
			h.logger.Warn("workflow fail transition rejected", "err", ferr)
		}
		h.logger.Error("render failed", "err", err, "kind", tab.Options.Kind, "chat_id", chatID)
		return h.tg.SendText(chatID, renderErrorText(err))
	}

	if _, err := h.tabs.Apply(chatID, userID, func(t *workflow.Tab) error { return t.Complete(res.Images) }); err != nil {
		h.logger.Warn("workflow complete transition rejected", "err", err)
	}

	return h.sendImages(chatID, res.Images, resultCaption(res.Kind, res.AspectRatio), res.Text)
}

func (h *Handler) describe(ctx context.Context, chatID, userID int64) error {
	tab := h.tabs.Get(chatID, userID)
	if tab.Source.IsZero() {
		return h.tg.SendText(chatID, "Send a photo first, then use /describe.")
	}

	h.tg.SendTyping(chatID)
	text, err := h.studio.DescribePrompt(ctx, "", tab.Source, tab.Options.Kind)
	if err != nil {
		h.logger.Error("describe failed", "err", err)
		return h.tg.SendText(chatID, renderErrorText(err))
	}
	if text == "" {
		return h.tg.SendText(chatID, "The model returned no description.")
	}

	if err := h.configure(chatID, userID, func(o *prompt.Options) error {
		o.Notes = text
		return nil
	}); err != nil {
		h.logger.Warn("describe notes not stored", "err", err)
	}
	return h.tg.SendText(chatID, text+"\n\nSaved as notes. Send /go to render.")
}

func (h *Handler) sendLast(chatID, userID int64) error {
	entry, ok := h.history.Last(sessionID(chatID, userID))
	if !ok {
		return h.tg.SendText(chatID, "No renders yet.")
	}
	return h.sendImages(chatID, entry.Images, resultCaption(prompt.Kind(entry.Kind), entry.AspectRatio), "")
}

func (h *Handler) sendImages(chatID int64, images []canvas.EncodedImage, caption, modelText string) error {
	if len(images) == 0 {
		text := "The model returned no image. Try rephrasing the notes."
		if strings.TrimSpace(modelText) != "" {
			text += "\n\n" + strings.TrimSpace(modelText)
		}
		return h.tg.SendText(chatID, text)
	}

	for i, img := range images {
		sendCaption := ""
		if i == 0 {
			sendCaption = caption
		}
		if err := h.tg.SendImage(chatID, img, sendCaption); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) configure(chatID, userID int64, fn func(*prompt.Options) error) error {
	_, err := h.tabs.Apply(chatID, userID, func(t *workflow.Tab) error {
		var inner error
		if err := t.Configure(func(o *prompt.Options) { inner = fn(o) }); err != nil {
			return err
		}
		return inner
	})
	return err
}

func (h *Handler) replyError(chatID int64, err error) error {
	if errors.Is(err, workflow.ErrInvalidTransition) {
		return h.tg.SendText(chatID, "Still rendering, wait for the result before changing the workflow.")
	}
	return h.tg.SendText(chatID, err.Error())
}

func imageFileID(msg *tgbotapi.Message) string {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		return msg.Document.FileID
	}
	return ""
}

// roleFromCaption honours an explicit leading role word such as "mask".
func roleFromCaption(caption string) (workflow.Role, string) {
	caption = strings.TrimSpace(caption)
	first, rest, _ := strings.Cut(caption, " ")
	switch strings.ToLower(first) {
	case "source", "photo":
		return workflow.RoleSource, strings.TrimSpace(rest)
	case "mask":
		return workflow.RoleMask, strings.TrimSpace(rest)
	case "reference", "ref":
		return workflow.RoleReference, strings.TrimSpace(rest)
	}
	return "", caption
}

// nextRole fills the kind's inputs in the order they are asked for. Once
// everything is present a new photo replaces the source.
func nextRole(t workflow.Tab) workflow.Role {
	tpl, _ := prompt.Template(t.Options.Kind)
	switch {
	case tpl.NeedsReference && t.Reference.IsZero():
		return workflow.RoleReference
	case t.Source.IsZero():
		return workflow.RoleSource
	case tpl.NeedsMask && t.Mask.IsZero():
		return workflow.RoleMask
	}
	return workflow.RoleSource
}

// albumRoles maps album positions to roles: edit is photo then mask, style
// is reference then target. Extra items are ignored.
func albumRoles(kind prompt.Kind, n int) []workflow.Role {
	var order []workflow.Role
	switch kind {
	case prompt.KindEdit:
		order = []workflow.Role{workflow.RoleSource, workflow.RoleMask}
	case prompt.KindStyle:
		order = []workflow.Role{workflow.RoleReference, workflow.RoleSource}
	default:
		order = []workflow.Role{workflow.RoleSource}
	}
	if n < len(order) {
		order = order[:n]
	}
	return order
}

func setRatio(o *prompt.Options, arg string) error {
	arg = strings.TrimSpace(arg)
	if arg == "" || strings.EqualFold(arg, "auto") {
		o.AspectRatio = ""
		return nil
	}
	ar, err := canvas.ParseAspectRatio(arg)
	if err != nil {
		return err
	}
	o.AspectRatio = ar
	return nil
}

func setStyle(o *prompt.Options, arg string) error {
	arg = strings.ToLower(strings.TrimSpace(arg))
	if arg == "default" {
		arg = ""
	}
	if !prompt.ValidStyle(arg) {
		return fmt.Errorf("unknown style %q", arg)
	}
	o.Style = arg
	return nil
}

func missingHint(kind prompt.Kind, input string) string {
	switch input {
	case string(workflow.RoleSource):
		return "Send the photo to work on first."
	case string(workflow.RoleMask):
		return "Now send the mask: white where the image may change, black elsewhere."
	case string(workflow.RoleReference):
		return "Send the style reference image first."
	case "prompt":
		return "Describe the " + string(kind) + " you want, or send a photo."
	}
	return "Missing " + input + "."
}

func renderErrorText(err error) string {
	var inputErr *studio.InputError
	switch {
	case errors.As(err, &inputErr):
		return fmt.Sprintf("Could not use the %s: %v", inputErr.Field, inputErr.Err)
	case errors.Is(err, context.DeadlineExceeded):
		return "Rendering timed out. Please try again."
	}
	return "Rendering failed. Please try again."
}

func resultCaption(kind prompt.Kind, ratio canvas.AspectRatio) string {
	title := string(kind)
	if tpl, ok := prompt.Template(kind); ok {
		title = tpl.Title
	}
	if ratio.Valid() {
		return fmt.Sprintf("%s, %s", title, ratio)
	}
	return title
}

func kindList() string {
	kinds := prompt.Kinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

const helpText = "Architecture studio\n\n" +
	"Pick a workflow with /mode, send photos, then /go.\n\n" +
	"/mode <exterior|interior|floorplan|tour|edit|style|diagram|outpaint>\n" +
	"/ratio <1:1|4:3|3:4|16:9|9:16|auto>\n" +
	"/style <name|default>\n" +
	"/go [notes, x1-x4, ratio, style] - render\n" +
	"/describe - write notes from the current photo\n" +
	"/menu - show settings\n" +
	"/last - resend the latest render\n" +
	"/reset - clear the workflow\n\n" +
	"Edit: send the photo, then the mask (or both as an album).\n" +
	"Style: send the reference, then the target.\n" +
	"A caption starting with mask, source or ref sets the role explicitly."
