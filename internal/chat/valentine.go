package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/matchbot/matchbot/internal/domain"
)

type valentineStep int

const (
	stepRecipient valentineStep = iota + 1
	stepText
	stepPhotoChoice
	stepPhotoURL
	stepAnonymity
)

// valentineDraft collects a valentine one field at a time.
type valentineDraft struct {
	step      valentineStep
	recipient *domain.User
	text      string
	photoURL  string
}

const (
	maxValentineLength = 1000
	maxCandidates      = 5
	minSearchLength    = 2
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{5,32}$`)

// ValidUsername reports whether s, without a leading "@", is a well-formed username.
func ValidUsername(s string) bool {
	return usernamePattern.MatchString(domain.CleanUsername(s))
}

const (
	textAskRecipient = "Who is your valentine for? Send their username, for example @username."
	textAskText      = "Now write your valentine."
	textAskPhoto     = "Do you want to add a photo?"
	textAskPhotoURL  = "Send the photo as a link (http or https)."
	textAskAnonymity = "Send it anonymously or sign it with your name?"
)

func (r *Router) startValentine(conv *conversation) []Reply {
	conv.valentine = &valentineDraft{step: stepRecipient}
	return []Reply{{Text: textAskRecipient, Buttons: cancelOnly()}}
}

func (r *Router) handleValentine(ctx context.Context, conv *conversation, userID, text, photoURL string) []Reply {
	if isMenuCommand(text) {
		return []Reply{{Text: textBusy, Buttons: r.valentineButtons(conv.valentine.step)}}
	}

	d := conv.valentine
	switch d.step {
	case stepRecipient:
		return r.valentineRecipient(ctx, d, userID, text)
	case stepText:
		if text == "" {
			return []Reply{{Text: textAskText, Buttons: cancelOnly()}}
		}
		if len([]rune(text)) > maxValentineLength {
			return []Reply{{Text: fmt.Sprintf("That's too long. Please keep it under %d characters.", maxValentineLength), Buttons: cancelOnly()}}
		}
		d.text = text
		d.step = stepPhotoChoice
		return []Reply{{Text: textAskPhoto, Buttons: r.valentineButtons(stepPhotoChoice)}}
	case stepPhotoChoice:
		switch {
		case photoURL != "":
			return r.valentinePhoto(d, photoURL)
		case text == BtnAddPhoto:
			d.step = stepPhotoURL
			return []Reply{{Text: textAskPhotoURL, Buttons: r.valentineButtons(stepPhotoURL)}}
		case text == BtnSkipPhoto:
			d.step = stepAnonymity
			return []Reply{{Text: textAskAnonymity, Buttons: r.valentineButtons(stepAnonymity)}}
		}
		return []Reply{{Text: textAskPhoto, Buttons: r.valentineButtons(stepPhotoChoice)}}
	case stepPhotoURL:
		if text == BtnSkipPhoto {
			d.step = stepAnonymity
			return []Reply{{Text: textAskAnonymity, Buttons: r.valentineButtons(stepAnonymity)}}
		}
		if photoURL == "" {
			photoURL = text
		}
		return r.valentinePhoto(d, photoURL)
	case stepAnonymity:
		switch text {
		case BtnAnonymous:
			return r.sendValentine(ctx, conv, userID, true)
		case BtnOpen:
			return r.sendValentine(ctx, conv, userID, false)
		}
		return []Reply{{Text: textAskAnonymity, Buttons: r.valentineButtons(stepAnonymity)}}
	}

	conv.valentine = nil
	return []Reply{menuReply(textUnknown)}
}

func (r *Router) valentineButtons(step valentineStep) [][]string {
	switch step {
	case stepPhotoChoice:
		return [][]string{{BtnAddPhoto, BtnSkipPhoto}, {BtnCancel}}
	case stepPhotoURL:
		return [][]string{{BtnSkipPhoto}, {BtnCancel}}
	case stepAnonymity:
		return [][]string{{BtnAnonymous, BtnOpen}, {BtnCancel}}
	}
	return cancelOnly()
}

func (r *Router) valentineRecipient(ctx context.Context, d *valentineDraft, userID, text string) []Reply {
	if text == "" {
		return []Reply{{Text: textAskRecipient, Buttons: cancelOnly()}}
	}
	valid := ValidUsername(text)
	if valid {
		recipient, err := r.repo.GetUserByUsername(ctx, text)
		if err != nil {
			slog.Error("failed to look up valentine recipient", "user_id", userID, "error", err)
			return []Reply{{Text: textLookupFailed, Buttons: cancelOnly()}}
		}
		if recipient != nil && recipient.UserID == userID {
			return []Reply{{Text: "You can't send a valentine to yourself. Try another username.", Buttons: cancelOnly()}}
		}
		if recipient != nil {
			d.recipient = recipient
			d.step = stepText
			return []Reply{{Text: textAskText, Buttons: cancelOnly()}}
		}
	}

	if buttons := r.recipientCandidates(ctx, userID, text); len(buttons) > 0 {
		return []Reply{{Text: "I couldn't find that exact username. Is it one of these?", Buttons: buttons}}
	}
	if !valid {
		return []Reply{{Text: "That doesn't look like a username. It must be 5-32 letters, digits or underscores.", Buttons: cancelOnly()}}
	}
	return []Reply{{Text: fmt.Sprintf("@%s hasn't talked to me yet, so I can't deliver a valentine. Try another username.", domain.CleanUsername(text)), Buttons: cancelOnly()}}
}

// recipientCandidates suggests registered users whose username or name
// contains query, one button per user, followed by a cancel row.
func (r *Router) recipientCandidates(ctx context.Context, userID, query string) [][]string {
	if len([]rune(domain.CleanUsername(query))) < minSearchLength {
		return nil
	}
	users, err := r.repo.SearchUsers(ctx, query, maxCandidates+1)
	if err != nil {
		slog.Warn("failed to search valentine recipients", "user_id", userID, "error", err)
		return nil
	}
	var rows [][]string
	for _, u := range users {
		if u.UserID == userID || len(rows) == maxCandidates {
			continue
		}
		rows = append(rows, []string{"@" + u.Username})
	}
	if len(rows) == 0 {
		return nil
	}
	return append(rows, []string{BtnCancel})
}

func (r *Router) valentinePhoto(d *valentineDraft, raw string) []Reply {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		d.step = stepPhotoURL
		return []Reply{{Text: "That isn't a valid link. " + textAskPhotoURL, Buttons: r.valentineButtons(stepPhotoURL)}}
	}
	d.photoURL = u.String()
	d.step = stepAnonymity
	return []Reply{{Text: textAskAnonymity, Buttons: r.valentineButtons(stepAnonymity)}}
}

func (r *Router) sendValentine(ctx context.Context, conv *conversation, userID string, anonymous bool) []Reply {
	d := conv.valentine
	sender, err := r.repo.GetUser(ctx, userID)
	if err != nil {
		slog.Error("failed to load valentine sender", "user_id", userID, "error", err)
		return []Reply{{Text: textStorageFailed, Buttons: r.valentineButtons(stepAnonymity)}}
	}
	if sender == nil {
		conv.valentine = nil
		slog.Warn("valentine sender not found", "user_id", userID)
		return []Reply{menuReply("I couldn't find your profile. Send /start and try again.")}
	}

	if !r.limiter.Allow(userID) {
		conv.valentine = nil
		slog.Warn("valentine rate limit exceeded", "user_id", userID)
		return []Reply{menuReply("You've sent a lot of valentines recently. Please try again later.")}
	}

	v := &domain.Valentine{
		ID:          r.newID(),
		SenderID:    userID,
		RecipientID: d.recipient.UserID,
		SenderName:  sender.DisplayName(),
		Text:        d.text,
		PhotoURL:    d.photoURL,
		Anonymous:   anonymous,
		CreatedAt:   r.now(),
	}
	if err := r.repo.SaveValentine(ctx, v); err != nil {
		// The draft stays at the anonymity step so the user can retry.
		slog.Error("failed to store valentine", "user_id", userID, "error", err)
		return []Reply{{Text: textStorageFailed, Buttons: r.valentineButtons(stepAnonymity)}}
	}
	conv.valentine = nil
	slog.Info("valentine sent", "valentine_id", v.ID, "sender_id", userID, "recipient_id", v.RecipientID, "anonymous", anonymous)

	r.deliver(ctx, sender, v)

	mode := "with your name"
	if anonymous {
		mode = "anonymously"
	}
	return []Reply{menuReply(fmt.Sprintf("💌 Your valentine for %s was sent %s.", d.recipient.Handle(), mode))}
}

// deliver pushes a stored valentine to the recipient's open connections.
// Offline recipients read it from their inbox later.
func (r *Router) deliver(ctx context.Context, sender *domain.User, v *domain.Valentine) {
	if r.messenger == nil {
		return
	}
	err := r.messenger.Send(ctx, v.RecipientID, ValentineReply(*v, sender))
	switch {
	case errors.Is(err, ErrOffline):
		slog.Debug("valentine recipient offline", "valentine_id", v.ID)
	case err != nil:
		slog.Warn("failed to push valentine", "valentine_id", v.ID, "error", err)
	}
}

// ValentineReply renders a valentine as the recipient sees it. sender is
// ignored for anonymous valentines.
func ValentineReply(v domain.Valentine, sender *domain.User) Reply {
	from := "someone anonymous"
	if !v.Anonymous && sender != nil {
		from = sender.Handle()
	}
	return Reply{
		Text:     fmt.Sprintf("💌 You received a valentine from %s:\n\n%s", from, v.Text),
		PhotoURL: v.PhotoURL,
	}
}
