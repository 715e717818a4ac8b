package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/race-tender/backend/race"
	"github.com/onnwee/race-tender/backend/telemetry"
)

// handlerTimeout bounds one inbound message end to end, transaction and chat
// side effects included.
const handlerTimeout = 30 * time.Second

// maxManifestBytes caps an addgroup attachment download.
const maxManifestBytes = 64 << 10

func (b *Bot) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	ctx = telemetry.WithCorrelation(ctx, m.ID)

	if strings.HasPrefix(m.Content, b.prefix) {
		telemetry.TimeFunc(telemetry.CommandDuration, func() {
			b.dispatch(ctx, s, m)
		})
		return
	}

	// non-command guild message: a submission if the channel is a submission
	// channel, noise otherwise
	outcome, err := b.svc.Submit(ctx, race.Message{
		ServerID:   m.GuildID,
		ChannelID:  m.ChannelID,
		MessageID:  m.ID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		Content:    m.Content,
	})
	if err != nil {
		if race.IsNotFound(err) {
			return // unmanaged channel
		}
		telemetry.LoggerWithCorr(ctx).Error("submission failed", slog.Any("err", err))
		return
	}
	if !outcome.Accepted && outcome.Reason != "" {
		b.dm(ctx, m.Author.ID, "Your submission was rejected: "+outcome.Reason)
	}
}

func (b *Bot) dispatch(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	fields := strings.Fields(m.Content)
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], b.prefix))
	args := fields[1:]
	inv := b.invoker(s, m)

	var err error
	deleteAfter := false
	if kind, ok := startCommand(cmd); ok {
		_, err = b.svc.StartRace(ctx, inv, kind, strings.Join(args, " "))
		b.finishCommand(ctx, s, m, err, true)
		return
	}
	if stopCommand(cmd) {
		err = b.svc.StopRace(ctx, inv)
		b.finishCommand(ctx, s, m, err, true)
		return
	}
	switch cmd {
	case "addgroup":
		err = b.addGroup(ctx, m, inv)
	case "removegroup":
		if len(args) != 1 {
			err = replyUsage("removegroup <group-name>")
		} else {
			err = b.svc.RemoveGroup(ctx, inv, args[0])
		}
	case "listgroups":
		_, err = b.svc.ListGroups(ctx, inv)
	case "refresh":
		err = b.svc.Refresh(ctx, inv)
		deleteAfter = true
	case "settime":
		if len(args) != 2 {
			err = replyUsage("settime <runner> <HH:MM:SS>")
		} else {
			err = b.svc.SetTime(ctx, inv, args[0], args[1])
		}
		deleteAfter = true
	case "setcollection":
		if len(args) != 2 {
			err = replyUsage("setcollection <runner> <rate>")
		} else {
			var n int
			if n, err = strconv.Atoi(args[1]); err != nil {
				err = replyUsage("setcollection <runner> <rate>")
			} else {
				err = b.svc.SetCollection(ctx, inv, args[0], n)
			}
		}
		deleteAfter = true
	case "removetime":
		if len(args) != 1 {
			err = replyUsage("removetime <runner>")
		} else {
			err = b.svc.RemoveTime(ctx, inv, args[0])
		}
		deleteAfter = true
	case "setadminrole":
		err = b.roleCmd(ctx, inv, args, "setadminrole <role-id>", b.svc.SetAdminRole)
	case "setmodrole":
		err = b.roleCmd(ctx, inv, args, "setmodrole <role-id>", b.svc.SetModRole)
	case "removeadminrole":
		err = b.svc.RemoveAdminRole(ctx, inv)
	case "removemodrole":
		err = b.svc.RemoveModRole(ctx, inv)
	default:
		return // not ours
	}
	b.finishCommand(ctx, s, m, err, deleteAfter)
}

// startCommand maps a start token to its timing discipline. rtastart is the
// documented token; startrace is kept as an alias.
func startCommand(cmd string) (race.Kind, bool) {
	switch cmd {
	case "rtastart", "startrace":
		return race.KindRTA, true
	case "igtstart":
		return race.KindIGT, true
	}
	return "", false
}

// stopCommand reports whether cmd stops the active race. stop is the
// documented token; stoprace is kept as an alias.
func stopCommand(cmd string) bool {
	return cmd == "stop" || cmd == "stoprace"
}

// finishCommand reports a failed command back to the channel, or deletes the
// invoking message when the command succeeded in a submission channel.
func (b *Bot) finishCommand(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, err error, deleteAfter bool) {
	if err != nil {
		b.replyError(ctx, s, m, err)
		return
	}
	if deleteAfter {
		// lifecycle commands live in submission channels, which stay clean
		if delErr := s.ChannelMessageDelete(m.ChannelID, m.ID, discordgo.WithContext(ctx)); delErr != nil {
			telemetry.LoggerWithCorr(ctx).Warn("failed to delete command message", slog.Any("err", delErr))
		}
	}
}

func (b *Bot) roleCmd(ctx context.Context, inv race.Invoker, args []string, usage string,
	fn func(context.Context, race.Invoker, string) error) error {
	if len(args) != 1 {
		return replyUsage(usage)
	}
	return fn(ctx, inv, args[0])
}

// addGroup pulls the yaml manifest from the first attachment, or from the
// message body after the command word, fenced or not.
func (b *Bot) addGroup(ctx context.Context, m *discordgo.MessageCreate, inv race.Invoker) error {
	var raw []byte
	if len(m.Attachments) > 0 {
		body, err := fetchAttachment(ctx, m.Attachments[0].URL)
		if err != nil {
			return fmt.Errorf("fetch manifest attachment: %w", err)
		}
		raw = body
	} else {
		rest := strings.TrimSpace(strings.TrimPrefix(m.Content, b.prefix+"addgroup"))
		rest = strings.TrimPrefix(rest, "```yaml")
		rest = strings.Trim(rest, "` \n")
		if rest == "" {
			return replyUsage("addgroup with a yaml manifest attached or in a code block")
		}
		raw = []byte(rest)
	}
	manifest, err := race.ParseManifest(raw)
	if err != nil {
		return err
	}
	_, err = b.svc.AddGroup(ctx, inv, manifest)
	return err
}

func fetchAttachment(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment fetch returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
}

// invoker snapshots who issued the message and with what roles. The guild
// owner id comes from state, falling back to a REST lookup.
func (b *Bot) invoker(s *discordgo.Session, m *discordgo.MessageCreate) race.Invoker {
	inv := race.Invoker{
		ServerID:  m.GuildID,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
	}
	if m.Member != nil {
		inv.RoleIDs = m.Member.Roles
	}
	if g, err := s.State.Guild(m.GuildID); err == nil {
		inv.ServerOwnerID = g.OwnerID
	} else if g, err := s.Guild(m.GuildID); err == nil {
		inv.ServerOwnerID = g.OwnerID
	}
	return inv
}

// usageError carries a usage hint back to the channel without logging noise.
type usageError struct{ usage string }

func (e *usageError) Error() string { return "usage: " + e.usage }

func replyUsage(usage string) error { return &usageError{usage: usage} }

// replyError maps engine errors to a short channel reply. Internal failures
// are logged and answered generically.
func (b *Bot) replyError(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, err error) {
	var ue *usageError
	var reply string
	switch {
	case errors.As(err, &ue):
		reply = ue.Error()
	case errors.Is(err, race.ErrPermissionDenied):
		reply = "You don't have permission to do that."
	case race.IsValidation(err), race.IsOverlap(err), race.IsNotFound(err):
		reply = err.Error()
	default:
		telemetry.LoggerWithCorr(ctx).Error("command failed",
			slog.String("content", m.Content),
			slog.Any("err", err))
		reply = "Something went wrong; try again or ping a maintainer."
	}
	if _, sendErr := s.ChannelMessageSend(m.ChannelID, reply, discordgo.WithContext(ctx)); sendErr != nil {
		telemetry.LoggerWithCorr(ctx).Warn("failed to send error reply", slog.Any("err", sendErr))
	}
}

func (b *Bot) dm(ctx context.Context, userID, content string) {
	gw := NewGateway(b.session)
	if err := gw.DirectMessage(ctx, userID, content); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("failed to dm user", slog.Any("err", err))
	}
}
