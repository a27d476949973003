package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/jarvis/internal/command"
	"github.com/MrWong99/jarvis/internal/skill"
)

// errNoSpotify is returned by music commands when no spotify skill is
// configured.
var errNoSpotify = errors.New("spotify skill is not configured")

// Volume levels for the volume commands.
const (
	volumeHigh   = 90
	volumeMedium = 60
	volumeLow    = 30
)

// DefaultCommands builds the production command table. Registration order
// is match priority. spotify may be nil, in which case music commands fail
// with an apology.
func DefaultCommands(spotify *skill.Spotify) (*command.Registry, error) {
	var (
		req   = command.Required
		oneOf = command.AnyOf
		music = oneOf("music", "song")
		vol   = oneOf("volume", "sound")
	)

	// reg is assigned after Build so the listing reflects the final table.
	var reg *command.Registry
	listing := func(context.Context, []string) (command.Output, error) {
		lines := make([]string, 0, reg.Len())
		for _, c := range reg.Commands() {
			lines = append(lines, fmt.Sprintf("- %s: %s", c, c.Description))
		}
		return command.Text(strings.Join(lines, "\n")), nil
	}

	b := command.NewBuilder().
		Register([]command.Term{oneOf("hello", "hi")}, text("Hello!"), "Hello world!", false).
		Register([]command.Term{req("play"), req("music")}, withSpotify(spotify, func(ctx context.Context, s *skill.Spotify, args []string) (command.SkillResponse, error) {
			return s.PlaySong(ctx, strings.Join(args, " "))
		}), "Play a song on spotify", true).
		Register([]command.Term{req("play"), req("playlist")}, withSpotify(spotify, func(ctx context.Context, s *skill.Spotify, args []string) (command.SkillResponse, error) {
			return s.PlayPlaylist(ctx, strings.Join(args, " "))
		}), "Play a playlist on spotify", true).
		Register([]command.Term{oneOf("stop", "pause"), music}, withSpotify(spotify, func(ctx context.Context, s *skill.Spotify, _ []string) (command.SkillResponse, error) {
			return s.Stop(ctx)
		}), "Stop playback on spotify", true).
		Register([]command.Term{oneOf("next", "skip"), music}, withSpotify(spotify, func(ctx context.Context, s *skill.Spotify, _ []string) (command.SkillResponse, error) {
			return s.Next(ctx)
		}), "Skip playback on spotify", true).
		Register([]command.Term{oneOf("continue", "unpause", "resume"), music}, withSpotify(spotify, func(ctx context.Context, s *skill.Spotify, _ []string) (command.SkillResponse, error) {
			return s.Unpause(ctx)
		}), "Resume playback on spotify", true).
		Register([]command.Term{oneOf("shuffle", "change"), music}, withSpotify(spotify, func(ctx context.Context, s *skill.Spotify, _ []string) (command.SkillResponse, error) {
			return s.ToggleShuffle(ctx)
		}), "Toggle shuffle on spotify", true).
		Register([]command.Term{vol, oneOf("high", "max")}, setVolume(spotify, volumeHigh), "Set maximum volume on spotify", true).
		Register([]command.Term{vol, oneOf("medium", "normal")}, setVolume(spotify, volumeMedium), "Set normal volume on spotify", true).
		Register([]command.Term{vol, req("low")}, setVolume(spotify, volumeLow), "Set low volume on spotify", true).
		Register([]command.Term{oneOf("date", "dates")}, today, "Today's date", false).
		Register([]command.Term{oneOf("list", "lists", "tell"), oneOf("commands", "command")}, listing, "List commands", false)

	reg, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("app: build commands: %w", err)
	}
	return reg, nil
}

func text(s string) command.Handler {
	return func(context.Context, []string) (command.Output, error) {
		return command.Text(s), nil
	}
}

func today(context.Context, []string) (command.Output, error) {
	return command.Text("Today is " + time.Now().Format(time.DateOnly)), nil
}

func withSpotify(s *skill.Spotify, call func(context.Context, *skill.Spotify, []string) (command.SkillResponse, error)) command.Handler {
	return func(ctx context.Context, args []string) (command.Output, error) {
		if s == nil {
			return nil, errNoSpotify
		}
		resp, err := call(ctx, s, args)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
}

func setVolume(s *skill.Spotify, level int) command.Handler {
	return withSpotify(s, func(ctx context.Context, s *skill.Spotify, _ []string) (command.SkillResponse, error) {
		return s.SetVolume(ctx, level)
	})
}
