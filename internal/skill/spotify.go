package skill

import (
	"context"

	"github.com/MrWong99/jarvis/internal/command"
)

// Music playback methods of the Spotify skill service.
const (
	MethodPlaySong      = "play_song"
	MethodPlayPlaylist  = "play_playlist"
	MethodStop          = "stop"
	MethodNext          = "next"
	MethodUnpause       = "unpause"
	MethodToggleShuffle = "toggle_shuffle"
	MethodSetVolume     = "set_volume"
)

type nameRequest struct {
	Name string `json:"name"`
}

type volumeRequest struct {
	Level int `json:"level"`
}

type empty struct{}

// Spotify is the music playback skill.
type Spotify struct {
	client *Client
}

// NewSpotify wraps a client for the Spotify skill service.
func NewSpotify(c *Client) *Spotify {
	return &Spotify{client: c}
}

// Client returns the underlying skill client.
func (s *Spotify) Client() *Client { return s.client }

// PlaySong starts playing the song called name.
func (s *Spotify) PlaySong(ctx context.Context, name string) (command.SkillResponse, error) {
	return s.client.Call(ctx, MethodPlaySong, nameRequest{Name: name})
}

// PlayPlaylist starts playing the playlist called name.
func (s *Spotify) PlayPlaylist(ctx context.Context, name string) (command.SkillResponse, error) {
	return s.client.Call(ctx, MethodPlayPlaylist, nameRequest{Name: name})
}

// Stop pauses playback.
func (s *Spotify) Stop(ctx context.Context) (command.SkillResponse, error) {
	return s.client.Call(ctx, MethodStop, empty{})
}

// Next skips to the next track.
func (s *Spotify) Next(ctx context.Context) (command.SkillResponse, error) {
	return s.client.Call(ctx, MethodNext, empty{})
}

// Unpause resumes playback.
func (s *Spotify) Unpause(ctx context.Context) (command.SkillResponse, error) {
	return s.client.Call(ctx, MethodUnpause, empty{})
}

// ToggleShuffle flips shuffle mode.
func (s *Spotify) ToggleShuffle(ctx context.Context) (command.SkillResponse, error) {
	return s.client.Call(ctx, MethodToggleShuffle, empty{})
}

// SetVolume sets the playback volume in percent.
func (s *Spotify) SetVolume(ctx context.Context, level int) (command.SkillResponse, error) {
	return s.client.Call(ctx, MethodSetVolume, volumeRequest{Level: level})
}
