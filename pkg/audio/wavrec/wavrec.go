// Package wavrec writes captured PCM as 16-bit WAV files.
//
// The [Recorder] writes one file per utterance through an [afero.Fs], so
// production code uses the OS filesystem and tests use an in-memory one.
// [Encode] produces a WAV image in memory for transports that upload audio.
package wavrec

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
	"github.com/spf13/afero/mem"

	"github.com/MrWong99/jarvis/pkg/audio"
)

const (
	bitDepth      = 16
	wavFormatPCM  = 1
	fileExtension = ".wav"
)

// Recorder saves utterances under a directory.
type Recorder struct {
	fs  afero.Fs
	dir string
}

// New returns a Recorder writing to dir on fs. The directory is created on
// the first Save.
func New(fs afero.Fs, dir string) *Recorder {
	return &Recorder{fs: fs, dir: dir}
}

// NewOS returns a Recorder on the host filesystem.
func NewOS(dir string) *Recorder {
	return New(afero.NewOsFs(), dir)
}

// Dir returns the directory recordings are written to.
func (r *Recorder) Dir() string { return r.dir }

// Save writes pcm as <id>.wav and returns the file path.
func (r *Recorder) Save(id string, pcm []byte, format audio.Format) (string, error) {
	if id == "" {
		return "", fmt.Errorf("wavrec: empty recording id")
	}
	if err := r.fs.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("wavrec: create %s: %w", r.dir, err)
	}
	path := filepath.Join(r.dir, id+fileExtension)
	f, err := r.fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return "", fmt.Errorf("wavrec: create %s: %w", path, err)
	}
	if err := write(f, pcm, format); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("wavrec: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("wavrec: close %s: %w", path, err)
	}
	return path, nil
}

// Encode returns pcm as a complete WAV file image.
func Encode(pcm []byte, format audio.Format) ([]byte, error) {
	f := mem.NewFileHandle(mem.CreateFile("utterance" + fileExtension))
	if err := write(f, pcm, format); err != nil {
		return nil, fmt.Errorf("wavrec: encode: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("wavrec: encode: %w", err)
	}
	return io.ReadAll(f)
}

func write(ws io.WriteSeeker, pcm []byte, format audio.Format) error {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return fmt.Errorf("invalid format %s", format)
	}
	enc := wav.NewEncoder(ws, format.SampleRate, bitDepth, format.Channels, wavFormatPCM)
	samples := audio.Int16s(pcm)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}
