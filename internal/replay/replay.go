// Package replay persists the relayed traffic of finished games as
// lz4-compressed JSON lines. Writing happens on its own goroutine.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

// FileExt is appended to every replay file name.
const FileExt = ".jsonl.lz4"

// ErrQueueFull is returned when the writer cannot accept more replays.
var ErrQueueFull = errors.New("replay queue full")

// Header describes a finished game.
type Header struct {
	GameID    int       `json:"game_id"`
	Name      string    `json:"name"`
	Scenario  string    `json:"scenario,omitempty"`
	Era       string    `json:"era,omitempty"`
	Players   []string  `json:"players"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Replay is a header plus the relayed frames in order.
type Replay struct {
	Header Header
	Frames []*proto.Node
}

// Writer saves replays under a directory.
type Writer struct {
	dir   string
	queue chan *Replay
	log   *zerolog.Logger
}

// NewWriter creates a writer with a bounded queue.
func NewWriter(dir string, queueSize int, logger *zerolog.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Writer{
		dir:   dir,
		queue: make(chan *Replay, queueSize),
		log:   logger,
	}
}

// Save queues r for writing without blocking.
func (w *Writer) Save(r *Replay) error {
	select {
	case w.queue <- r:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run writes queued replays until ctx is done, then drains what is left.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case r := <-w.queue:
			w.write(r)
		case <-ctx.Done():
			for {
				select {
				case r := <-w.queue:
					w.write(r)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(r *Replay) {
	path, err := WriteFile(w.dir, r)
	if err != nil {
		w.log.Error().Err(err).Int("game_id", r.Header.GameID).Msg("failed to save replay")
		return
	}
	w.log.Info().Int("game_id", r.Header.GameID).Str("path", path).Int("frames", len(r.Frames)).Msg("replay saved")
}

// WriteFile writes r into dir and returns the file path.
func WriteFile(dir string, r *Replay) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create replay dir: %w", err)
	}

	name := fmt.Sprintf("%s-%d-%s%s",
		r.Header.EndedAt.UTC().Format("20060102T150405"),
		r.Header.GameID,
		strings.SplitN(uuid.NewString(), "-", 2)[0],
		FileExt,
	)
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create replay file: %w", err)
	}

	if err := encode(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close replay file: %w", err)
	}
	return path, nil
}

func encode(dst io.Writer, r *Replay) error {
	zw := lz4.NewWriter(dst)
	enc := json.NewEncoder(zw)
	if err := enc.Encode(r.Header); err != nil {
		return fmt.Errorf("encode replay header: %w", err)
	}
	for _, frame := range r.Frames {
		if err := enc.Encode(frame); err != nil {
			return fmt.Errorf("encode replay frame: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush replay: %w", err)
	}
	return nil
}

// ReadFile loads a replay written by WriteFile.
func ReadFile(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(lz4.NewReader(f))
	scanner.Buffer(make([]byte, 64*1024), 16<<20)

	var r Replay
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read replay header: %w", err)
		}
		return nil, fmt.Errorf("read replay header: %w", io.ErrUnexpectedEOF)
	}
	if err := json.Unmarshal(scanner.Bytes(), &r.Header); err != nil {
		return nil, fmt.Errorf("decode replay header: %w", err)
	}
	for scanner.Scan() {
		frame, err := proto.Decode(scanner.Bytes())
		if err != nil {
			return nil, err
		}
		r.Frames = append(r.Frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay frames: %w", err)
	}
	return &r, nil
}
