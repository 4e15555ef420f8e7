package syncq

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Command is a mutating API call recorded while the server was unreachable.
type Command struct {
	Method         string         `msgpack:"method"`
	Path           string         `msgpack:"path"`
	Body           map[string]any `msgpack:"body,omitempty"`
	IdempotencyKey string         `msgpack:"idempotency_key"`
	QueuedAt       time.Time      `msgpack:"queued_at"`
}

// NewCommand stamps a command with a fresh idempotency key so replays are
// applied at most once.
func NewCommand(method, path string, body map[string]any) Command {
	return Command{
		Method:         method,
		Path:           path,
		Body:           body,
		IdempotencyKey: uuid.NewString(),
		QueuedAt:       time.Now().UTC(),
	}
}

// ErrAlreadyApplied is returned by a replay func when the server has already
// seen the command's idempotency key.
var ErrAlreadyApplied = errors.New("already applied")

type Queue struct {
	path string
}

// Open returns the queue stored under dir, or ~/.kmfx when dir is empty.
func Open(dir string) (*Queue, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".kmfx")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Queue{path: filepath.Join(dir, "queue.msgpack")}, nil
}

func (q *Queue) Load() ([]Command, error) {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := msgpack.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queue) Save(commands []Command) error {
	raw, err := msgpack.Marshal(commands)
	if err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}

func (q *Queue) Push(cmd Command) error {
	commands, err := q.Load()
	if err != nil {
		return err
	}
	commands = append(commands, cmd)
	return q.Save(commands)
}

type DrainResult struct {
	Applied   int
	Skipped   int
	Remaining int
}

// Drain replays queued commands in order. It stops at the first failure and
// keeps that command and everything after it for the next attempt.
func (q *Queue) Drain(ctx context.Context, replay func(context.Context, Command) error) (DrainResult, error) {
	var res DrainResult
	commands, err := q.Load()
	if err != nil {
		return res, err
	}
	for i, cmd := range commands {
		err := replay(ctx, cmd)
		switch {
		case err == nil:
			res.Applied++
		case errors.Is(err, ErrAlreadyApplied):
			res.Skipped++
		default:
			rest := commands[i:]
			res.Remaining = len(rest)
			if saveErr := q.Save(rest); saveErr != nil {
				return res, saveErr
			}
			return res, err
		}
	}
	return res, q.Save([]Command{})
}
