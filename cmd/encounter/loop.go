package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/chiwar/encounter/internal/dispatcher"
	"github.com/chiwar/encounter/internal/logging"
	"github.com/chiwar/encounter/pkg/core"
	"github.com/chiwar/encounter/pkg/streaming"
)

const maxCommandBytes = 4 << 20

// Error codes reported in streaming.Result.Code.
const (
	CodeNotFound            = "not_found"
	CodeCommitFailure       = "commit_failure"
	CodeConstraintViolation = "constraint_violation"
	CodeInvalid             = "invalid"
	CodeFightEnded          = "fight_ended"
	CodeUnknownCommand      = "unknown_command"
	CodeCanceled            = "canceled"
	CodeInternal            = "internal"
)

// errorCode maps a handler error onto its wire code. A rollback caused by
// cancellation or a deadline reports canceled rather than commit_failure.
func errorCode(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	case errors.Is(err, core.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, core.ErrConstraintViolation):
		return CodeConstraintViolation
	case errors.Is(err, core.ErrInvalid):
		return CodeInvalid
	case errors.Is(err, core.ErrFightEnded):
		return CodeFightEnded
	case errors.Is(err, core.ErrCommitFailure):
		return CodeCommitFailure
	case errors.Is(err, dispatcher.ErrUnknownCommand):
		return CodeUnknownCommand
	default:
		return CodeInternal
	}
}

// serve reads one JSON command per line from in, dispatches it and writes
// one JSON result per line to out, in input order. It returns when in is
// exhausted or ctx is done.
func serve(ctx context.Context, in io.Reader, out io.Writer, d *dispatcher.Dispatcher, logger *slog.Logger) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxCommandBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("reading commands: %w", err)
					}
				default:
				}
				return nil
			}
			if len(line) == 0 {
				continue
			}
			if err := enc.Encode(handleLine(ctx, d, logger, line)); err != nil {
				return fmt.Errorf("writing result: %w", err)
			}
		}
	}
}

func handleLine(ctx context.Context, d *dispatcher.Dispatcher, logger *slog.Logger, line []byte) streaming.Result {
	var cmd streaming.Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		logger.Warn("Rejecting unreadable command", "bytes", len(line), "error", err)
		return streaming.Result{OK: false, Error: fmt.Sprintf("decode command: %v", err), Code: CodeInvalid}
	}

	ctx = logging.ContextWithAttrs(ctx, slog.String("command", cmd.Command), slog.String("command_id", cmd.ID))
	result, err := d.Dispatch(ctx, dispatcher.Event{
		ID:      cmd.ID,
		Command: cmd.Command,
		Payload: cmd.Payload,
	})
	if err != nil {
		logger.DebugContext(ctx, "Command failed", "error", err)
		return streaming.Result{ID: cmd.ID, OK: false, Error: err.Error(), Code: errorCode(err)}
	}
	return streaming.Result{ID: cmd.ID, OK: true, Result: result}
}
