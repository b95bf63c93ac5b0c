package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	voicemodel "github.com/zhouzirui/rev-voice/backend/internal/model/voice"
)

type turnOptions struct {
	url            string
	audio          []byte
	mimeType       string
	chunkSize      int
	interruptAfter time.Duration
	outPath        string
}

func newTurnCmd(opts *globalOptions) *cobra.Command {
	var (
		audioPath      string
		mimeType       string
		chunkSize      int
		interruptAfter time.Duration
		outPath        string
	)

	cmd := &cobra.Command{
		Use:   "turn",
		Short: "Send an audio file as one utterance and print the server events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(audioPath)
			if err != nil {
				return fmt.Errorf("read audio: %w", err)
			}
			if mimeType == "" {
				mimeType = mime.TypeByExtension(filepath.Ext(audioPath))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			return runTurn(ctx, turnOptions{
				url:            websocketURL(opts.server),
				audio:          data,
				mimeType:       mimeType,
				chunkSize:      chunkSize,
				interruptAfter: interruptAfter,
				outPath:        outPath,
			}, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&audioPath, "audio", "", "Audio file to send")
	cmd.Flags().StringVar(&mimeType, "mime", "", "Audio mime type (default: from file extension)")
	cmd.Flags().IntVar(&chunkSize, "chunk", 16<<10, "Fragment size in bytes")
	cmd.Flags().DurationVar(&interruptAfter, "interrupt-after", 0, "Interrupt playback this long after the reply arrives")
	cmd.Flags().StringVar(&outPath, "out", "", "Write the reply audio to this file")
	_ = cmd.MarkFlagRequired("audio")

	return cmd
}

type serverEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

func runTurn(ctx context.Context, opts turnOptions, out io.Writer) error {
	if len(opts.audio) == 0 {
		return errors.New("audio is empty")
	}
	if opts.chunkSize <= 0 {
		opts.chunkSize = 16 << 10
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, opts.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	send := func(eventType, sessionID string, data any) error {
		frame := map[string]any{
			"type":      eventType,
			"sessionId": sessionID,
			"timestamp": time.Now().UnixMilli(),
		}
		if data != nil {
			frame["data"] = data
		}
		return conn.WriteJSON(frame)
	}

	if err := send(voicemodel.TypeStartSession, "", nil); err != nil {
		return err
	}
	ready, err := readEvent(conn, out)
	if err != nil {
		return err
	}
	if ready.Type != voicemodel.TypeSessionReady {
		return fmt.Errorf("expected %s, got %s", voicemodel.TypeSessionReady, ready.Type)
	}
	sessionID := ready.SessionID

	for start := 0; start < len(opts.audio); start += opts.chunkSize {
		end := min(start+opts.chunkSize, len(opts.audio))
		fragment := voicemodel.AudioFragment{Audio: opts.audio[start:end], MimeType: opts.mimeType}
		if err := send(voicemodel.TypeAudioFragment, sessionID, fragment); err != nil {
			return err
		}
	}
	if err := send(voicemodel.TypeEndAudio, sessionID, nil); err != nil {
		return err
	}

	for {
		ev, err := readEvent(conn, out)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		switch ev.Type {
		case voicemodel.TypeAudioResponse:
			var reply voicemodel.AudioResponse
			if err := json.Unmarshal(ev.Data, &reply); err != nil {
				return fmt.Errorf("decode audio-response: %w", err)
			}
			fmt.Fprintf(out, "  reply: %q (%d bytes %s, %dms)\n", reply.Text, len(reply.Audio), reply.MimeType, reply.DurationMs)
			if opts.outPath != "" {
				if err := os.WriteFile(opts.outPath, reply.Audio, 0o644); err != nil {
					return fmt.Errorf("write reply audio: %w", err)
				}
			}
			if opts.interruptAfter > 0 {
				time.Sleep(opts.interruptAfter)
				if err := send(voicemodel.TypeInterrupt, sessionID, nil); err != nil {
					return err
				}
			}
		case voicemodel.TypeTurnComplete, voicemodel.TypeInterrupted:
			return send(voicemodel.TypeDisconnect, sessionID, nil)
		case voicemodel.TypeError:
			var payload voicemodel.Error
			_ = json.Unmarshal(ev.Data, &payload)
			return fmt.Errorf("server error %s: %s", payload.Kind, payload.Message)
		case voicemodel.TypeSessionClosed:
			return errors.New("session closed by server")
		}
	}
}

func readEvent(conn *websocket.Conn, out io.Writer) (serverEvent, error) {
	var ev serverEvent
	if err := conn.ReadJSON(&ev); err != nil {
		return ev, fmt.Errorf("read event: %w", err)
	}
	summary := string(ev.Data)
	if ev.Type == voicemodel.TypeAudioResponse || len(summary) > 120 {
		summary = strings.TrimSpace(summary[:min(len(summary), 60)]) + "..."
	}
	fmt.Fprintf(out, "<- %s %s\n", ev.Type, summary)
	return ev, nil
}
