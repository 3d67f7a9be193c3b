// livecap streams an audio file to a running twinscribed daemon and prints
// the transcript as it arrives: previews overwrite the current line, finals
// commit it.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/twinscribe/twinscribe/internal/audio"
)

type controlFrame struct {
	Op         string `json:"op"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

type wireSegment struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	WindowID   uint64  `json:"window_id"`
	StartMS    int64   `json:"start_ms"`
	EndMS      int64   `json:"end_ms"`
	Confidence float64 `json:"confidence"`
}

type wireRecording struct {
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Checksum string `json:"checksum"`
}

type serverEvent struct {
	Event     string         `json:"event"`
	SessionID string         `json:"session_id"`
	Segment   *wireSegment   `json:"segment"`
	Segments  []wireSegment  `json:"segments"`
	Recording *wireRecording `json:"recording"`
	Error     string         `json:"error"`
}

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:8080", "twinscribed address")
		input    = flag.String("in", "-", "audio to stream, WAV or raw 16-bit PCM; - reads stdin")
		rate     = flag.Int("rate", audio.DefaultSampleRate, "sample rate for raw PCM input")
		channels = flag.Int("channels", audio.DefaultChannels, "channel count for raw PCM input")
		realtime = flag.Bool("realtime", true, "pace the stream at capture speed")
	)
	flag.Parse()

	pcm, format, err := loadAudio(*input, *rate, *channels)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livecap: %v\n", err)
		os.Exit(1)
	}
	if len(pcm) == 0 {
		fmt.Fprintln(os.Stderr, "livecap: no audio to stream")
		os.Exit(2)
	}

	conn, resp, err := gws.DefaultDialer.Dial("ws://"+*addr+"/v1/live", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livecap: dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	start := controlFrame{Op: "start", SampleRate: format.SampleRate, Channels: format.Channels}
	if err := conn.WriteJSON(start); err != nil {
		fmt.Fprintf(os.Stderr, "livecap: send start: %v\n", err)
		os.Exit(1)
	}

	done := make(chan int, 1)
	go printEvents(conn, done)

	chunkDur := 100 * time.Millisecond
	chunk := format.Bytes(chunkDur)
	for off := 0; off < len(pcm); off += chunk {
		end := off + chunk
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.WriteMessage(gws.BinaryMessage, pcm[off:end]); err != nil {
			// The server ended the session early; its last event says why.
			break
		}
		if *realtime {
			time.Sleep(chunkDur)
		}
	}
	if err := conn.WriteJSON(controlFrame{Op: "stop"}); err != nil {
		fmt.Fprintf(os.Stderr, "livecap: send stop: %v\n", err)
	}

	os.Exit(<-done)
}

// loadAudio reads the input and autodetects WAV by its magic. Raw PCM uses
// the format flags as-is.
func loadAudio(path string, rate, channels int) ([]byte, audio.Format, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, audio.Format{}, err
	}

	if len(raw) >= 4 && string(raw[0:4]) == "RIFF" {
		format, pcm, err := audio.ParseWAV(raw)
		if err != nil {
			return nil, audio.Format{}, err
		}
		fmt.Fprintf(os.Stderr, "livecap: WAV input, %d Hz, %d channel(s)\n", format.SampleRate, format.Channels)
		return pcm, format, nil
	}
	return raw, audio.Format{SampleRate: rate, Channels: channels}, nil
}

func printEvents(conn *gws.Conn, done chan<- int) {
	previewShown := false
	clearPreview := func() {
		if previewShown {
			fmt.Print("\r\x1b[2K")
			previewShown = false
		}
	}

	for {
		var ev serverEvent
		if err := conn.ReadJSON(&ev); err != nil {
			clearPreview()
			fmt.Fprintf(os.Stderr, "livecap: connection closed: %v\n", err)
			done <- 1
			return
		}
		switch ev.Event {
		case "started":
			fmt.Fprintf(os.Stderr, "livecap: session %s started\n", ev.SessionID)
		case "segment":
			if ev.Segment == nil {
				continue
			}
			clearPreview()
			if ev.Segment.IsFinal {
				fmt.Printf("[%6.2fs] %s\n", float64(ev.Segment.StartMS)/1000, ev.Segment.Text)
			} else {
				fmt.Printf("~ %s", ev.Segment.Text)
				previewShown = true
			}
		case "complete":
			clearPreview()
			fmt.Fprintf(os.Stderr, "livecap: %d segment(s)", len(ev.Segments))
			if ev.Recording != nil {
				fmt.Fprintf(os.Stderr, ", recording %s (%d bytes)", ev.Recording.Path, ev.Recording.Bytes)
			}
			fmt.Fprintln(os.Stderr)
			done <- 0
			return
		case "error":
			clearPreview()
			fmt.Fprintf(os.Stderr, "livecap: session error: %s\n", ev.Error)
			done <- 1
			return
		}
	}
}
