// Command goremoteplay is a thin CLI wrapper around the core library:
// discover(), register(), and Session::new(...).start()/stop()/standby()
// (spec.md section 6) are exposed as the discover/register/connect/standby
// subcommands below. None of the orchestration logic lives here; this file
// only parses flags, builds the core types, and wires signals to Stop.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ktnrg45/goremoteplay/internal/bigpayload"
	"github.com/ktnrg45/goremoteplay/internal/ddp"
	"github.com/ktnrg45/goremoteplay/internal/eventbus"
	"github.com/ktnrg45/goremoteplay/internal/media"
	"github.com/ktnrg45/goremoteplay/internal/profile"
	"github.com/ktnrg45/goremoteplay/internal/register"
	"github.com/ktnrg45/goremoteplay/internal/session"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "discover":
		err = runDiscover(os.Args[2:])
	case "register":
		err = runRegister(os.Args[2:])
	case "connect":
		err = runConnect(os.Args[2:])
	case "standby":
		err = runStandby(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "goremoteplay: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: goremoteplay <discover|register|connect|standby> [flags]")
}

func runDiscover(args []string) error {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	host := fs.String("host", "255.255.255.255", "broadcast or unicast address to probe")
	kind := fs.String("kind", "PS4", "console kind: PS4 or PS5")
	timeout := fs.Duration("timeout", 3*time.Second, "probe timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	port, ok := ddp.PortFor(profile.ConsoleKind(*kind))
	if !ok {
		return fmt.Errorf("unknown console kind %q", *kind)
	}

	statuses, err := ddp.Search(*host, port, *timeout)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(statuses)
}

func runRegister(args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	host := fs.String("host", "", "console address")
	kind := fs.String("kind", "PS4", "console kind: PS4 or PS5")
	psnID := fs.String("psn-id", "", "base64 PSN account id")
	pin := fs.Uint("pin", 0, "8-digit PIN shown on the console's registration screen")
	timeout := fs.Duration("timeout", 5*time.Second, "registration round-trip timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *host == "" || *psnID == "" {
		return fmt.Errorf("-host and -psn-id are required")
	}

	result, err := register.Register(*host, profile.ConsoleKind(*kind), *psnID, uint32(*pin), *timeout)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(result.Host)
}

func runConnect(args []string) error {
	fs := flag.NewFlagSet("connect", flag.ExitOnError)
	host := fs.String("host", "", "console address")
	kind := fs.String("kind", "PS4", "console kind: PS4 or PS5")
	registKey := fs.String("regist-key", "", "credential from a prior register")
	rpKey := fs.String("rp-key", "", "credential from a prior register")
	width := fs.Uint("width", 960, "requested video width")
	height := fs.Uint("height", 540, "requested video height")
	fps := fs.Uint("fps", 60, "requested max frame rate")
	bitrate := fs.Int("bitrate", 6000, "requested bitrate in kbps")
	videoOut := fs.String("video-out", "", "path to append raw video frame payloads to; empty discards them")
	audioOut := fs.String("audio-out", "", "path to append raw audio frame payloads to; empty discards them")
	telemetryAddr := fs.String("telemetry-addr", "", "loopback address to serve a SessionEvent WebSocket mirror on; empty disables it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *host == "" || *registKey == "" || *rpKey == "" {
		return fmt.Errorf("-host, -regist-key and -rp-key are required")
	}

	sink, closeSink, err := newFileSink(*videoOut, *audioOut)
	if err != nil {
		return err
	}
	defer closeSink()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hub *eventbus.Hub
	if *telemetryAddr != "" {
		hub = eventbus.NewHub()
		go hub.Run(ctx)
		srv := &http.Server{Addr: *telemetryAddr, Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := hub.ServeWS(w, r); err != nil {
				fmt.Fprintf(os.Stderr, "goremoteplay: telemetry subscriber error: %v\n", err)
			}
		})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "goremoteplay: telemetry listener failed: %v\n", err)
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	hostProfile := profile.HostProfile{
		Kind:      profile.ConsoleKind(*kind),
		RegistKey: *registKey,
		RPKey:     *rpKey,
	}

	sess := session.New(*host, profile.ConsoleKind(*kind), hostProfile, session.Options{
		Width:       uint32(*width),
		Height:      uint32(*height),
		MaxFPS:      uint32(*fps),
		BitrateKbps: *bitrate,
		Sink:        sink,
	}, session.Callbacks{
		StateChanged: func(st session.State) {
			fmt.Fprintf(os.Stderr, "goremoteplay: state -> %s\n", st)
			if hub != nil {
				hub.Publish(eventbus.NewStateChangedEvent(st.String()))
			}
		},
		AudioConfig: func(info bigpayload.StreamInfoPayload) {
			fmt.Fprintf(os.Stderr, "goremoteplay: audio config received (%d resolutions)\n", len(info.Resolution))
			if hub != nil {
				hub.Publish(eventbus.NewAudioConfigEvent(info.StartTimeout, info.AfkTimeout, info.AfkTimeoutDisconnect))
			}
		},
		Error: func(err error) {
			fmt.Fprintf(os.Stderr, "goremoteplay: session error: %v\n", err)
			if hub != nil {
				hub.Publish(eventbus.NewErrorEvent(err))
			}
		},
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "goremoteplay: shutting down...")
		sess.Stop()
		cancel()
	}()

	if err := sess.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return sess.Err()
}

func runStandby(args []string) error {
	fs := flag.NewFlagSet("standby", flag.ExitOnError)
	host := fs.String("host", "", "console address")
	kind := fs.String("kind", "PS4", "console kind: PS4 or PS5")
	registKey := fs.String("regist-key", "", "credential from a prior register")
	rpKey := fs.String("rp-key", "", "credential from a prior register")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *host == "" || *registKey == "" || *rpKey == "" {
		return fmt.Errorf("-host, -regist-key and -rp-key are required")
	}

	hostProfile := profile.HostProfile{Kind: profile.ConsoleKind(*kind), RegistKey: *registKey, RPKey: *rpKey}
	sess := session.New(*host, profile.ConsoleKind(*kind), hostProfile, session.Options{}, session.Callbacks{})

	// Generous enough to cover every stage's own internal timeout
	// (reachability, control, big-payload) with room to spare.
	ctx, cancel := context.WithTimeout(context.Background(), 4*session.ControlTimeout)
	defer cancel()
	if err := sess.Start(ctx); err != nil {
		return err
	}
	return sess.Standby()
}

// fileSink appends completed frame payloads to two files (or discards them
// when a path is empty), used only by the connect subcommand as a minimal
// media.FrameSink external to the core.
type fileSink struct {
	video, audio *os.File
}

func newFileSink(videoPath, audioPath string) (media.FrameSink, func(), error) {
	open := func(path string) (*os.File, error) {
		if path == "" {
			return nil, nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}

	video, err := open(videoPath)
	if err != nil {
		return nil, nil, err
	}
	audio, err := open(audioPath)
	if err != nil {
		if video != nil {
			video.Close()
		}
		return nil, nil, err
	}

	s := &fileSink{video: video, audio: audio}
	closeFn := func() {
		if s.video != nil {
			s.video.Close()
		}
		if s.audio != nil {
			s.audio.Close()
		}
	}
	return s, closeFn, nil
}

func (s *fileSink) AcceptVideo(frameIndex uint16, payload []byte) {
	if s.video != nil {
		s.video.Write(payload)
	}
}

func (s *fileSink) AcceptAudio(frameIndex uint16, payload []byte) {
	if s.audio != nil {
		s.audio.Write(payload)
	}
}
