package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/meshcall/meshcall/internal/logger"
	"github.com/meshcall/meshcall/internal/media"
	"github.com/meshcall/meshcall/internal/protocol"
	"github.com/meshcall/meshcall/internal/rtc"
	"github.com/meshcall/meshcall/internal/session"
	"github.com/meshcall/meshcall/internal/signaling"
)

var (
	serverURL   string
	displayName string
	stunServers []string
	noAudio     bool
	noVideo     bool
	verbose     bool
)

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a call room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]

		log := logger.NewLogger()
		if verbose {
			log = logger.NewDebugLogger()
		}

		local := protocol.Participant{
			ID:          uuid.NewString(),
			DisplayName: displayName,
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		channel, err := signaling.Dial(ctx, serverURL, log)
		if err != nil {
			return err
		}

		factory, err := rtc.NewFactory(stunServers, media.RegisterCodecs)
		if err != nil {
			return err
		}

		source := media.NewDeviceSource(media.DeviceOptions{
			Audio: !noAudio,
			Video: !noVideo,
		})

		sess := session.New(session.Config{
			Local:      local,
			Channel:    channel,
			Transports: factory,
			Media:      source,
			Renderer:   &logRenderer{logger: log},
			OnChat: func(chat protocol.Chat) {
				fmt.Printf("[%s] %s\n", chat.SenderName, chat.Text)
			},
			Logger: log,
		})

		if err := sess.Join(ctx, roomID); err != nil {
			return err
		}
		defer sess.Leave()

		go readCommands(ctx, sess, log)

		<-ctx.Done()
		return nil
	},
}

// readCommands turns stdin lines into chat, with a few slash commands.
func readCommands(ctx context.Context, sess *session.Session, log *logrus.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	audioOn, videoOn := true, true

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue

		case line == "/mute":
			audioOn = !audioOn
			if err := sess.SetTrackEnabled(media.TrackKindAudio, audioOn); err != nil {
				log.Warnf("toggling audio: %v", err)
			} else {
				log.Infof("microphone %s", onOff(audioOn))
			}

		case line == "/video":
			videoOn = !videoOn
			if err := sess.SetTrackEnabled(media.TrackKindVideo, videoOn); err != nil {
				log.Warnf("toggling video: %v", err)
			} else {
				log.Infof("camera %s", onOff(videoOn))
			}

		case line == "/peers":
			log.Infof("%d peers connected", sess.Peers())

		case line == "/leave":
			sess.Leave()
			return

		default:
			if err := sess.SendChat(ctx, line); err != nil {
				log.Warnf("sending chat: %v", err)
			}
		}
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// logRenderer is the headless stand-in for a video surface.
type logRenderer struct {
	logger *logrus.Logger
}

func (r *logRenderer) StreamAdded(p protocol.Participant, stream *rtc.RemoteStream) {
	r.logger.Infof("receiving media from %s (%s)", p.DisplayName, p.ID)
}

func (r *logRenderer) StreamRemoved(participantID string) {
	r.logger.Infof("media from %s ended", participantID)
}

func init() {
	joinCmd.Flags().StringVarP(&serverURL, "server", "s", "ws://localhost:5000/ws", "signaling server URL")
	joinCmd.Flags().StringVarP(&displayName, "name", "n", "anonymous", "display name shown to other participants")
	joinCmd.Flags().StringSliceVar(&stunServers, "stun", rtc.DefaultSTUNServers, "STUN server URLs")
	joinCmd.Flags().BoolVar(&noAudio, "no-audio", false, "join without a microphone")
	joinCmd.Flags().BoolVar(&noVideo, "no-video", false, "join without a camera")
	joinCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
