// Command streamclient runs the client side of one streaming session:
// it performs the signaling handshake, opens the UDP media socket and
// auxiliary TCP socket it was handed, and drives a renderdrv.Driver per
// stream off the resulting ring buffers. Actual pixel/audio output and
// decode are platform-specific (spec.md's explicit Non-goals) and are
// supplied by the embedder through pkg/iface; this binary exercises
// everything up to "frame ready to present."
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streamcore/streamcore/pkg/alloc"
	"github.com/streamcore/streamcore/pkg/config"
	"github.com/streamcore/streamcore/pkg/crypto"
	"github.com/streamcore/streamcore/pkg/errmon"
	"github.com/streamcore/streamcore/pkg/logging"
	"github.com/streamcore/streamcore/pkg/renderdrv"
	"github.com/streamcore/streamcore/pkg/ring"
	"github.com/streamcore/streamcore/pkg/signaling"
	"github.com/streamcore/streamcore/pkg/tcpsock"
	"github.com/streamcore/streamcore/pkg/throttle"
	"github.com/streamcore/streamcore/pkg/udpsock"
	"github.com/streamcore/streamcore/pkg/wire"
)

const version = "streamcore/0.1.0"

// ringSlots is how many frames each stream's reassembly ring holds; a
// frame arriving for a slot that still holds an unrendered frame resets
// the whole ring.
const ringSlots = 8

func main() {
	os.Exit(run())
}

func run() int {
	server := flag.String("server", "", "ws://host:port/handshake address of the streamserver to connect to")
	privateKeyHex := flag.String("private-key", "", "16-byte pre-shared AES key, hex-encoded (32 hex chars); falls back to a compiled default for local testing")
	name := flag.String("name", "player", "display name advertised during the handshake")
	environment := flag.String("environment", string(config.EnvDevelopment), "development | staging | production")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return 0
	}
	if *server == "" {
		fmt.Fprintln(os.Stderr, "streamclient: --server is required")
		return 1
	}

	key, err := resolveKey(*privateKeyHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "streamclient: %v\n", err)
		return 1
	}

	log := logging.New("streamclient", os.Stderr, logging.LevelInfo)
	mon := errmon.New(log, func(r errmon.Report) {
		log.Errorf("fatal error (%s): %v", r.Kind, r.Err)
		os.Exit(1)
	})

	crypt, err := crypto.NewContext(key)
	if err != nil {
		log.Errorf("building crypto context: %v", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	info, err := signaling.Dial(ctx, *server, *name, crypt)
	cancel()
	if err != nil {
		log.Errorf("handshake: %v", err)
		return 1
	}
	log.Infof("joined session %s as %s (peer %s), environment=%s", info.SessionID, info.Role, info.PeerID, config.Environment(*environment))

	parsedServer, err := url.Parse(*server)
	if err != nil {
		log.Errorf("parsing --server: %v", err)
		return 1
	}
	serverHost := parsedServer.Hostname()

	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(serverHost, fmt.Sprint(info.UDPPort)))
	if err != nil {
		log.Errorf("resolving udp address: %v", err)
		return 1
	}
	udpConn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		log.Errorf("dialing udp: %v", err)
		return 1
	}
	defer udpConn.Close()

	tcpConn, err := net.Dial("tcp", net.JoinHostPort(serverHost, fmt.Sprint(info.TCPPort)))
	if err != nil {
		log.Errorf("dialing aux tcp: %v", err)
		return 1
	}
	defer tcpConn.Close()
	aux := tcpsock.New(tcpConn, crypt, log, mon)

	pool := alloc.NewPool()
	videoBuf := ring.NewBuffer(wire.StreamVideo, ringSlots, pool)
	audioBuf := ring.NewBuffer(wire.StreamAudio, ringSlots, pool)
	buffers := map[wire.StreamType]*ring.Buffer{
		wire.StreamVideo: videoBuf,
		wire.StreamAudio: audioBuf,
	}

	thr := throttle.New(throttle.Limits{BitrateBps: 8_000_000, BurstBitrateBps: 16_000_000})
	media := udpsock.New(udpConn, udpAddr, crypt, thr, buffers, log, mon)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go media.RecvLoop(runCtx)
	go aux.SenderLoop(runCtx)
	go func() {
		if err := aux.RecvLoop(runCtx); err != nil && runCtx.Err() == nil {
			log.Warnf("aux recv loop ended: %v", err)
		}
	}()

	videoDriver := renderdrv.New(videoBuf,
		func(frameID uint32, payload []byte) error {
			log.Debugf("video frame %d ready, %d bytes (decode/present is the embedder's job)", frameID, len(payload))
			return nil
		},
		func() { log.Debugf("requesting video recovery") },
		func(msg wire.StreamReset) error { return media.SendMessage(runCtx, wire.Message{Kind: wire.MsgStreamReset, Body: msg}) },
		true, log)

	audioDriver := renderdrv.New(audioBuf,
		func(frameID uint32, payload []byte) error {
			log.Debugf("audio frame %d ready, %d bytes (decode/present is the embedder's job)", frameID, len(payload))
			return nil
		},
		nil,
		func(msg wire.StreamReset) error { return media.SendMessage(runCtx, wire.Message{Kind: wire.MsgStreamReset, Body: msg}) },
		false, log)

	go renderLoop(runCtx, videoDriver, 2*time.Millisecond)
	go renderLoop(runCtx, audioDriver, 2*time.Millisecond)

	go keepalive(runCtx, media, aux, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Infof("shutting down")
	runCancel()
	return 0
}

// renderLoop calls TryRender on a timer, standing in for a display's
// vsync callback (spec.md §4.8's "internal helper thread" fallback).
func renderLoop(ctx context.Context, d *renderdrv.Driver, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.TryRender(); err != nil {
				return
			}
		}
	}
}

// keepalive sends periodic pings on both sockets so the server's
// missed-pong timers don't declare this peer's connection lost.
func keepalive(ctx context.Context, media *udpsock.Socket, aux *tcpsock.Socket, log *logging.Logger) {
	ticker := time.NewTicker(tcpsock.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := media.SendPing(ctx); err != nil && log != nil {
				log.Warnf("udp ping: %v", err)
			}
			if err := aux.SendPing(); err != nil && log != nil {
				log.Warnf("tcp ping: %v", err)
			}
		}
	}
}

// resolveKey decodes a hex-encoded 16-byte AES key, or falls back to a
// compiled (all-zero) default for local testing only, matching
// spec.md §6's "Environment" note.
func resolveKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		return make([]byte, 16), nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding --private-key: %w", err)
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("--private-key must decode to 16 bytes, got %d", len(key))
	}
	return key, nil
}
