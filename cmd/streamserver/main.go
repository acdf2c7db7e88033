// Command streamserver runs the server side of one streaming session:
// it binds the UDP media port and the auxiliary TCP port, serves the
// signaling handshake that advertises both, runs a tcpsock.Socket for
// each auxiliary TCP connection, and optionally serves metrics, until
// SIGINT or SIGTERM. It does not read the UDP socket, and it builds no
// ring buffers, NACK engine, congestion controller or encoder driver;
// capture and encoding are platform-specific and supplied by an
// embedder through pkg/iface.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streamcore/streamcore/pkg/config"
	"github.com/streamcore/streamcore/pkg/crypto"
	"github.com/streamcore/streamcore/pkg/errmon"
	"github.com/streamcore/streamcore/pkg/logging"
	"github.com/streamcore/streamcore/pkg/metrics"
	"github.com/streamcore/streamcore/pkg/session"
	"github.com/streamcore/streamcore/pkg/signaling"
	"github.com/streamcore/streamcore/pkg/sysmon"
	"github.com/streamcore/streamcore/pkg/tcpsock"
)

const version = "streamcore/0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	privateKeyHex := flag.String("private-key", "", "16-byte pre-shared AES key, hex-encoded (32 hex chars); falls back to a compiled default for local testing")
	identifier := flag.String("identifier", "", "opaque session/pairing identifier exchanged during signaling")
	environment := flag.String("environment", string(config.EnvDevelopment), "development | staging | production")
	webserver := flag.String("webserver", "", "signaling/discovery server URL this instance advertises")
	configPath := flag.String("config", "", "path to a JSON configuration file, overlaid on defaults")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return 0
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "streamserver: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if *identifier != "" {
		cfg.Identifier = *identifier
	}
	if *environment != "" {
		cfg.Environment = config.Environment(*environment)
	}
	if *webserver != "" {
		cfg.Webserver = *webserver
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "streamserver: %v\n", err)
		return 1
	}

	key, err := resolveKey(*privateKeyHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "streamserver: %v\n", err)
		return 1
	}

	log := logging.New("streamserver", os.Stderr, logging.LevelInfo)
	mon := errmon.New(log, func(r errmon.Report) {
		log.Errorf("fatal error (%s): %v", r.Kind, r.Err)
		os.Exit(1)
	})

	crypt, err := crypto.NewContext(key)
	if err != nil {
		log.Errorf("building crypto context: %v", err)
		return 1
	}

	host, _, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		host = ""
	}

	udpConn, udpPort, err := listenUDP(cfg.ListenAddr)
	if err != nil {
		log.Errorf("listening UDP: %v", err)
		return 1
	}
	defer udpConn.Close()

	tcpListener, tcpPort, err := listenTCP(net.JoinHostPort(host, "0"))
	if err != nil {
		log.Errorf("listening TCP: %v", err)
		return 1
	}
	defer tcpListener.Close()

	signalingListener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Errorf("listening for signaling: %v", err)
		return 1
	}
	defer signalingListener.Close()

	mgr := session.NewManager(cfg.MaxPlayers)
	sig := signaling.New(crypt, mgr, udpPort, tcpPort, log)

	mux := http.NewServeMux()
	mux.Handle("/handshake", sig)

	metricsReg := metrics.New()
	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsReg.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, metricsMux); err != nil {
				log.Warnf("metrics server stopped: %v", err)
			}
		}()
	}

	sysMon := sysmon.New(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sysMon.Run(ctx)

	go func() {
		if err := http.Serve(newContextListener(ctx, signalingListener), mux); err != nil {
			log.Warnf("signaling server stopped: %v", err)
		}
	}()

	go acceptAuxConnections(ctx, tcpListener, crypt, mon, log)

	log.Infof("streamserver %s listening on %s (signaling+udp), aux tcp on port %d, identifier=%q, environment=%s",
		version, cfg.ListenAddr, tcpPort, cfg.Identifier, cfg.Environment)
	if cfg.Webserver != "" {
		log.Infof("advertising via webserver %s", cfg.Webserver)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Infof("shutting down, %d error kinds recorded", len(mon.Snapshot()))
	cancel()
	mgr.CloseAll()
	return 0
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

func listenUDP(addr string) (*net.UDPConn, int, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, 0, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, 0, err
	}
	return conn, conn.LocalAddr().(*net.UDPAddr).Port, nil
}

func listenTCP(addr string) (net.Listener, int, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, 0, err
	}
	return ln, ln.Addr().(*net.TCPAddr).Port, nil
}

// acceptAuxConnections wraps each inbound auxiliary TCP connection
// (the control/clipboard association a peer opens after the UDP media
// socket is up, per spec.md §4.2) in a tcpsock.Socket and runs its
// send/recv loops until ctx is cancelled.
func acceptAuxConnections(ctx context.Context, ln net.Listener, crypt *crypto.Context, mon *errmon.Monitor, log *logging.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Warnf("aux tcp accept: %v", err)
				return
			}
		}
		sock := tcpsock.New(conn, crypt, log, mon)
		go sock.SenderLoop(ctx)
		go func() {
			if err := sock.RecvLoop(ctx); err != nil && ctx.Err() == nil {
				log.Warnf("aux tcp recv loop ended: %v", err)
			}
		}()
	}
}

// newContextListener wraps ln so Accept unblocks once ctx is
// cancelled, letting http.Serve's Accept loop exit on shutdown instead
// of blocking forever on a closed-but-unreleased listener.
func newContextListener(ctx context.Context, ln net.Listener) net.Listener {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	return ln
}
