// Package tileserver speaks the webInkV1 line protocol over TCP. A
// client sends one request line and receives either raw pixel bytes or
// a single ERROR line; either way the connection closes afterwards. No
// headers, no framing: the payload is exactly the bytes the client
// writes into its framebuffer.
package tileserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webink/webink/pkg/codec"
	"github.com/webink/webink/pkg/config"
	"github.com/webink/webink/pkg/registry"
	"github.com/webink/webink/pkg/snapshot"
)

const (
	// protocolName leads every valid request line.
	protocolName = "webInkV1"
	// maxRequestLine bounds the request; anything longer is malformed.
	maxRequestLine = 512
	// requestTimeout is how long we wait for the request line before
	// closing without writing anything.
	requestTimeout = 5 * time.Second

	connectionSocket = "socket"
)

// TileServer serves cropped tiles to devices that cannot afford HTTP.
type TileServer struct {
	addr    string
	app     *config.AppConfig
	store   *snapshot.Store
	reg     *registry.Registry
	timeout time.Duration

	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup
}

// New wires a tile server listening on cfg's socket port.
func New(cfg config.ServerConfig, app *config.AppConfig, store *snapshot.Store, reg *registry.Registry) *TileServer {
	return &TileServer{
		addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.SocketPort),
		app:     app,
		store:   store,
		reg:     reg,
		timeout: requestTimeout,
		quit:    make(chan struct{}),
	}
}

// Start binds the listener and begins accepting connections.
func (s *TileServer) Start() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.listener = l
	log.Info().Str("addr", l.Addr().String()).Msg("socket server listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr reports the bound listener address, available after Start.
func (s *TileServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *TileServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			log.Warn().Err(err).Msg("accepting socket connection")
			continue
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

// Stop closes the listener and waits for in-flight connections, up to
// ctx's deadline.
func (s *TileServer) Stop(ctx context.Context) error {
	close(s.quit)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TileServer) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	log.Debug().Str("remote", remote).Msg("socket connection")

	if err := conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return
	}
	// ReadSlice reports ErrBufferFull once maxRequestLine bytes arrive
	// without a newline, which enforces the protocol's line limit.
	raw, err := bufio.NewReaderSize(conn, maxRequestLine).ReadSlice('\n')
	line := string(raw)
	if err != nil {
		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			// Timed out waiting for the request: close without writing.
			log.Warn().Str("remote", remote).Msg("socket request timed out")
			return
		case errors.Is(err, bufio.ErrBufferFull):
			s.reject(conn, remote, fmt.Sprintf("Request line exceeds %d bytes", maxRequestLine))
			return
		case errors.Is(err, io.EOF) && line != "":
			// A line without a trailing newline is still parsed.
		default:
			log.Warn().Err(err).Str("remote", remote).Msg("reading socket request")
			return
		}
	}

	s.serveRequest(conn, remote, line)
}

// serveRequest walks the validation ladder in protocol order and writes
// either the raw payload or one error line.
func (s *TileServer) serveRequest(conn net.Conn, remote, line string) {
	parts := strings.Fields(line)
	if len(parts) != 9 {
		s.reject(conn, remote, fmt.Sprintf("Invalid request format. Expected 9 parts, got %d", len(parts)))
		return
	}
	protocol, apiKey, device, modeRaw := parts[0], parts[1], parts[2], parts[3]
	formatRaw := parts[8]

	if protocol != protocolName {
		s.reject(conn, remote, fmt.Sprintf("Unsupported protocol '%s'. Expected '%s'", protocol, protocolName))
		return
	}
	if apiKey != s.app.APIKey {
		s.reject(conn, remote, "Invalid API key")
		return
	}

	coords := make([]int, 4)
	for i, raw := range parts[4:8] {
		v, err := strconv.Atoi(raw)
		if err != nil {
			s.reject(conn, remote, fmt.Sprintf("Invalid coordinates: %q", raw))
			return
		}
		coords[i] = v
	}
	x, y, w, h := coords[0], coords[1], coords[2], coords[3]

	format := codec.Format(formatRaw)
	switch format {
	case codec.FormatPBM, codec.FormatPGM, codec.FormatPPM:
	default:
		s.reject(conn, remote, fmt.Sprintf("Invalid format '%s'. Expected pbm, pgm, or ppm", formatRaw))
		return
	}

	pageID, _, havePage := s.app.PageForDevice(device)
	s.reg.Touch(device, registry.Update{Mode: modeRaw, Connection: connectionSocket, Page: pageID})

	mode, ok := s.app.ModeSupported(modeRaw)
	if !ok {
		s.reject(conn, remote, fmt.Sprintf("Unsupported mode: %s", modeRaw))
		return
	}
	if !havePage {
		s.reject(conn, remote, "No page configured for device")
		return
	}

	payload, err := s.store.Crop(pageID, mode, x, y, w, h, format)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		s.reject(conn, remote, fmt.Sprintf("Image not available for %s in mode %s", pageID, modeRaw))
		return
	case errors.Is(err, snapshot.ErrEmptyCrop), errors.Is(err, snapshot.ErrBounds):
		s.reject(conn, remote, fmt.Sprintf("Invalid crop parameters (image is %dx%d)", mode.Width, mode.Height))
		return
	case err != nil:
		log.Error().Err(err).Str("remote", remote).Str("page_id", pageID).Msg("cropping tile")
		s.reject(conn, remote, err.Error())
		return
	}

	if _, err := conn.Write(payload); err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("writing tile payload")
		return
	}
	log.Info().
		Str("remote", remote).
		Str("device", device).
		Str("mode", modeRaw).
		Int("bytes", len(payload)).
		Msg("served tile")
}

// reject writes a single error line. Nothing else may be written to the
// connection afterwards.
func (s *TileServer) reject(conn net.Conn, remote, message string) {
	log.Warn().Str("remote", remote).Msg("socket request rejected: " + message)
	if _, err := fmt.Fprintf(conn, "ERROR: %s\n", message); err != nil {
		log.Debug().Err(err).Str("remote", remote).Msg("writing error line")
	}
}
