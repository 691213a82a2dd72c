package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webink/webink/pkg/codec"
	"github.com/webink/webink/pkg/registry"
	"github.com/webink/webink/pkg/snapshot"
	"github.com/webink/webink/pkg/system"
)

// connectionHTTP tags registry records with the transport a device last
// used, alongside the socket server's "socket".
const connectionHTTP = "http"

type hashResponse struct {
	Hash string `json:"hash"`
}

type sleepResponse struct {
	SleepSeconds int `json:"sleep_seconds"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// getHash reports the short content hash of the device's current bitmap,
// so clients can skip pulling tiles that have not changed.
func (apiServer *WebInkServer) getHash(_ http.ResponseWriter, req *http.Request) (*hashResponse, *system.HTTPError) {
	device := req.URL.Query().Get("device")
	modeRaw := req.URL.Query().Get("mode")

	pageID, _, havePage := apiServer.app.PageForDevice(device)
	apiServer.reg.Touch(device, registry.Update{Mode: modeRaw, Connection: connectionHTTP, Page: pageID})

	if !havePage {
		return nil, system.NewHTTPError404("No page configured for device")
	}
	mode, ok := apiServer.app.ModeSupported(modeRaw)
	if !ok {
		return nil, system.NewHTTPError404(fmt.Sprintf("Unsupported mode: %s", modeRaw))
	}

	hash, err := apiServer.store.Hash(pageID, mode)
	if errors.Is(err, snapshot.ErrNotFound) {
		return nil, system.NewHTTPError404("Image not available yet")
	}
	if err != nil {
		return nil, system.NewHTTPError500(err.Error())
	}
	return &hashResponse{Hash: hash}, nil
}

// getImage serves a cropped tile of the device's bitmap. PNG responses
// are a complete PNG file, pbm and ppm are complete PNM files whose raw
// payload follows the text header.
func (apiServer *WebInkServer) getImage(res http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	device := q.Get("device")
	modeRaw := q.Get("mode")

	pageID, _, havePage := apiServer.app.PageForDevice(device)
	apiServer.reg.Touch(device, registry.Update{Mode: modeRaw, Connection: connectionHTTP, Page: pageID})

	if !havePage {
		system.WriteError(res, http.StatusInternalServerError, "No page configured for device")
		return
	}

	x, y, w, h, err := cropParams(q)
	if err != nil {
		system.WriteError(res, http.StatusBadRequest, err.Error())
		return
	}

	format := codec.Format(q.Get("format"))
	if format == "" {
		format = codec.FormatPNG
	}
	switch format {
	case codec.FormatPNG, codec.FormatPBM, codec.FormatPPM:
	default:
		// pgm exists on the socket path only
		system.WriteError(res, http.StatusInternalServerError, fmt.Sprintf("Unsupported format: %s", format))
		return
	}

	mode, parseErr := codec.ParseMode(modeRaw)
	if parseErr != nil {
		system.WriteError(res, http.StatusInternalServerError, fmt.Sprintf("Image not available for %s in mode %s", pageID, modeRaw))
		return
	}

	payload, err := apiServer.store.Crop(pageID, mode, x, y, w, h, format)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		system.WriteError(res, http.StatusInternalServerError, fmt.Sprintf("Image not available for %s in mode %s", pageID, modeRaw))
		return
	case errors.Is(err, snapshot.ErrEmptyCrop):
		system.WriteError(res, http.StatusBadRequest, "Invalid crop parameters")
		return
	case errors.Is(err, snapshot.ErrBounds):
		system.WriteError(res, http.StatusInternalServerError, "Invalid crop parameters")
		return
	case err != nil:
		log.Error().Err(err).Str("page_id", pageID).Msg("cropping bitmap")
		system.WriteError(res, http.StatusInternalServerError, err.Error())
		return
	}

	res.Header().Set("Content-Type", format.ContentType())
	if header := format.PNMHeader(w, h); header != nil {
		if _, err := res.Write(header); err != nil {
			return
		}
	}
	if _, err := res.Write(payload); err != nil {
		log.Debug().Err(err).Str("device", device).Msg("writing tile response")
	}
}

func cropParams(q url.Values) (x, y, w, h int, err error) {
	for _, p := range []struct {
		name string
		dst  *int
	}{{"x", &x}, {"y", &y}, {"w", &w}, {"h", &h}} {
		*p.dst, err = strconv.Atoi(q.Get(p.name))
		if err != nil {
			return 0, 0, 0, 0, fmt.Errorf("invalid crop parameter %s: %q", p.name, q.Get(p.name))
		}
	}
	return x, y, w, h, nil
}

// getSleep tells the device how long to power down before its next
// request, and records when we expect to hear from it again.
func (apiServer *WebInkServer) getSleep(_ http.ResponseWriter, req *http.Request) (*sleepResponse, *system.HTTPError) {
	device := req.URL.Query().Get("device")

	pageID, _, _ := apiServer.app.PageForDevice(device)
	apiServer.reg.Touch(device, registry.Update{Connection: connectionHTTP, Page: pageID})

	now := time.Now()
	seconds := apiServer.planner.Seconds(device, now)
	if seconds > 0 {
		apiServer.reg.SetNextRefresh(device, now.Add(time.Duration(seconds)*time.Second))
	}
	return &sleepResponse{SleepSeconds: seconds}, nil
}

// postLog accepts a plain-text log line from a device and keeps the most
// recent one on its registry record.
func (apiServer *WebInkServer) postLog(_ http.ResponseWriter, req *http.Request) (*statusResponse, *system.HTTPError) {
	device := req.URL.Query().Get("device")

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, system.NewHTTPError400("reading log body")
	}
	message := string(body)
	log.Info().Str("device", device).Msg("device log: " + message)

	apiServer.reg.Touch(device, registry.Update{Connection: connectionHTTP, LastLog: message})
	return &statusResponse{Status: "ok"}, nil
}

// postMetrics accepts a JSON object of device metrics (battery voltage,
// signal strength, whatever the client reports) and stores it verbatim.
func (apiServer *WebInkServer) postMetrics(_ http.ResponseWriter, req *http.Request) (*statusResponse, *system.HTTPError) {
	device := req.URL.Query().Get("device")

	metrics, err := decodeJSONBody[map[string]any](req.Body)
	if err != nil {
		log.Warn().Err(err).Str("device", device).Msg("bad metrics payload")
		return nil, system.NewHTTPError400("Invalid metrics format")
	}
	log.Info().Str("device", device).Interface("metrics", metrics).Msg("device metrics")

	apiServer.reg.Touch(device, registry.Update{Connection: connectionHTTP, Metrics: metrics})
	return &statusResponse{Status: "ok"}, nil
}
