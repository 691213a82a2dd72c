package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/webink/webink/pkg/codec"
	"github.com/webink/webink/pkg/scheduler"
	"github.com/webink/webink/pkg/system"
	"github.com/webink/webink/pkg/types"
)

type dashboardConfigResponse struct {
	Pages          map[string]*types.Page         `json:"pages"`
	Devices        map[string]*types.DeviceConfig `json:"devices"`
	SupportedModes []string                       `json:"supported_modes"`
}

func (apiServer *WebInkServer) dashboardConfig(_ http.ResponseWriter, _ *http.Request) (*dashboardConfigResponse, *system.HTTPError) {
	return &dashboardConfigResponse{
		Pages:          apiServer.app.Pages,
		Devices:        apiServer.app.Devices,
		SupportedModes: apiServer.app.SupportedModes,
	}, nil
}

func (apiServer *WebInkServer) dashboardClients(_ http.ResponseWriter, _ *http.Request) (map[string]types.Device, *system.HTTPError) {
	return apiServer.reg.List(), nil
}

// dashboardPreview streams the stored PNG for one page and mode.
func (apiServer *WebInkServer) dashboardPreview(res http.ResponseWriter, req *http.Request) {
	pageID := mux.Vars(req)["page_id"]

	mode, err := codec.ParseMode(req.URL.Query().Get("mode"))
	if err != nil {
		system.WriteError(res, http.StatusNotFound, "Image not found")
		return
	}
	path, err := apiServer.store.PreviewPath(pageID, mode)
	if err != nil {
		system.WriteError(res, http.StatusNotFound, "Image not found")
		return
	}
	http.ServeFile(res, req, path)
}

type pageStatusResponse struct {
	Pages           map[string]scheduler.PageStatus `json:"pages"`
	TotalRenderTime float64                         `json:"total_render_time"`
	LeadTime        float64                         `json:"lead_time"`
}

func (apiServer *WebInkServer) dashboardPageStatus(_ http.ResponseWriter, _ *http.Request) (*pageStatusResponse, *system.HTTPError) {
	return &pageStatusResponse{
		Pages:           apiServer.sched.Status(time.Now()),
		TotalRenderTime: apiServer.sched.TotalRenderTime().Seconds(),
		LeadTime:        apiServer.sched.LeadTime().Seconds(),
	}, nil
}

type updatePageRequest struct {
	PageID string `json:"page_id"`
}

type updatePageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// dashboardUpdatePage queues an immediate render of one page, outside
// its normal cadence.
func (apiServer *WebInkServer) dashboardUpdatePage(_ http.ResponseWriter, req *http.Request) (*updatePageResponse, *system.HTTPError) {
	body, err := decodeJSONBody[updatePageRequest](req.Body)
	if err != nil {
		return nil, system.NewHTTPError400("Invalid request body")
	}
	if _, ok := apiServer.app.Pages[body.PageID]; !ok {
		return nil, system.NewHTTPError404("Page not found")
	}
	apiServer.enqueue(body.PageID)
	return &updatePageResponse{
		Status:  "ok",
		Message: fmt.Sprintf("Update triggered for %s", body.PageID),
	}, nil
}

type toggleSleepRequest struct {
	Device  string `json:"device"`
	Disable bool   `json:"disable"`
}

// dashboardToggleSleep flips a device's keep-awake flag. Devices the
// registry has never seen are quietly ignored.
func (apiServer *WebInkServer) dashboardToggleSleep(_ http.ResponseWriter, req *http.Request) (*statusResponse, *system.HTTPError) {
	body, err := decodeJSONBody[toggleSleepRequest](req.Body)
	if err != nil {
		return nil, system.NewHTTPError400("Invalid request body")
	}
	apiServer.reg.SetSleepDisabled(body.Device, body.Disable)
	return &statusResponse{Status: "ok"}, nil
}

func decodeJSONBody[T any](r io.Reader) (T, error) {
	var out T
	err := json.NewDecoder(r).Decode(&out)
	return out, err
}
