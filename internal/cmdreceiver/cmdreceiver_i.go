package cmdreceiver

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"scmap/internal/log"
	"scmap/internal/mapdata"
	"scmap/internal/mapstore"
)

// MapCommandRequest is one operator command against the map store.
type MapCommandRequest struct {
	Action     string `json:"action"`
	IDs        string `json:"ids"`
	Hash       string `json:"hash"`
	UserID     string `json:"user_id"`
	Path       string `json:"path"`
	Extension  string `json:"extension"`
	Visibility string `json:"visibility"`
	Limit      string `json:"limit"`
	Confirm    string `json:"confirm"`
}

type MapCommandResponse struct {
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	Maps    []MapView `json:"maps,omitempty"`
}

// MapView is the wire form of mapstore.MapInfo.
type MapView struct {
	ID           string            `json:"id"`
	Hash         string            `json:"hash"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	UploadedBy   int64             `json:"uploadedBy"`
	Visibility   string            `json:"visibility"`
	UploadDate   time.Time         `json:"uploadDate"`
	RemovedAt    *time.Time        `json:"removedAt,omitempty"`
	Metadata     mapdata.Metadata  `json:"metadata"`
	ImageVersion int               `json:"imageVersion"`
	MapURL       string            `json:"mapUrl"`
	ImageURLs    map[string]string `json:"imageUrls,omitempty"`
}

func viewOf(info mapstore.MapInfo) MapView {
	v := MapView{
		ID:           info.ID,
		Hash:         info.Hash(),
		Name:         info.Name,
		Description:  info.Description,
		UploadedBy:   info.UploadedBy,
		Visibility:   string(info.Visibility),
		UploadDate:   info.UploadDate,
		RemovedAt:    info.RemovedAt,
		Metadata:     info.Metadata,
		ImageVersion: info.ImageVersion,
		MapURL:       info.MapURL,
	}
	if len(info.ImageURLs) > 0 {
		v.ImageURLs = make(map[string]string, len(info.ImageURLs))
		for size, url := range info.ImageURLs {
			v.ImageURLs[strconv.Itoa(size)] = url
		}
	}
	return v
}

type Service interface {
	HandleMapCommand(ctx context.Context, req MapCommandRequest) (int, MapCommandResponse)
}

// AuthHeader carries the admin key when one is configured.
const AuthHeader = "X-Admin-Key"

type HandlerI struct {
	service Service
	authKey string
}

// NewHandlerI serves map commands. An empty authKey leaves the endpoint open.
func NewHandlerI(service Service, authKey string) *HandlerI {
	return &HandlerI{service: service, authKey: strings.TrimSpace(authKey)}
}

func (h *HandlerI) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/cmd/maps", h.handleMapCommand)
}

func (h *HandlerI) handleMapCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, MapCommandResponse{Status: "error", Message: "method not allowed"})
		return
	}
	if h.authKey != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(AuthHeader)), []byte(h.authKey)) != 1 {
		writeJSON(w, http.StatusUnauthorized, MapCommandResponse{Status: "error", Message: "unauthorized"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, MapCommandResponse{Status: "error", Message: "invalid form"})
		return
	}

	req := MapCommandRequest{
		Action:     strings.TrimSpace(r.FormValue("action")),
		IDs:        strings.TrimSpace(r.FormValue("ids")),
		Hash:       strings.TrimSpace(r.FormValue("hash")),
		UserID:     strings.TrimSpace(r.FormValue("user_id")),
		Path:       strings.TrimSpace(r.FormValue("path")),
		Extension:  strings.TrimSpace(r.FormValue("extension")),
		Visibility: strings.TrimSpace(r.FormValue("visibility")),
		Limit:      strings.TrimSpace(r.FormValue("limit")),
		Confirm:    strings.TrimSpace(r.FormValue("confirm")),
	}

	status, resp := h.service.HandleMapCommand(r.Context(), req)
	writeJSON(w, status, resp)
}

type ServiceI struct {
	maps   mapstore.Service
	logger interface {
		Infof(string, ...any)
		Warnf(string, ...any)
	}
}

func NewServiceI(maps mapstore.Service) *ServiceI {
	return &ServiceI{maps: maps, logger: log.Component("main")}
}

func (s *ServiceI) HandleMapCommand(ctx context.Context, req MapCommandRequest) (int, MapCommandResponse) {
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))
	if req.Action == "" {
		return http.StatusBadRequest, MapCommandResponse{Status: "error", Message: "action is required"}
	}
	s.logger.Infof("map command action=%s", req.Action)

	switch req.Action {
	case "map_info":
		return s.handleMapInfo(ctx, req)
	case "store":
		return s.handleStore(ctx, req)
	case "reparse":
		return s.handleReparse(ctx, req)
	case "reparse_sweep":
		return s.handleReparseSweep(ctx, req)
	case "regenerate":
		return s.handleRegenerate(ctx, req)
	case "remove":
		return s.handleRemove(ctx, req)
	case "favorite", "unfavorite":
		return s.handleFavorite(ctx, req)
	case "favorites":
		return s.handleListFavorites(ctx, req)
	case "purge":
		return s.handlePurge(ctx, req)
	default:
		return http.StatusBadRequest, MapCommandResponse{Status: "error", Message: "unsupported action"}
	}
}

func (s *ServiceI) handleMapInfo(ctx context.Context, req MapCommandRequest) (int, MapCommandResponse) {
	ids := splitIDs(req.IDs)
	if len(ids) == 0 {
		return http.StatusBadRequest, MapCommandResponse{Status: "error", Message: "ids is required"}
	}
	infos, err := s.maps.GetMapInfos(ctx, ids)
	if err != nil {
		return errorResponse(err)
	}
	return http.StatusOK, mapsResponse(infos)
}

func (s *ServiceI) handleStore(ctx context.Context, req MapCommandRequest) (int, MapCommandResponse) {
	if req.Path == "" {
		return http.StatusBadRequest, MapCommandResponse{Status: "error", Message: "path is required"}
	}
	userID, err := strconv.ParseInt(req.UserID, 10, 64)
	if err != nil {
		return http.StatusBadRequest, MapCommandResponse{Status: "error", Message: "user_id must be an integer"}
	}
	vis := mapdata.Visibility(strings.ToUpper(req.Visibility))
	if !vis.Valid() {
		return http.StatusBadRequest, MapCommandResponse{Status: "error", Message: "visibility must be OFFICIAL, PUBLIC or PRIVATE"}
	}
	ext := req.Extension
	if ext == "" {
		if i := strings.LastIndexByte(req.Path, '.'); i >= 0 {
			ext = req.Path[i+1:]
		}
	}
	info, err := s.maps.StoreMap(ctx, req.Path, ext, userID, vis)
	if err != nil {
		return errorResponse(err)
	}
	return http.StatusOK, mapsResponse([]mapstore.MapInfo{info})
}

func (s *ServiceI) handleReparse(ctx context.Context, req MapCommandRequest) (int, MapCommandResponse) {
	ids := splitIDs(req.IDs)
	if len(ids) == 0 {
		return http.StatusBadRequest, MapCommandResponse{Status: "error", Message: "ids is required"}
	}
	infos, err := s.maps.GetMapInfos(ctx, ids)
	if err != nil {
		return errorResponse(err)
	}
	infos, err = s.maps.ReparseAsNeeded(ctx, infos)
	if err != nil {
		return errorResponse(err)
	}
	return http.StatusOK, mapsResponse(infos)
}

func (s *ServiceI) handleReparseSweep(ctx context.Context, req MapCommandRequest) (int, MapCommandResponse) {
	limit := 100
	if req.Limit != "" {
		n, err := strconv.Atoi(req.Limit)
		if err != nil || n < 1 {
			return http.StatusBadRequest, MapCommandResponse{Status: "error", Message: "limit must be a positive integer"}
		}
		limit = n
	}
	n, err := s.maps.ReparseStale(ctx, limit)
	if err != nil {
		return errorResponse(err)
	}
	return http.StatusOK, MapCommandResponse{Status: "accepted", Message: fmt.Sprintf("reparsed %d maps", n)}
}

func (s *ServiceI) handleRegenerate(ctx context.Context, req MapCommandRequest) (int, MapCommandResponse) {
	if req.Hash == "" {
		return http.StatusBadRequest, MapCommandResponse{Status: "error", Message: "hash is required"}
	}
	if err := s.maps.RegenerateImages(ctx, req.Hash); err != nil {
		return errorResponse(err)
	}
	return http.StatusOK, MapCommandResponse{Status: "accepted", Message: "images regenerated"}
}

func (s *ServiceI) handleRemove(ctx context.Context, req MapCommandRequest) (int, MapCommandResponse) {
	ids := splitIDs(req.IDs)
	if len(ids) != 1 {
		return http.StatusBadRequest, MapCommandResponse{Status: "error", Message: "exactly one id is required"}
	}
	if err := s.maps.RemoveMap(ctx, ids[0]); err != nil {
		return errorResponse(err)
	}
	return http.StatusOK, MapCommandResponse{Status: "accepted", Message: "map removed"}
}

func (s *ServiceI) handleFavorite(ctx context.Context, req MapCommandRequest) (int, MapCommandResponse) {
	userID, err := strconv.ParseInt(req.UserID, 10, 64)
	if err != nil {
		return http.StatusBadRequest, MapCommandResponse{Status: "error", Message: "user_id must be an integer"}
	}
	ids := splitIDs(req.IDs)
	if len(ids) != 1 {
		return http.StatusBadRequest, MapCommandResponse{Status: "error", Message: "exactly one id is required"}
	}
	if req.Action == "favorite" {
		err = s.maps.FavoriteMap(ctx, userID, ids[0])
	} else {
		err = s.maps.UnfavoriteMap(ctx, userID, ids[0])
	}
	if err != nil {
		return errorResponse(err)
	}
	return http.StatusOK, MapCommandResponse{Status: "accepted"}
}

func (s *ServiceI) handleListFavorites(ctx context.Context, req MapCommandRequest) (int, MapCommandResponse) {
	userID, err := strconv.ParseInt(req.UserID, 10, 64)
	if err != nil {
		return http.StatusBadRequest, MapCommandResponse{Status: "error", Message: "user_id must be an integer"}
	}
	infos, err := s.maps.ListFavorites(ctx, userID)
	if err != nil {
		return errorResponse(err)
	}
	return http.StatusOK, mapsResponse(infos)
}

func (s *ServiceI) handlePurge(ctx context.Context, req MapCommandRequest) (int, MapCommandResponse) {
	if req.Confirm != "yes" {
		return http.StatusBadRequest, MapCommandResponse{Status: "error", Message: "purge requires confirm=yes"}
	}
	s.logger.Warnf("purging all maps")
	if err := s.maps.DeleteAllMaps(ctx); err != nil {
		return errorResponse(err)
	}
	return http.StatusOK, MapCommandResponse{Status: "accepted", Message: "all maps deleted"}
}

func mapsResponse(infos []mapstore.MapInfo) MapCommandResponse {
	resp := MapCommandResponse{Status: "ok", Maps: make([]MapView, 0, len(infos))}
	for _, info := range infos {
		resp.Maps = append(resp.Maps, viewOf(info))
	}
	return resp
}

// errorResponse maps pipeline errors to HTTP statuses. Timeouts and crashed
// workers are transient, so they get 503 and the caller may retry.
func errorResponse(err error) (int, MapCommandResponse) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, mapstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, mapstore.ErrRenderingDisabled):
		status = http.StatusConflict
	case errors.Is(err, mapdata.ErrFormat), errors.Is(err, mapdata.ErrParse):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, mapdata.ErrTimeout), errors.Is(err, mapdata.ErrProcess):
		status = http.StatusServiceUnavailable
	}
	return status, MapCommandResponse{Status: "error", Message: err.Error()}
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
