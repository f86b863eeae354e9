package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/treewatch/treewatch/internal/dto"
)

func (s *Server) registerRootRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "watch",
		Method:      http.MethodPost,
		Path:        "/api/v1/watch",
		Summary:     "Watch a directory",
		Description: "Starts watching a directory tree. Watching an already watched root is a no-op; a failed root is replaced by a fresh attempt.",
		Tags:        []string{"Roots"},
	}, s.handleWatch)

	huma.Register(s.api, huma.Operation{
		OperationID: "watchDel",
		Method:      http.MethodPost,
		Path:        "/api/v1/watch-del",
		Summary:     "Stop watching a directory",
		Description: "Cancels any crawl in flight, detaches the notification source and wakes every waiter on the root",
		Tags:        []string{"Roots"},
	}, s.handleWatchDel)

	huma.Register(s.api, huma.Operation{
		OperationID: "watchList",
		Method:      http.MethodGet,
		Path:        "/api/v1/watch-list",
		Summary:     "List watched roots",
		Description: "Returns every watched root, sorted by path",
		Tags:        []string{"Roots"},
	}, s.handleWatchList)
}

// RootPathRequest names a directory.
type RootPathRequest struct {
	Path string `json:"path" validate:"required" doc:"Directory path; relative paths resolve against the daemon's working directory"`
}

// WatchInput wraps the watch request for Huma.
type WatchInput struct {
	Body RootPathRequest
}

// WatchResponse is the answer to watch.
type WatchResponse struct {
	Watch string `json:"watch" doc:"Canonical path of the watched root"`
}

// WatchOutput wraps the watch response for Huma.
type WatchOutput struct {
	Body WatchResponse
}

// WatchDelInput wraps the watch-del request for Huma.
type WatchDelInput struct {
	Body RootPathRequest
}

// WatchDelResponse is the answer to watch-del.
type WatchDelResponse struct {
	WatchDel bool   `json:"watch-del" doc:"Always true on success"`
	Root     string `json:"root" doc:"Canonical path of the root that was removed"`
}

// WatchDelOutput wraps the watch-del response for Huma.
type WatchDelOutput struct {
	Body WatchDelResponse
}

// WatchListResponse is the answer to watch-list.
type WatchListResponse struct {
	Roots []dto.RootInfo `json:"roots" doc:"Watched roots, sorted by path"`
}

// WatchListOutput wraps the watch-list response for Huma.
type WatchListOutput struct {
	Body WatchListResponse
}

func (s *Server) handleWatch(ctx context.Context, input *WatchInput) (*WatchOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, toAPIError(err)
	}

	rt, err := s.roots.Watch(ctx, input.Body.Path)
	if err != nil {
		return nil, toAPIError(err)
	}

	return &WatchOutput{Body: WatchResponse{Watch: rt.Path()}}, nil
}

func (s *Server) handleWatchDel(ctx context.Context, input *WatchDelInput) (*WatchDelOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, toAPIError(err)
	}

	path, err := s.roots.Unwatch(ctx, input.Body.Path)
	if err != nil {
		return nil, toAPIError(err)
	}

	return &WatchDelOutput{Body: WatchDelResponse{WatchDel: true, Root: path}}, nil
}

func (s *Server) handleWatchList(_ context.Context, _ *struct{}) (*WatchListOutput, error) {
	infos := s.roots.List()
	roots := make([]dto.RootInfo, len(infos))
	for i, info := range infos {
		roots[i] = dto.NewRootInfo(info)
	}
	return &WatchListOutput{Body: WatchListResponse{Roots: roots}}, nil
}
