// Package cmdclient sends operator commands to a running map service so
// one-shot CLI runs share its parse queue instead of spawning their own
// workers.
package cmdclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"scmap/internal/cmdreceiver"
)

type Executor interface {
	Execute(ctx context.Context, req cmdreceiver.MapCommandRequest) (ParsedResponse, error)
}

type ServiceC struct {
	executor Executor
}

func NewServiceC(executor Executor) *ServiceC {
	return &ServiceC{executor: executor}
}

func (s *ServiceC) StoreMap(ctx context.Context, path string, userID int64, visibility string) ([]cmdreceiver.MapView, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	resp, err := s.executor.Execute(ctx, cmdreceiver.MapCommandRequest{
		Action:     "store",
		Path:       path,
		UserID:     strconv.FormatInt(userID, 10),
		Visibility: visibility,
	})
	return resp.Body.Maps, err
}

func (s *ServiceC) RegenerateImages(ctx context.Context, hash string) error {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return fmt.Errorf("hash is required")
	}
	_, err := s.executor.Execute(ctx, cmdreceiver.MapCommandRequest{Action: "regenerate", Hash: hash})
	return err
}

func (s *ServiceC) ReparseSweep(ctx context.Context, limit int) (string, error) {
	resp, err := s.executor.Execute(ctx, cmdreceiver.MapCommandRequest{Action: "reparse_sweep", Limit: strconv.Itoa(limit)})
	return resp.Body.Message, err
}

func (s *ServiceC) Purge(ctx context.Context) error {
	_, err := s.executor.Execute(ctx, cmdreceiver.MapCommandRequest{Action: "purge", Confirm: "yes"})
	return err
}
