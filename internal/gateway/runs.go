package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/dohr-michael/storybook/internal/gateway/ws"
	"github.com/dohr-michael/storybook/internal/ledger"
	"github.com/dohr-michael/storybook/internal/pipeline"
	"github.com/dohr-michael/storybook/internal/storage"
)

// RunRequest is the body of POST /api/runs and of run_pipeline requests.
type RunRequest struct {
	Mode      string `json:"mode,omitempty"`
	Topic     string `json:"topic,omitempty"`
	StyleRef  string `json:"style_ref,omitempty"`
	SkipStory bool   `json:"skip_story,omitempty"`
}

func (req RunRequest) options(trigger string) (pipeline.RunOptions, error) {
	opts := pipeline.RunOptions{Topic: req.Topic, StyleRef: req.StyleRef, SkipStory: req.SkipStory, Trigger: trigger}
	if req.Mode != "" {
		m, err := pipeline.ParseMode(req.Mode)
		if err != nil {
			return opts, err
		}
		opts.Mode = m
	}
	return opts, nil
}

// TasksResponse is the body of GET /api/tasks.
type TasksResponse struct {
	Summary ledger.Summary `json:"summary"`
	Tasks   []ledger.Task  `json:"tasks"`
}

func (s *Server) listTasks(ctx context.Context) (TasksResponse, error) {
	if s.tasks == nil {
		return TasksResponse{}, fmt.Errorf("%w: no ledger", ledger.ErrStorageUnavailable)
	}
	tasks, err := s.tasks.Load(ctx)
	if err != nil {
		return TasksResponse{}, err
	}
	if tasks == nil {
		tasks = []ledger.Task{}
	}
	return TasksResponse{Summary: ledger.Summarize(tasks), Tasks: tasks}, nil
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	resp, err := s.listTasks(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// startRun starts a background run and logs its outcome.
func (s *Server) startRun(req RunRequest, trigger string) (string, error) {
	if s.runner == nil {
		return "", errors.New("pipeline not available")
	}
	opts, err := req.options(trigger)
	if err != nil {
		return "", err
	}
	runID, done, err := s.runner.Start(s.runCtx, opts)
	if err != nil {
		return "", err
	}
	go func() {
		res := <-done
		slog.Info("gateway run finished", "run_id", res.RunID, "status", res.Status, "reason", res.Reason)
	}()
	return runID, nil
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid run request")
		return
	}
	runID, err := s.startRun(req, "gateway")
	if err != nil {
		status := statusFor(err)
		if _, bad := req.options(""); bad != nil {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) runStage(ctx context.Context, name string, req RunRequest) (pipeline.StageResult, int, error) {
	if s.runner == nil {
		return pipeline.StageResult{}, http.StatusServiceUnavailable, errors.New("pipeline not available")
	}
	stage, err := pipeline.ParseStage(name)
	if err != nil {
		return pipeline.StageResult{}, http.StatusBadRequest, err
	}
	opts, err := req.options("gateway")
	if err != nil {
		return pipeline.StageResult{}, http.StatusBadRequest, err
	}
	res, err := s.runner.RunStage(ctx, stage, opts)
	if err != nil {
		return res, statusFor(err), err
	}
	return res, http.StatusOK, nil
}

func (s *Server) handleRunStage(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid stage request")
		return
	}
	res, status, err := s.runStage(r.Context(), chi.URLParam(r, "stage"), req)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, status, res)
}

func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	if s.historyDir == "" {
		writeError(w, http.StatusServiceUnavailable, "run history not available")
		return
	}
	evts, err := storage.ReadRun(s.historyDir, chi.URLParam(r, "id"))
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, evts)
}

// handleWSRequest serves request frames from WebSocket clients.
func (s *Server) handleWSRequest(ctx context.Context, method ws.Method, params json.RawMessage) (any, error) {
	var req struct {
		RunRequest
		Stage string `json:"stage,omitempty"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}
	switch method {
	case ws.MethodListTasks:
		return s.listTasks(ctx)
	case ws.MethodRunPipeline:
		runID, err := s.startRun(req.RunRequest, "gateway")
		if err != nil {
			return nil, err
		}
		return map[string]string{"run_id": runID}, nil
	case ws.MethodRunStage:
		res, _, err := s.runStage(ctx, req.Stage, req.RunRequest)
		if err != nil {
			return nil, err
		}
		return res, nil
	default:
		return nil, fmt.Errorf("unknown method: %s", method)
	}
}
