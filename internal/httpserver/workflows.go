// Copyright 2025 Nguyen Nhat Nguyen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ngnhng/hellodurable/api"
	"github.com/ngnhng/hellodurable/sdk/client"
)

// WorkflowHandler exposes start, describe and cancel over JSON.
type WorkflowHandler struct {
	client    client.Client
	workflow  any
	taskQueue string
	logger    *slog.Logger
}

type StartRequest struct {
	ID   string `json:"id,omitempty"`
	Args []any  `json:"args"`
}

type StartResponse struct {
	ID string `json:"id"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *WorkflowHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h.client == nil || h.workflow == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no workflow configured"))
		return
	}
	var req StartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	run, err := h.client.ExecuteWorkflow(r.Context(), client.StartWorkflowOptions{
		ID:        req.ID,
		TaskQueue: h.taskQueue,
	}, h.workflow, req.Args...)
	switch {
	case errors.Is(err, client.ErrWorkflowAlreadyStarted):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		h.logger.Error("start workflow failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Location", "/api/workflows/"+string(run.ID()))
	writeJSON(w, http.StatusCreated, StartResponse{ID: string(run.ID())})
}

func (h *WorkflowHandler) Describe(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no client configured"))
		return
	}
	desc, err := h.client.DescribeWorkflow(r.Context(), api.WorkflowID(r.PathValue("id")))
	switch {
	case errors.Is(err, client.ErrWorkflowNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, desc)
	}
}

func (h *WorkflowHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no client configured"))
		return
	}
	var req CancelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := h.client.CancelWorkflow(r.Context(), api.WorkflowID(r.PathValue("id")), req.Reason)
	switch {
	case errors.Is(err, client.ErrWorkflowNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

// decodeBody accepts an empty body as the zero request.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}
