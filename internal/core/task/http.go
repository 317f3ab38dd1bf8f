// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package task

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tramoapp/tramo/internal/core/export"
	"github.com/tramoapp/tramo/internal/core/filter"
	requestutil "github.com/tramoapp/tramo/internal/platform/request"
	"github.com/tramoapp/tramo/internal/platform/respond"
	"github.com/tramoapp/tramo/pkg/convert"
)

// RunnerFactory builds the work for a submitted task type. The report
// layer provides it at wiring time, keeping this package free of report
// orchestration.
type RunnerFactory func(ctx context.Context, taskType string, f filter.Filter, format export.Format) (Runner, error)

type Handler struct {
	manager *Manager
	factory RunnerFactory
}

func NewHandler(manager *Manager, factory RunnerFactory) *Handler {
	return &Handler{manager: manager, factory: factory}
}

func (handler *Handler) RegisterRoutes(router chi.Router) {
	router.Post("/{type}", handler.submit)
	router.Get("/{id}/progress", handler.progress)
	router.Get("/{id}/download", handler.download)
	router.Post("/{id}/cancel", handler.cancel)
	router.Delete("/cleanup", handler.cleanup)
}

func (handler *Handler) submit(writer http.ResponseWriter, request *http.Request) {
	taskType := chi.URLParam(request, "type")

	var f filter.Filter
	if err := requestutil.DecodeJSON(request, &f); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if err := f.Validate(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	format, err := export.ParseFormat(request.URL.Query().Get("format"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	runner, err := handler.factory(request.Context(), taskType, f, format)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	submitted, err := handler.manager.Submit(request.Context(), taskType, runner)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Accepted(writer, map[string]string{
		"task_id": submitted.ID,
		"status":  string(submitted.Status),
	})
}

func (handler *Handler) progress(writer http.ResponseWriter, request *http.Request) {
	snapshot, err := handler.manager.Status(request.Context(), chi.URLParam(request, "id"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, snapshot)
}

func (handler *Handler) download(writer http.ResponseWriter, request *http.Request) {
	id := chi.URLParam(request, "id")

	artifact, t, err := handler.manager.Fetch(request.Context(), id)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	contentType := t.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	writer.Header().Set("Content-Type", contentType)
	writer.Header().Set("Content-Disposition",
		`attachment; filename="reporte-`+id+`.`+extensionFor(contentType)+`"`)
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write(artifact)
}

func (handler *Handler) cancel(writer http.ResponseWriter, request *http.Request) {
	if err := handler.manager.Cancel(request.Context(), chi.URLParam(request, "id")); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

func (handler *Handler) cleanup(writer http.ResponseWriter, request *http.Request) {
	hours := convert.ToIntD(request.URL.Query().Get("older_than_hours"), 24)

	removed, err := handler.manager.Cleanup(request.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, map[string]int{"removed": removed})
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "csv"):
		return "csv"
	case strings.Contains(contentType, "spreadsheet"):
		return "xlsx"
	default:
		return "json"
	}
}
