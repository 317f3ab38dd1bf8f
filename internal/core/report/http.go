// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package report

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tramoapp/tramo/internal/core/export"
	"github.com/tramoapp/tramo/internal/core/filter"
	requestutil "github.com/tramoapp/tramo/internal/platform/request"
	"github.com/tramoapp/tramo/internal/platform/respond"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (handler *Handler) RegisterRoutes(router chi.Router) {
	router.Post("/{code}/run", handler.run)
	router.Get("/{code}/run", handler.runFromQuery)
}

// run executes a report synchronously and streams the serialized result as
// the response body. Large or slow reports belong on the async task
// surface instead.
func (handler *Handler) run(writer http.ResponseWriter, request *http.Request) {
	var f filter.Filter
	if err := requestutil.DecodeJSON(request, &f); err != nil {
		respond.Error(writer, request, err)
		return
	}
	handler.execute(writer, request, f)
}

// runFromQuery is the query-string form of run, for browser-driven
// downloads where a JSON body is inconvenient.
func (handler *Handler) runFromQuery(writer http.ResponseWriter, request *http.Request) {
	handler.execute(writer, request, filter.FromRequest(request))
}

func (handler *Handler) execute(writer http.ResponseWriter, request *http.Request, f filter.Filter) {
	code := chi.URLParam(request, "code")

	format, err := export.ParseFormat(request.URL.Query().Get("format"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	writer.Header().Set("Content-Type", export.ContentType(format))

	tracked := &trackingWriter{inner: writer}
	if _, err := handler.service.Execute(request.Context(), code, f, format, tracked, nil); err != nil {
		// Once body bytes are out the status line is gone; all we can do
		// is drop the connection mid-stream.
		if !tracked.started {
			respond.Error(writer, request, err)
		}
	}
}

// trackingWriter records whether any body byte has been written, which
// decides if an error can still become a proper error response.
type trackingWriter struct {
	inner   http.ResponseWriter
	started bool
}

func (writer *trackingWriter) Write(p []byte) (int, error) {
	writer.started = true
	return writer.inner.Write(p)
}
