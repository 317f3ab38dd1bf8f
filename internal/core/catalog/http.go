// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	requestutil "github.com/tramoapp/tramo/internal/platform/request"
	"github.com/tramoapp/tramo/internal/platform/respond"
	"github.com/tramoapp/tramo/pkg/convert"
	"github.com/tramoapp/tramo/pkg/pagination"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (handler *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/", handler.listTemplates)
	router.Post("/", handler.createTemplate)
	router.Get("/most-used", handler.mostUsed)
	router.Get("/pending-analysis", handler.pendingAnalysis)
	router.Get("/{code}", handler.getTemplate)
	router.Put("/{code}", handler.updateTemplate)
	router.Delete("/{code}", handler.deleteTemplate)
}

func (handler *Handler) listTemplates(writer http.ResponseWriter, request *http.Request) {
	params := pagination.FromRequest(request)

	templates, total, err := handler.service.ListTemplates(request.Context(), params.Limit, params.Offset())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Paginated(writer, templates, pagination.NewMeta(params.Page, params.Limit, total))
}

func (handler *Handler) getTemplate(writer http.ResponseWriter, request *http.Request) {
	code := chi.URLParam(request, "code")

	template, err := handler.service.GetTemplate(request.Context(), code)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, template)
}

func (handler *Handler) createTemplate(writer http.ResponseWriter, request *http.Request) {
	var input CreateInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	template, err := handler.service.CreateTemplate(request.Context(), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Created(writer, template)
}

func (handler *Handler) updateTemplate(writer http.ResponseWriter, request *http.Request) {
	code := chi.URLParam(request, "code")

	var input UpdateInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	template, err := handler.service.UpdateTemplate(request.Context(), code, input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, template)
}

func (handler *Handler) deleteTemplate(writer http.ResponseWriter, request *http.Request) {
	code := chi.URLParam(request, "code")

	if err := handler.service.DeleteTemplate(request.Context(), code); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

func (handler *Handler) mostUsed(writer http.ResponseWriter, request *http.Request) {
	limit := convert.ToIntD(request.URL.Query().Get("limit"), 10)

	templates, err := handler.service.MostUsed(request.Context(), limit)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, templates)
}

func (handler *Handler) pendingAnalysis(writer http.ResponseWriter, request *http.Request) {
	limit := convert.ToIntD(request.URL.Query().Get("limit"), 50)

	templates, err := handler.service.PendingAnalysis(request.Context(), limit)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, templates)
}
