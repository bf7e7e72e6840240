package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"conversation-log/internal/domain"
	"conversation-log/internal/repository"
)

const correlationHeader = "X-Correlation-Id"

const (
	errorInternal         = "INTERNAL"
	errorRouteNotFound    = "ROUTE_NOT_FOUND"
	errorMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// Store is the part of the conversation store the handler serves.
type Store interface {
	CreateConversation(ctx context.Context, in repository.CreateInput) (domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	UpdateMetadata(ctx context.Context, id string, in repository.MetadataUpdate) (domain.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	AppendMessages(ctx context.Context, conversationID string, msgs []repository.NewMessage) ([]domain.ConversationMessage, error)
	ListMessages(ctx context.Context, conversationID string, opts repository.ListOptions) (repository.MessagePage, error)
	GetMessage(ctx context.Context, conversationID string, seq int64) (domain.ConversationMessage, error)
}

type Handler struct {
	store Store
	log   *slog.Logger
}

func NewHandler(store Store) (*Handler, error) {
	if store == nil {
		return nil, errors.New("handler: store must not be nil")
	}
	return &Handler{store: store, log: slog.Default()}, nil
}

// WithLogger replaces the handler's base logger.
func (h *Handler) WithLogger(l *slog.Logger) *Handler {
	if l != nil {
		h.log = l
	}
	return h
}

type createRequest struct {
	Title      string            `json:"title"`
	ModelID    string            `json:"modelId"`
	Tags       []string          `json:"tags"`
	CustomData map[string]string `json:"customData"`
	ExpiresAt  *time.Time        `json:"expiresAt"`
}

type updateRequest struct {
	Title      *string            `json:"title"`
	ModelID    *string            `json:"modelId"`
	Tags       *[]string          `json:"tags"`
	CustomData *map[string]string `json:"customData"`
}

type messageRequest struct {
	Role       domain.Role           `json:"role"`
	Content    []domain.ContentBlock `json:"content"`
	TokenUsage *domain.TokenUsage    `json:"tokenUsage"`
}

type appendRequest struct {
	Messages []messageRequest `json:"messages"`
}

type appendResponse struct {
	Messages []domain.ConversationMessage `json:"messages"`
}

type pageResponse struct {
	Messages []domain.ConversationMessage `json:"messages"`
	HasMore  bool                         `json:"hasMore"`
	Cursor   string                       `json:"cursor,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Deleted *int   `json:"deleted,omitempty"`
}

// Handle routes an API Gateway proxy request to the store. Store errors are
// rendered as JSON error bodies; the returned error is always nil.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	cid := header(req.Headers, correlationHeader)
	if cid == "" {
		cid = uuid.NewString()
	}
	log := h.log.With("correlation_id", cid, "method", req.HTTPMethod, "path", req.Path)

	status, body := h.route(ctx, req)
	if e, ok := body.(errorResponse); ok {
		if status >= http.StatusInternalServerError {
			log.Error("request failed", "status", status, "code", e.Error, "message", e.Message)
		} else {
			log.Info("request rejected", "status", status, "code", e.Error)
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		log.Error("failed to encode response", "err", err)
		status = http.StatusInternalServerError
		payload = []byte(`{"error":"` + errorInternal + `"}`)
	}
	headers := map[string]string{
		"Content-Type":    "application/json",
		correlationHeader: cid,
	}
	if status == http.StatusNoContent {
		payload = nil
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(payload)}, nil
}

// routePath returns the request path relative to the API. Resource is the
// matched template ("/conversations/{id}") and never carries the stage or a
// custom-domain base path, so its parameters are filled in from
// PathParameters. Path is only used when no Resource is present, as in direct
// invocations.
func routePath(req events.APIGatewayProxyRequest) string {
	if req.Resource == "" {
		return req.Path
	}
	var b strings.Builder
	rest := req.Resource
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:open])
		b.WriteString(req.PathParameters[strings.TrimSuffix(rest[open+1:open+end], "+")])
		rest = rest[open+end+1:]
	}
}

func (h *Handler) route(ctx context.Context, req events.APIGatewayProxyRequest) (int, any) {
	parts := strings.Split(strings.Trim(routePath(req), "/"), "/")
	if len(parts) == 0 || parts[0] != "conversations" || len(parts) > 4 {
		return http.StatusNotFound, errorResponse{Error: errorRouteNotFound}
	}
	method := req.HTTPMethod
	switch len(parts) {
	case 1:
		if method == http.MethodPost {
			return h.create(ctx, req.Body)
		}
	case 2:
		id := parts[1]
		switch method {
		case http.MethodGet:
			return result(h.store.GetConversation(ctx, id))
		case http.MethodPatch:
			return h.update(ctx, id, req.Body)
		case http.MethodDelete:
			if err := h.store.DeleteConversation(ctx, id); err != nil {
				return errorStatus(err)
			}
			return http.StatusNoContent, nil
		}
	case 3:
		if parts[2] != "messages" {
			return http.StatusNotFound, errorResponse{Error: errorRouteNotFound}
		}
		switch method {
		case http.MethodPost:
			return h.appendMessages(ctx, parts[1], req.Body)
		case http.MethodGet:
			return h.list(ctx, parts[1], req.QueryStringParameters)
		}
	case 4:
		if parts[2] != "messages" {
			return http.StatusNotFound, errorResponse{Error: errorRouteNotFound}
		}
		if method == http.MethodGet {
			seq, err := strconv.ParseInt(parts[3], 10, 64)
			if err != nil {
				return badRequest("sequence number must be an integer")
			}
			return result(h.store.GetMessage(ctx, parts[1], seq))
		}
	}
	return http.StatusMethodNotAllowed, errorResponse{Error: errorMethodNotAllowed}
}

func (h *Handler) create(ctx context.Context, body string) (int, any) {
	var in createRequest
	if err := decode(body, &in); err != nil {
		return badRequest(err.Error())
	}
	conv, err := h.store.CreateConversation(ctx, repository.CreateInput{
		Metadata: domain.Metadata{
			Title:      in.Title,
			ModelID:    in.ModelID,
			Tags:       in.Tags,
			CustomData: in.CustomData,
		},
		ExpiresAt: in.ExpiresAt,
	})
	if err != nil {
		return errorStatus(err)
	}
	return http.StatusCreated, conv
}

func (h *Handler) update(ctx context.Context, id, body string) (int, any) {
	var in updateRequest
	if err := decode(body, &in); err != nil {
		return badRequest(err.Error())
	}
	return result(h.store.UpdateMetadata(ctx, id, repository.MetadataUpdate(in)))
}

func (h *Handler) appendMessages(ctx context.Context, id, body string) (int, any) {
	var in appendRequest
	if err := decode(body, &in); err != nil {
		return badRequest(err.Error())
	}
	msgs := make([]repository.NewMessage, len(in.Messages))
	for i, m := range in.Messages {
		msgs[i] = repository.NewMessage(m)
	}
	out, err := h.store.AppendMessages(ctx, id, msgs)
	if err != nil {
		return errorStatus(err)
	}
	return http.StatusCreated, appendResponse{Messages: out}
}

func (h *Handler) list(ctx context.Context, id string, query map[string]string) (int, any) {
	opts := repository.ListOptions{Cursor: query["cursor"]}
	if s := query["limit"]; s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return badRequest("limit must be a non-negative integer")
		}
		opts.Limit = n
	}
	switch strings.ToLower(query["order"]) {
	case "", "asc":
	case "desc":
		opts.Descending = true
	default:
		return badRequest("order must be asc or desc")
	}
	page, err := h.store.ListMessages(ctx, id, opts)
	if err != nil {
		return errorStatus(err)
	}
	return http.StatusOK, pageResponse(page)
}

func decode(body string, v any) error {
	if strings.TrimSpace(body) == "" {
		body = "{}"
	}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func result(v any, err error) (int, any) {
	if err != nil {
		return errorStatus(err)
	}
	return http.StatusOK, v
}

func badRequest(msg string) (int, any) {
	return http.StatusBadRequest, errorResponse{Error: repository.CodeInvalidInput, Message: msg}
}

// errorStatus maps store errors onto HTTP statuses.
func errorStatus(err error) (int, any) {
	var e *repository.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, errorResponse{Error: errorInternal}
	}
	resp := errorResponse{Error: e.Code, Message: e.Message}
	switch {
	case e.Kind == repository.KindNotFound:
		return http.StatusNotFound, resp
	case e.Kind == repository.KindValidation:
		return http.StatusBadRequest, resp
	case repository.IsConflict(err):
		return http.StatusConflict, resp
	case e.Code == repository.CodePartialDelete:
		var partial *repository.PartialDeleteError
		if errors.As(err, &partial) {
			resp.Deleted = &partial.Deleted
		}
		return http.StatusInternalServerError, resp
	}
	return http.StatusBadGateway, resp
}

func header(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
