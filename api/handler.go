// Package api serves the self-service profile endpoints behind API Gateway.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"

	"github.com/jacentio/accounts/apperr"
	"github.com/jacentio/accounts/logging"
	"github.com/jacentio/accounts/users"
)

const (
	pathMe       = "/users/me"
	pathMyEmails = "/users/me/emails"
)

// Repository is the user store used by the handlers.
type Repository interface {
	GetUserOrFail(ctx context.Context, userID string) (*users.User, error)
	UpdateUser(ctx context.Context, userID string, patch users.Patch, expectedVersion int64) (*users.User, error)
	SoftDeleteUser(ctx context.Context, userID string, expectedVersion int64) (*users.User, error)
	ListEmails(ctx context.Context, userID string) ([]users.Email, error)
}

// Publisher announces profile changes.
type Publisher interface {
	PublishUserUpdated(ctx context.Context, userID string, changedFields []string, correlationID string)
	PublishUserDeleted(ctx context.Context, userID, correlationID string)
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// Handler routes API Gateway proxy requests.
type Handler struct {
	repo      Repository
	publisher Publisher
	logger    *slog.Logger
	validate  *validator.Validate
}

// New creates a handler.
func New(repo Repository, publisher Publisher, opts ...Option) *Handler {
	h := &Handler{
		repo:      repo,
		publisher: publisher,
		logger:    slog.Default(),
		validate:  newValidator(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type route func(ctx context.Context, req events.APIGatewayProxyRequest, userID string) (events.APIGatewayProxyResponse, error)

// Handle is the Lambda entry. Failures are rendered into the response, so
// the returned error is always nil.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID := callerID(req)
	attrs := []any{
		"requestId", req.RequestContext.RequestID,
		"userId", userID,
		"method", req.HTTPMethod,
		"path", req.Path,
	}

	resp, err := logging.Scoped(ctx, h.logger, attrs, func(ctx context.Context) (events.APIGatewayProxyResponse, error) {
		logging.FromContext(ctx).InfoContext(ctx, "request started")
		if userID == "" {
			return events.APIGatewayProxyResponse{}, apperr.Unauthorized("User ID not found in token claims")
		}
		r, ok := h.route(req)
		if !ok {
			return events.APIGatewayProxyResponse{}, &apperr.Error{
				Kind:    apperr.KindNotFound,
				Message: "Route not found: " + req.HTTPMethod + " " + resourcePath(req),
			}
		}
		return r(ctx, req, userID)
	})
	if err != nil {
		return errorResponse(err), nil
	}
	return resp, nil
}

func (h *Handler) route(req events.APIGatewayProxyRequest) (route, bool) {
	switch resourcePath(req) {
	case pathMe:
		switch req.HTTPMethod {
		case http.MethodGet:
			return h.getMe, true
		case http.MethodPut:
			return h.updateMe, true
		case http.MethodDelete:
			return h.deleteMe, true
		}
	case pathMyEmails:
		if req.HTTPMethod == http.MethodGet {
			return h.listMyEmails, true
		}
	}
	return nil, false
}

func (h *Handler) getMe(ctx context.Context, _ events.APIGatewayProxyRequest, userID string) (events.APIGatewayProxyResponse, error) {
	user, err := h.repo.GetUserOrFail(ctx, userID)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return userResponse(user)
}

func (h *Handler) updateMe(ctx context.Context, req events.APIGatewayProxyRequest, userID string) (events.APIGatewayProxyResponse, error) {
	patch, err := h.decodePatch(req.Body)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	changed := patch.ChangedFields()
	logging.FromContext(ctx).InfoContext(ctx, "updating user profile", "fields", changed)

	current, err := h.repo.GetUserOrFail(ctx, userID)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	expected, err := expectedVersion(req.Headers, current.Version)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}

	updated, err := h.repo.UpdateUser(ctx, userID, patch, expected)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}

	h.publisher.PublishUserUpdated(ctx, userID, changed, req.RequestContext.RequestID)
	return userResponse(updated)
}

func (h *Handler) deleteMe(ctx context.Context, req events.APIGatewayProxyRequest, userID string) (events.APIGatewayProxyResponse, error) {
	logging.FromContext(ctx).InfoContext(ctx, "soft deleting user")

	current, err := h.repo.GetUserOrFail(ctx, userID)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	expected, err := expectedVersion(req.Headers, current.Version)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}

	deleted, err := h.repo.SoftDeleteUser(ctx, userID, expected)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}

	h.publisher.PublishUserDeleted(ctx, userID, req.RequestContext.RequestID)
	return jsonResponse(http.StatusOK, deleteResponse{
		Message:   "Account scheduled for deletion",
		DeletedAt: deleted.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil)
}

func (h *Handler) listMyEmails(ctx context.Context, _ events.APIGatewayProxyRequest, userID string) (events.APIGatewayProxyResponse, error) {
	if _, err := h.repo.GetUserOrFail(ctx, userID); err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	emails, err := h.repo.ListEmails(ctx, userID)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return jsonResponse(http.StatusOK, emailsResponse{Emails: emails}, nil)
}

// callerID returns the authorizer's subject claim.
func callerID(req events.APIGatewayProxyRequest) string {
	claims, ok := req.RequestContext.Authorizer["claims"].(map[string]any)
	if !ok {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}

func resourcePath(req events.APIGatewayProxyRequest) string {
	p := req.Resource
	if p == "" {
		p = req.Path
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
