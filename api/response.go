package api

import (
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/accounts/apperr"
	"github.com/jacentio/accounts/users"
)

type deleteResponse struct {
	Message   string `json:"message"`
	DeletedAt string `json:"deletedAt"`
}

type emailsResponse struct {
	Emails []users.Email `json:"emails"`
}

func baseHeaders() map[string]string {
	return map[string]string{
		"Content-Type":                 "application/json",
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Headers": "Content-Type,Authorization,If-Match",
		"Access-Control-Allow-Methods": "GET,PUT,DELETE,OPTIONS",
	}
}

func jsonResponse(status int, payload any, extra map[string]string) (events.APIGatewayProxyResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return events.APIGatewayProxyResponse{}, apperr.Internal(err)
	}
	headers := baseHeaders()
	for k, v := range extra {
		headers[k] = v
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       string(body),
	}, nil
}

func userResponse(u *users.User) (events.APIGatewayProxyResponse, error) {
	return jsonResponse(http.StatusOK, u, map[string]string{"ETag": etag(u.Version)})
}

func errorResponse(err error) events.APIGatewayProxyResponse {
	r := apperr.ToResponse(err)
	return events.APIGatewayProxyResponse{
		StatusCode: r.StatusCode,
		Headers:    baseHeaders(),
		Body:       string(r.Body),
	}
}
