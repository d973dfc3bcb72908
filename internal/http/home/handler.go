// Package home serves the welcome message at the root path.
package home

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	applog "github.com/janisto/cicd-demo/internal/platform/logging"
)

// Message is the greeting returned by GET /.
const Message = "Welcome to Flask Application - CI/CD Demo"

const contentType = "text/plain; charset=utf-8"

// Output is the plain-text response. A []byte body is written verbatim by
// huma, so the Accept header never changes the payload.
type Output struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// Register wires the root route into the provided API.
func Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-home",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Welcome message",
		Tags:        []string{"home"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Welcome message",
				Content: map[string]*huma.MediaType{
					"text/plain": {Schema: &huma.Schema{Type: huma.TypeString, Examples: []any{Message}}},
				},
			},
		},
	}, getHandler)
}

func getHandler(ctx context.Context, _ *struct{}) (*Output, error) {
	applog.LogInfo(ctx, "home")
	return &Output{ContentType: contentType, Body: []byte(Message)}, nil
}
