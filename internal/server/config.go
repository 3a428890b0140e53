package server

import (
	"github.com/raysh454/cropscan/internal/app"
	"github.com/raysh454/cropscan/internal/logging"
)

type Config struct {
	// ListenAddr is the HTTP listen address for the local API.
	ListenAddr string

	Logger logging.Logger

	// Application supplies the store, coordinator and diagnosis client.
	// It must already be constructed; the server does not start it.
	Application *app.Application
}
