package order

import (
	"reviewhub/pkg/server"

	"go.uber.org/fx"
)

// Module serves the client order and admin oversight APIs. Tables are owned
// and migrated by the review module.
var Module = fx.Module("order.service",
	fx.Provide(NewService, NewHandler),
	fx.Invoke(func(api *server.API, h *Handler) {
		h.Register(api)
	}),
)
