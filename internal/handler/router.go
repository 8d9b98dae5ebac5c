package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/avoronin/dealermarket-system/internal/middleware"
	"github.com/avoronin/dealermarket-system/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware коммерческого сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		// Уведомления шлюза не аутентифицируются cookie: доверие
		// обеспечивает подпись тела.
		r.Post("/payments/callback", h.PaymentCallback)

		// Корзина доступна гостям, идентичность подхватывается при наличии.
		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Optional)

			r.Post("/orders", h.CreateOrder)
			r.Route("/orders/{orderID}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.Get("/history", h.GetStatusLog)
				r.Get("/preview", h.Preview)
				r.Post("/lines", h.AddLine)
				r.Put("/lines/{lineID}", h.UpdateLine)
				r.Delete("/lines/{lineID}", h.RemoveLine)
				r.Post("/checkout", h.Checkout)
				r.Post("/cancel", h.CancelOrder)

				r.With(h.authMiddleware.RequireKind(model.AccountKindAdmin)).
					Post("/production", h.AdvanceProduction)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/orders", h.ListOrders)
			r.Get("/balance", h.GetBalance)
			r.Get("/balance/transactions", h.GetBalanceTransactions)
			r.Post("/balance/topup", h.Topup)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.RequireKind(model.AccountKindAdmin))

			r.Post("/admin/accounts/{accountID}/credits", h.AddCredit)
			r.Post("/admin/accounts/{accountID}/adjustments", h.Adjust)
			r.Post("/admin/accounts/{accountID}/debits", h.Debit)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
