package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterNotifyRoutes 注册通知服务路由
func (r *Router) RegisterNotifyRoutes(
	messages *MessageHandler,
	rules *RuleHandler,
	templates *TemplateHandler,
	events *EventHandler,
) {
	// messages
	r.Handle("/notify/api/v1/messages", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		messages.ListMessages(w, req)
	})

	r.Handle("/notify/api/v1/messages/stats", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		messages.GetStats(w, req)
	})

	r.Handle("/notify/api/v1/messages/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(req.URL.Path, "/notify/api/v1/messages/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		messages.GetMessage(w, req, id)
	})

	// rules
	r.Handle("/notify/api/v1/rules", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rules.ListRules(w, req)
	})

	r.Handle("/notify/api/v1/rules/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		eventType := strings.TrimPrefix(req.URL.Path, "/notify/api/v1/rules/")
		if eventType == "" || strings.Contains(eventType, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		rules.UpsertRule(w, req, eventType)
	})

	// templates
	r.Handle("/notify/api/v1/templates", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			templates.ListTemplates(w, req)
		case http.MethodPost:
			templates.CreateTemplate(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	r.Handle("/notify/api/v1/templates/", func(w http.ResponseWriter, req *http.Request) {
		id := strings.TrimPrefix(req.URL.Path, "/notify/api/v1/templates/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch req.Method {
		case http.MethodPut:
			templates.UpdateTemplate(w, req, id)
		case http.MethodDelete:
			templates.DeleteTemplate(w, req, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	// events
	r.Handle("/notify/api/v1/events", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		events.PublishEvent(w, req)
	})
}

// RegisterStockRoutes 注册库存路由
func (r *Router) RegisterStockRoutes(stock *StockHandler, export *ExportHandler) {
	r.Handle("/notify/api/v1/stock/medicines", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		stock.ListMedicines(w, req)
	})

	r.Handle("/notify/api/v1/stock/adjust", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		stock.AdjustStock(w, req)
	})

	r.Handle("/notify/api/v1/stock/low", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		stock.ListLowStock(w, req)
	})

	r.Handle("/notify/api/v1/stock/expiring", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		stock.ListExpiring(w, req)
	})

	r.Handle("/notify/api/v1/stock/export", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		export.ExportInventory(w, req)
	})

	// /notify/api/v1/stock/{medicineID}/movements
	r.Handle("/notify/api/v1/stock/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(req.URL.Path, "/notify/api/v1/stock/")
		parts := strings.Split(rest, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] != "movements" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		stock.ListMovements(w, req, parts[0])
	})
}

// RegisterHealthRoute 注册健康检查路由
func (r *Router) RegisterHealthRoute() {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
