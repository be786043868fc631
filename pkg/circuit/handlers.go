package circuit

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flowgate/pkg/apierrors"
	"github.com/platinummonkey/flowgate/pkg/httputil"
)

// Handlers serves the circuit admin endpoints
type Handlers struct {
	breaker *Breaker
}

// NewHandlers creates circuit admin handlers
func NewHandlers(b *Breaker) *Handlers {
	return &Handlers{breaker: b}
}

// RegisterRoutes registers the admin routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/_internal/circuits", h.list).Methods(http.MethodGet)
	router.HandleFunc("/_internal/circuits/{class:.+}/reset", h.reset).Methods(http.MethodPost)
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.breaker.List(r.Context())
	if err != nil {
		apierrors.WriteError(w, r, apierrors.Wrap(apierrors.KindServiceUnavailable, err, "circuit store unavailable"))
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"circuits": statuses})
}

// reset accepts the class without its leading slash, e.g. api/v1/chat
func (h *Handlers) reset(w http.ResponseWriter, r *http.Request) {
	class := httputil.PathParam(r, "class")
	if class != DefaultClass && !strings.HasPrefix(class, "/") {
		class = "/" + class
	}
	if _, ok := h.breaker.Table().Classes[class]; !ok && class != DefaultClass {
		apierrors.WriteError(w, r, apierrors.NotFound("unknown circuit class "+class))
		return
	}

	if err := h.breaker.Reset(r.Context(), class); err != nil {
		apierrors.WriteError(w, r, apierrors.Wrap(apierrors.KindServiceUnavailable, err, "circuit store unavailable"))
		return
	}
	httputil.WriteSuccess(w, map[string]string{"class": class, "state": StateClosed.String()})
}
