package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/marketplace/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
)

// purchase оформляет покупку: 201 и по заказу на каждого продавца.
// С заголовком Idempotency-Key повтор получает сохранённый ответ без повторного списания.
func (a *API) purchase(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req fulfillment.PurchaseRequest
	if err := decodeJSON(body, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := resolvePurchaser(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	operation := "purchase:" + strconv.Itoa(req.ConsumerID)
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	resp, replayed, err := a.guard.Do(key, operation, body, func() idempotency.Response {
		orders, err := a.purchases.Purchase(r.Context(), req)
		if err != nil {
			status, payload := errorPayload(err)
			if status == http.StatusInternalServerError {
				a.logger.WithError(err).WithField("consumer_id", req.ConsumerID).Error("Purchase failed")
			}
			return encodeResponse(status, payload)
		}
		return encodeResponse(http.StatusCreated, orders)
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if replayed {
		a.metrics.RecordReplay()
		w.Header().Set(headerReplayed, "true")
	}
	writeRaw(w, resp.Status, resp.Body)
}

// resolvePurchaser берёт покупателя из тела, а при его отсутствии из X-User-Id.
func resolvePurchaser(r *http.Request, req *fulfillment.PurchaseRequest) error {
	if strings.TrimSpace(r.Header.Get(headerUserID)) == "" {
		return nil
	}
	actor, err := actorID(r)
	if err != nil {
		return err
	}
	switch req.ConsumerID {
	case 0:
		req.ConsumerID = actor
	case actor:
	default:
		return badRequest("consumerId does not match " + headerUserID + " header")
	}
	return nil
}

func encodeResponse(status int, v any) idempotency.Response {
	body, err := json.Marshal(v)
	if err != nil {
		body, _ = json.Marshal(errorBody{Error: "internal error"})
		status = http.StatusInternalServerError
	}
	return idempotency.Response{Status: status, Body: body}
}

func (a *API) listOrders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.catalog.ListOrders())
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	order, err := a.catalog.GetOrder(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) consumerOrders(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	summaries, err := a.catalog.ConsumerOrders(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (a *API) sellerOrders(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	orders, err := a.catalog.SellerOrders(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}
