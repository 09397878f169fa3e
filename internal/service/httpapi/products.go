package httpapi

import (
	"net/http"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type ownershipResponse struct {
	ProductID int  `json:"productId"`
	SellerID  int  `json:"sellerId"`
	Owned     bool `json:"owned"`
}

func (a *API) listProducts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.catalog.ListProducts())
}

func (a *API) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	product, err := a.catalog.GetProduct(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) sellerProducts(w http.ResponseWriter, r *http.Request) {
	sellerID, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	products, err := a.catalog.ListSellerProducts(sellerID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *API) createProduct(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var product domain.Product
	if err := readJSON(w, r, &product); err != nil {
		a.writeError(w, r, err)
		return
	}
	created, err := a.catalog.CreateProduct(actor, product)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) replaceProduct(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var product domain.Product
	if err := readJSON(w, r, &product); err != nil {
		a.writeError(w, r, err)
		return
	}
	replaced, err := a.catalog.ReplaceProduct(actor, id, product)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, replaced)
}

func (a *API) deleteProduct(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.catalog.DeleteProduct(actor, id); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) productOwnership(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	sellerID, err := pathID(r, "sellerId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	owned, err := a.catalog.IsOwnedBy(productID, sellerID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ownershipResponse{ProductID: productID, SellerID: sellerID, Owned: owned})
}
