package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// userResponse — пользователь без пароля.
type userResponse struct {
	Type                   domain.UserType      `json:"type"`
	ID                     int                  `json:"id"`
	Name                   string               `json:"name"`
	Email                  string               `json:"email"`
	CPF                    string               `json:"cpf,omitempty"`
	Address                string               `json:"address"`
	PreferredPaymentMethod domain.PaymentMethod `json:"preferredPaymentMethod,omitempty"`
	Cart                   map[int]int          `json:"cart,omitempty"`
	WalletBalance          *domain.Money        `json:"walletBalance,omitempty"`
	Inventory              map[int]int          `json:"inventory,omitempty"`
}

func newUserResponse(u domain.User) userResponse {
	account := u.Account()
	resp := userResponse{
		Type:    u.Type(),
		ID:      account.ID,
		Name:    account.Name,
		Email:   account.Email,
		CPF:     account.CPF,
		Address: account.Address,
	}
	if c, ok := u.AsConsumer(); ok {
		resp.PreferredPaymentMethod = c.PreferredPaymentMethod
		resp.Cart = c.Cart
	}
	if s, ok := u.AsSeller(); ok {
		balance := s.WalletBalance
		resp.WalletBalance = &balance
		resp.Inventory = s.Inventory
	}
	return resp
}

// registerRequest — поля, которые клиент задаёт при регистрации.
// Баланс, инвентарь и корзину выставляет сервер.
type registerRequest struct {
	Type                   domain.UserType      `json:"type"`
	Name                   string               `json:"name"`
	Email                  string               `json:"email"`
	CPF                    string               `json:"cpf"`
	Password               string               `json:"password"`
	Address                string               `json:"address"`
	PreferredPaymentMethod domain.PaymentMethod `json:"preferredPaymentMethod"`
}

func (req registerRequest) toUser() (domain.User, error) {
	account := domain.Account{
		Name:     req.Name,
		Email:    req.Email,
		CPF:      req.CPF,
		Password: req.Password,
		Address:  req.Address,
	}
	switch domain.UserType(strings.ToLower(string(req.Type))) {
	case domain.UserTypeConsumer:
		return domain.NewConsumerUser(domain.Consumer{
			Account:                account,
			PreferredPaymentMethod: req.PreferredPaymentMethod,
		}), nil
	case domain.UserTypeSeller:
		return domain.NewSellerUser(domain.Seller{Account: account}), nil
	default:
		return domain.User{}, fmt.Errorf("%w: %q", domain.ErrUnknownUserType, req.Type)
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) registerUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	user, err := req.toUser()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	registered, err := a.catalog.RegisterUser(user)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserResponse(registered))
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	user, err := a.catalog.Login(req.Email, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user))
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	user, err := a.catalog.GetUser(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user))
}

func (a *API) listUsers(w http.ResponseWriter, _ *http.Request) {
	users := a.catalog.ListUsers()
	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, newUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) getUserByEmail(w http.ResponseWriter, r *http.Request) {
	user, err := a.catalog.GetUserByEmail(chi.URLParam(r, "email"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user))
}
