package handlers

import (
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Fantasim/hdvault/internal/config"
	"github.com/Fantasim/hdvault/internal/keystore"
	"github.com/Fantasim/hdvault/internal/models"
	"github.com/Fantasim/hdvault/internal/session"
)

// accountView is a derived account with hex-encoded key material.
type accountView struct {
	Chain          models.Chain `json:"chain"`
	AccountIndex   uint32       `json:"accountIndex"`
	DerivationPath string       `json:"derivationPath"`
	Address        string       `json:"address"`
	PublicKey      string       `json:"publicKey"`
}

func toAccountView(a models.DerivedAccount) accountView {
	return accountView{
		Chain:          a.Chain,
		AccountIndex:   a.AccountIndex,
		DerivationPath: a.DerivationPath,
		Address:        a.Address,
		PublicKey:      hex.EncodeToString(a.PublicKey),
	}
}

func toAccountViews(accounts []models.DerivedAccount) []accountView {
	out := make([]accountView, len(accounts))
	for i, a := range accounts {
		out[i] = toAccountView(a)
	}
	return out
}

type walletView struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	State     session.State `json:"state"`
	ExpiresAt *time.Time    `json:"expiresAt,omitempty"`
	Accounts  []accountView `json:"accounts"`
	CreatedAt time.Time     `json:"createdAt"`
}

type newWalletRequest struct {
	Name      string         `json:"name"`
	Password  string         `json:"password"`
	WordCount int            `json:"wordCount"`
	Mnemonic  string         `json:"mnemonic"`
	Chains    []models.Chain `json:"chains"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type deriveRequest struct {
	Chain        models.Chain `json:"chain"`
	AccountIndex uint32       `json:"accountIndex"`
	Payload      string       `json:"payload"` // hex; empty derives only
}

// ListWallets handles GET /api/wallets.
func ListWallets(svc *keystore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListWallets(r.Context())
		if err != nil {
			writeServiceError(w, "list wallets", err)
			return
		}

		views := make([]walletView, len(list))
		for i, ws := range list {
			views[i] = walletView{
				ID:        ws.ID,
				Name:      ws.Name,
				State:     ws.State,
				ExpiresAt: ws.ExpiresAt,
				Accounts:  toAccountViews(ws.Accounts),
				CreatedAt: ws.CreatedAt,
			}
		}

		slog.Debug("wallets listed", "count", len(views))
		writeJSON(w, http.StatusOK, models.APIResponse{Data: views})
	}
}

// CreateWallet handles POST /api/wallets. The response carries the new
// mnemonic; it is never retrievable again without the password.
func CreateWallet(svc *keystore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req newWalletRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, "create wallet", err)
			return
		}
		if req.Mnemonic != "" {
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "use /api/wallets/import to restore a phrase")
			return
		}

		res, err := svc.CreateWallet(r.Context(), keystore.CreateRequest{
			Name:      req.Name,
			Password:  req.Password,
			WordCount: req.WordCount,
			Chains:    req.Chains,
		})
		if err != nil {
			writeServiceError(w, "create wallet", err)
			return
		}
		defer res.Mnemonic.Wipe()

		writeJSON(w, http.StatusCreated, models.APIResponse{Data: map[string]interface{}{
			"walletId": res.WalletID,
			"mnemonic": res.Mnemonic.Phrase(),
			"accounts": toAccountViews(res.Accounts),
		}})
	}
}

// ImportWallet handles POST /api/wallets/import.
func ImportWallet(svc *keystore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req newWalletRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, "import wallet", err)
			return
		}

		res, err := svc.ImportWallet(r.Context(), keystore.ImportRequest{
			Name:     req.Name,
			Phrase:   req.Mnemonic,
			Password: req.Password,
			Chains:   req.Chains,
		})
		if err != nil {
			writeServiceError(w, "import wallet", err)
			return
		}

		writeJSON(w, http.StatusCreated, models.APIResponse{Data: map[string]interface{}{
			"walletId": res.WalletID,
			"accounts": toAccountViews(res.Accounts),
		}})
	}
}

// UnlockWallet handles POST /api/wallets/{id}/unlock.
func UnlockWallet(svc *keystore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req passwordRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, "unlock wallet", err)
			return
		}

		expires, err := svc.UnlockWallet(r.Context(), id, req.Password)
		if err != nil {
			writeServiceError(w, "unlock wallet", err)
			return
		}

		writeJSON(w, http.StatusOK, models.APIResponse{Data: map[string]interface{}{
			"walletId":  id,
			"state":     session.StateUnlocked,
			"expiresAt": expires,
		}})
	}
}

// LockWallet handles POST /api/wallets/{id}/lock. Locking is idempotent.
func LockWallet(svc *keystore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		svc.LockWallet(r.Context(), id)

		writeJSON(w, http.StatusOK, models.APIResponse{Data: map[string]interface{}{
			"walletId": id,
			"state":    session.StateLocked,
		}})
	}
}

// DeriveOrSign handles POST /api/wallets/{id}/derive. A hex payload is signed
// with the derived key; without one only the account is returned.
func DeriveOrSign(svc *keystore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req deriveRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, "derive", err)
			return
		}

		var payload []byte
		if req.Payload != "" {
			p, err := decodeHex(req.Payload)
			if err != nil {
				writeServiceError(w, "sign", err)
				return
			}
			if len(p) == 0 {
				writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "payload must not be empty")
				return
			}
			payload = p
		}

		res, err := svc.DeriveOrSign(r.Context(), id, keystore.DeriveOrSignRequest{
			Chain:        req.Chain,
			AccountIndex: req.AccountIndex,
			Payload:      payload,
		})
		if err != nil {
			writeServiceError(w, "derive", err)
			return
		}

		data := map[string]interface{}{"account": toAccountView(res.Account)}
		if res.Signature != nil {
			data["signature"] = hex.EncodeToString(res.Signature.Signature)
		}
		writeJSON(w, http.StatusOK, models.APIResponse{Data: data})
	}
}

// ExportMnemonic handles POST /api/wallets/{id}/export.
func ExportMnemonic(svc *keystore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req passwordRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, "export mnemonic", err)
			return
		}

		m, err := svc.ExportMnemonic(r.Context(), id, req.Password)
		if err != nil {
			writeServiceError(w, "export mnemonic", err)
			return
		}
		defer m.Wipe()

		writeJSON(w, http.StatusOK, models.APIResponse{Data: map[string]interface{}{
			"walletId": id,
			"mnemonic": m.Phrase(),
		}})
	}
}

// ChangePassword handles POST /api/wallets/{id}/password.
func ChangePassword(svc *keystore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req changePasswordRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, "change password", err)
			return
		}

		if err := svc.ChangePassword(r.Context(), id, req.OldPassword, req.NewPassword); err != nil {
			writeServiceError(w, "change password", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteWallet handles DELETE /api/wallets/{id}.
func DeleteWallet(svc *keystore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := svc.DeleteWallet(r.Context(), id); err != nil {
			writeServiceError(w, "delete wallet", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// WalletAudit handles GET /api/wallets/{id}/audit?limit=N.
func WalletAudit(svc *keystore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		limit := 0
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		events, err := svc.AuditTrail(r.Context(), id, limit)
		if err != nil {
			writeServiceError(w, "audit trail", err)
			return
		}
		writeJSON(w, http.StatusOK, models.APIResponse{Data: events})
	}
}

// ListChains handles GET /api/chains.
func ListChains(svc *keystore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.APIResponse{Data: svc.SupportedChains()})
	}
}
