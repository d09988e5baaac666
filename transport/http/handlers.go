package http

import (
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/otpwallet/core"
	"github.com/layer-3/otpwallet/ports"
	"github.com/layer-3/otpwallet/service"
)

// Handlers exposes one AuthFlow and its TransactionPipeline over HTTP
type Handlers struct {
	flow     *service.AuthFlow
	pipeline *service.TransactionPipeline
	store    ports.SessionStore

	// mu serializes flow mutations: the flow expects a single sequential owner
	mu sync.Mutex
}

// NewHandlers creates new handlers
func NewHandlers(flow *service.AuthFlow, pipeline *service.TransactionPipeline, store ports.SessionStore) *Handlers {
	return &Handlers{
		flow:     flow,
		pipeline: pipeline,
		store:    store,
	}
}

type errorBody struct {
	Kind    core.ErrorKind `json:"kind"`
	Message string         `json:"message"`
}

type stateResponse struct {
	State                    string     `json:"state"`
	Email                    string     `json:"email,omitempty"`
	CanResend                bool       `json:"can_resend,omitempty"`
	CooldownSecondsRemaining int        `json:"cooldown_seconds_remaining,omitempty"`
	Address                  string     `json:"address,omitempty"`
	Previous                 string     `json:"previous,omitempty"`
	Error                    *errorBody `json:"error,omitempty"`
}

func newStateResponse(state service.State) stateResponse {
	resp := stateResponse{State: state.Name()}
	switch st := state.(type) {
	case service.EnteringEmail:
		resp.Email = st.Email
	case service.AwaitingCode:
		resp.Email = st.Email
		resp.CanResend = st.CanResend
		resp.CooldownSecondsRemaining = st.CooldownSecondsRemaining
	case service.Authenticated:
		resp.Address = st.Address
	case service.Failed:
		resp.Previous = st.Previous.Name()
		resp.Error = &errorBody{Kind: st.Kind, Message: st.Message}
	}
	return resp
}

// reconcile drops an authenticated state whose session ended outside the flow
func (h *Handlers) reconcile(c *gin.Context) bool {
	if _, err := h.flow.Reconcile(c.Request.Context()); err != nil {
		writeError(c, err)
		return false
	}
	return true
}

// State returns the current auth state
func (h *Handlers) State(c *gin.Context) {
	h.mu.Lock()
	ok := h.reconcile(c)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newStateResponse(h.flow.State()))
}

// Watch streams auth state snapshots as server-sent events until the client goes away
func (h *Handlers) Watch(c *gin.Context) {
	states := h.flow.Watch(c.Request.Context())
	c.Stream(func(w io.Writer) bool {
		state, ok := <-states
		if !ok {
			return false
		}
		c.SSEvent("state", newStateResponse(state))
		return true
	})
}

// RequestCode sets the email and sends a one-time code to it
func (h *Handlers) RequestCode(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "kind": core.KindInvalidEmail})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.reconcile(c) {
		return
	}
	if err := h.flow.SetEmail(req.Email); err != nil {
		writeError(c, err)
		return
	}
	if err := h.flow.RequestCode(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStateResponse(h.flow.State()))
}

// Resend sends a new code once the cooldown is over
func (h *Handlers) Resend(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.flow.Resend(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStateResponse(h.flow.State()))
}

// SubmitCode verifies the code and returns the session token
func (h *Handlers) SubmitCode(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "kind": core.KindInvalidCode})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.flow.SubmitCode(c.Request.Context(), req.Code); err != nil {
		writeError(c, err)
		return
	}

	session, err := h.store.Read(c.Request.Context())
	if err != nil {
		writeError(c, core.WrapError(core.KindStoreFailed, "Could not read session", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":        newStateResponse(h.flow.State()),
		"access_token": session.IssuedToken,
		"token_type":   "Bearer",
	})
}

// Back abandons the pending code and returns to email entry
func (h *Handlers) Back(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.flow.GoBack(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStateResponse(h.flow.State()))
}

// Dismiss acknowledges a failure
func (h *Handlers) Dismiss(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.flow.Dismiss(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStateResponse(h.flow.State()))
}

// Logout ends the session
func (h *Handlers) Logout(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.flow.Logout(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Wallet returns the session wallet and its balance
func (h *Handlers) Wallet(c *gin.Context) {
	info, err := h.pipeline.WalletInfo(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	network := h.pipeline.Network()
	c.JSON(http.StatusOK, gin.H{
		"address":           info.Address,
		"address_short":     core.TruncateAddress(info.Address),
		"network":           info.Network,
		"network_display":   network.Display(),
		"chain_id":          info.ChainID,
		"balance_eth":       info.BalanceEth.String(),
		"balance_formatted": info.FormattedBalance(),
	})
}

// Fee returns the maximum fee of a plain transfer
func (h *Handlers) Fee(c *gin.Context) {
	fee, err := h.pipeline.EstimateFee(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"max_fee_eth": fee.String(),
		"gas_limit":   core.TransferGasLimit,
	})
}

// SubmitTransaction sends ETH from the session wallet
func (h *Handlers) SubmitTransaction(c *gin.Context) {
	var req struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "kind": core.KindInvalidAmount})
		return
	}

	result, err := h.pipeline.Submit(c.Request.Context(), req.To, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction_hash": result.TransactionHash,
		"hash_short":       result.TruncatedHash(),
		"explorer_url":     result.ExplorerURL,
	})
}

func writeError(c *gin.Context, err error) {
	if errors.Is(err, core.ErrSuperseded) {
		c.JSON(http.StatusConflict, gin.H{"error": "Request was superseded", "kind": core.KindInvalidState})
		return
	}

	var e *core.Error
	if !errors.As(err, &e) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	c.JSON(statusFor(e.Kind), gin.H{"error": e.Error(), "kind": e.Kind})
}

func statusFor(kind core.ErrorKind) int {
	switch kind {
	case core.KindInvalidAddress, core.KindInvalidAmount, core.KindInvalidCode,
		core.KindInvalidEmail, core.KindInsufficientBalance:
		return http.StatusBadRequest
	case core.KindNoWallet:
		return http.StatusUnauthorized
	case core.KindInvalidState, core.KindNoPendingVerification:
		return http.StatusConflict
	case core.KindInsufficientFunds, core.KindNonceConflict, core.KindGasEstimationFailed,
		core.KindTransactionFailed, core.KindNetworkFailed, core.KindIssuanceFailed,
		core.KindVerificationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
