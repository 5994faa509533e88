// Package relay forwards staged vault calls to the host runtime that
// executes staking and token operations. Outcomes flow back through the
// vault_completeCall RPC method; the client itself is fire-and-forget.
package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"sudovault/native/vault"
)

const defaultTimeout = 10 * time.Second

type payload struct {
	Call         string        `json:"call"`
	Kind         string        `json:"kind"`
	Validator    string        `json:"validator,omitempty"`
	Validators   []string      `json:"validators,omitempty"`
	Instructions []instruction `json:"instructions,omitempty"`
	Token        string        `json:"token,omitempty"`
	Receiver     string        `json:"receiver,omitempty"`
	Amount       string        `json:"amount,omitempty"`
	Memo         string        `json:"memo,omitempty"`
}

type instruction struct {
	Validator string `json:"validator"`
	Amount    string `json:"amount"`
	Full      bool   `json:"full"`
}

// Client posts staged calls to the relayer endpoint. It implements both
// vault.StakingPool and vault.TokenTransfer.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
	log       *slog.Logger
}

func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: strings.TrimSpace(authToken),
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: slog.Default().With("component", "relay"),
	}
}

// SetHTTPClient overrides the underlying transport. Primarily for tests.
func (c *Client) SetHTTPClient(h *http.Client) {
	if h != nil {
		c.http = h
	}
}

func (c *Client) DepositAndStake(call vault.CallID, validator vault.AccountID, amount *big.Int) {
	c.post(payload{
		Call:      string(call),
		Kind:      vault.CallDelegate.String(),
		Validator: string(validator),
		Amount:    amount.String(),
	})
}

func (c *Client) Unstake(call vault.CallID, validator vault.AccountID, amount *big.Int) {
	c.post(payload{
		Call:      string(call),
		Kind:      vault.CallUndelegateUnstake.String(),
		Validator: string(validator),
		Amount:    amount.String(),
	})
}

func (c *Client) WithdrawAll(call vault.CallID, validator vault.AccountID) {
	c.post(payload{
		Call:      string(call),
		Kind:      vault.CallClaimUnstaked.String(),
		Validator: string(validator),
	})
}

func (c *Client) BatchWithdrawAll(call vault.CallID, validators []vault.AccountID) {
	c.post(payload{
		Call:       string(call),
		Kind:       vault.CallBatchClaimUnstaked.String(),
		Validators: accountStrings(validators),
	})
}

func (c *Client) BatchStakedBalance(call vault.CallID, validators []vault.AccountID) {
	c.post(payload{
		Call:       string(call),
		Kind:       vault.CallLiquidationBalances.String(),
		Validators: accountStrings(validators),
	})
}

func (c *Client) BatchUnstake(call vault.CallID, instructions []vault.UnstakeInstruction) {
	out := make([]instruction, 0, len(instructions))
	for _, inst := range instructions {
		out = append(out, instruction{
			Validator: string(inst.Validator),
			Amount:    inst.Amount.String(),
			Full:      inst.Full,
		})
	}
	c.post(payload{
		Call:         string(call),
		Kind:         vault.CallBatchUnstake.String(),
		Instructions: out,
	})
}

func (c *Client) Transfer(call vault.CallID, token vault.AccountID, receiver vault.AccountID, amount *big.Int, memo string) {
	c.post(payload{
		Call:     string(call),
		Kind:     "transfer",
		Token:    string(token),
		Receiver: string(receiver),
		Amount:   amount.String(),
		Memo:     memo,
	})
}

// post hands the call to the relayer. Delivery failures are logged, not
// returned: the staged intent stays in state and operators replay it once
// the relayer is reachable again.
func (c *Client) post(p payload) {
	body, err := json.Marshal(p)
	if err != nil {
		c.log.Error("encode relay payload", "call", p.Call, "err", err)
		return
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/calls", bytes.NewReader(body))
	if err != nil {
		c.log.Error("build relay request", "call", p.Call, "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("deliver relay call", "call", p.Call, "kind", p.Kind, "err", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		c.log.Error("relay rejected call", "call", p.Call, "kind", p.Kind,
			"status", fmt.Sprintf("%d", resp.StatusCode))
	}
}

func accountStrings(in []vault.AccountID) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		out = append(out, string(a))
	}
	return out
}
