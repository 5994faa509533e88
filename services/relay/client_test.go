package relay

import (
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"sudovault/native/vault"
)

func TestClientPostsStakingCalls(t *testing.T) {
	var got payload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/calls", r.URL.Path)
		auth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret")
	client.DepositAndStake("call-1", "alpha.pool.test", big.NewInt(500))

	require.Equal(t, "Bearer secret", auth)
	require.Equal(t, "call-1", got.Call)
	require.Equal(t, vault.CallDelegate.String(), got.Kind)
	require.Equal(t, "alpha.pool.test", got.Validator)
	require.Equal(t, "500", got.Amount)
}

func TestClientPostsBatchUnstake(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	client.BatchUnstake("call-2", []vault.UnstakeInstruction{
		{Validator: "alpha.pool.test", Amount: big.NewInt(400), Full: true},
		{Validator: "beta.pool.test", Amount: big.NewInt(200)},
	})

	require.Equal(t, vault.CallBatchUnstake.String(), got.Kind)
	require.Len(t, got.Instructions, 2)
	require.True(t, got.Instructions[0].Full)
	require.Equal(t, "200", got.Instructions[1].Amount)
}

func TestClientPostsTransfer(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	client.Transfer("call-3", "usdc.test", "lender.test", big.NewInt(1000), "loan repayment")

	require.Equal(t, "transfer", got.Kind)
	require.Equal(t, "usdc.test", got.Token)
	require.Equal(t, "lender.test", got.Receiver)
	require.Equal(t, "1000", got.Amount)
	require.Equal(t, "loan repayment", got.Memo)
}

func TestClientDeliversThroughTracedTransport(t *testing.T) {
	client := NewClient("http://relayer.test", "")
	_, ok := client.http.Transport.(*otelhttp.Transport)
	require.True(t, ok)
}

func TestClientSurvivesUnreachableRelayer(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "")
	require.NotPanics(t, func() {
		client.WithdrawAll("call-4", "alpha.pool.test")
	})
}
