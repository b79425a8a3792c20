package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperflash/pkg/dex"
	"github.com/uhyunpark/hyperflash/pkg/order"
	"github.com/uhyunpark/hyperflash/pkg/router"
	"github.com/uhyunpark/hyperflash/pkg/settlement"
	"github.com/uhyunpark/hyperflash/pkg/worker"
)

func TestOrderPipelineOverHTTP(t *testing.T) {
	e := newEnv(t)

	resp := postOrder(t, e.srv.URL, `{"assetIn":"SOL","assetOut":"USDC","quantity":100}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created SubmitOrderResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	conn := e.dial(t, created.OrderID)

	exe := worker.NewExecution(worker.ExecutionConfig{
		Store:    e.store,
		Quotes:   router.New(dex.DefaultMocks(0, 0)),
		Executor: settlement.NewSimulator(settlement.Config{}),
		Events:   e.bus,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.NewPool(e.queue, exe, 2, nil, nil).Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	var got []order.State
	var last order.StatusEvent
	for len(got) == 0 || !got[len(got)-1].IsTerminal() {
		last = readEvent(t, conn)
		require.Equal(t, created.OrderID, last.OrderID)
		got = append(got, last.State)
	}
	require.Equal(t, []order.State{
		order.StateRouting, order.StateBuilding, order.StateSubmitted, order.StateConfirmed,
	}, got)
	require.NotNil(t, last.Price)
	require.Contains(t, []string{"Raydium", "Meteora"}, last.Source)
	require.Regexp(t, "^0x[0-9a-f]{64}$", last.SettlementRef)

	poll, err := http.Get(e.srv.URL + "/api/orders/" + created.OrderID)
	require.NoError(t, err)
	defer poll.Body.Close()
	var info OrderInfo
	require.NoError(t, json.NewDecoder(poll.Body).Decode(&info))
	require.Equal(t, "CONFIRMED", info.Status)
	require.Equal(t, last.SettlementRef, info.SettlementReference)
	require.True(t, info.ExecutionPrice.Equal(*last.Price))

	require.Eventually(t, func() bool { return e.queue.Len() == 0 }, time.Second, 5*time.Millisecond)
}
